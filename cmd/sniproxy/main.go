// Command sniproxy is a TCP-level reverse proxy that dispatches
// incoming TLS connections to backends selected purely by the SNI of
// the client's ClientHello, without ever terminating TLS itself.
package main

import (
	"context"
	"os"

	"sniproxy/internal/acceptor"
	"sniproxy/internal/config"
	"sniproxy/internal/logging"
)

func main() {
	cfg, err := config.Load()
	logging.Setup(cfg.LogFormat)
	logger := logging.New("main")
	defer func() { _ = logging.Sync() }()

	if err != nil {
		logger.Errorf("configuration warnings: %v", err)
	}

	ln, lnErr := acceptor.ListenerFromFD(0)
	if lnErr != nil {
		logger.Errorf("fd 0 is not a usable listener: %v", lnErr)
		os.Exit(1)
	}

	acceptor.Run(context.Background(), ln, cfg, logger)
}
