// Package acceptor owns the pre-bound listening socket inherited from
// the environment, spawns a connection handler per accepted
// connection, and performs SIGHUP-triggered graceful shutdown.
package acceptor

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sniproxy/internal/config"
	"sniproxy/internal/connhandler"
	"sniproxy/internal/logging"
)

// ListenerFromFD wraps the already-bound, already-listening TCP socket
// at fd. Its local address is queried to confirm it really is a TCP
// listener.
func ListenerFromFD(fd uintptr) (net.Listener, error) {
	file := os.NewFile(fd, "inherited-listener")
	if file == nil {
		return nil, errors.New("fd is not valid")
	}
	ln, err := net.FileListener(file)
	// net.FileListener dup()s the fd; the original descriptor is no
	// longer needed once it succeeds.
	_ = file.Close()
	if err != nil {
		return nil, err
	}
	if _, ok := ln.Addr().(*net.TCPAddr); !ok {
		_ = ln.Close()
		return nil, errors.New("fd is not a TCP listener")
	}
	return ln, nil
}

// Run accepts connections on ln until a SIGHUP arrives, spawning one
// connhandler.Handle goroutine per connection. On SIGHUP it stops
// accepting and waits up to cfg.ShutdownGrace for in-flight handlers
// to finish before returning; any still running past the grace period
// are abandoned.
func Run(ctx context.Context, ln net.Listener, cfg config.Config, logger *logging.Logger) {
	logger.Infof("listening on %s", ln.Addr())

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	go func() {
		select {
		case <-hangup:
			logger.Infof("got SIGHUP, shutting down")
		case <-ctx.Done():
		}
		cancelAccept()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	opts := connhandler.Options{
		BackendRoot:      cfg.BackendRoot,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if acceptCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Errorf("accept error: %v", err)
			continue
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			connhandler.Handle(acceptCtx, c, opts, logging.New("connection"))
		}(conn)
	}

	waitWithGrace(&wg, cfg.ShutdownGrace, logger)
}

// waitWithGrace waits for wg to drain, but gives up after grace and
// lets the process exit with any still-running handlers abandoned.
func waitWithGrace(wg *sync.WaitGroup, grace time.Duration, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logger.Infof("shutdown grace period elapsed, abandoning in-flight connections")
	}
}
