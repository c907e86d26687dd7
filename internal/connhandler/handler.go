// Package connhandler orchestrates a single accepted client
// connection: parse the ClientHello under a deadline, resolve the
// backend, replay the buffered handshake, then splice bidirectionally
// with independent half-close.
package connhandler

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"sniproxy/internal/backend"
	"sniproxy/internal/clienthello"
	"sniproxy/internal/handshake"
	"sniproxy/internal/logging"
)

const (
	tlsAlertContentType   = 0x15
	tlsLegacyVersionMajor = 0x03
	tlsLegacyVersionMinor = 0x03
	tlsAlertLevelFatal    = 0x02
)

// Options carries the per-connection knobs the handler needs from
// config.Config, kept narrow so this package does not import the
// config package directly.
type Options struct {
	BackendRoot      string
	HandshakeTimeout time.Duration
}

// Handle drives one accepted client connection to completion. It
// never panics and never returns an error: every failure path either
// sends a TLS alert and closes, or is logged and closed.
func Handle(ctx context.Context, conn net.Conn, opts Options, logger *logging.Logger) {
	defer conn.Close()

	local := conn.LocalAddr()
	remote := conn.RemoteAddr()

	deadline := time.Now().Add(opts.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)

	backendConn, replay, aerr := prepare(conn, opts, local, remote)
	_ = conn.SetReadDeadline(time.Time{})

	if aerr != nil {
		// Handshake-phase failures are not logged per-connection, to
		// avoid log amplification from scanners.
		// internal_error is the one kind that can originate after a
		// successful parse (a backend dial or I/O failure), and it is
		// worth the operator's attention.
		if aerr.Kind() == handshake.InternalError {
			logger.Error("internal error resolving backend", logging.Field{Key: "remote", Value: remote})
		}
		_ = sendAlert(conn, aerr.Code())
		return
	}
	defer backendConn.Close()

	if _, err := io.Copy(backendConn, replay); err != nil {
		logger.Error("failed to replay handshake to backend", logging.Field{Key: "remote", Value: remote})
		_ = sendAlert(conn, handshake.NewAlertError(handshake.InternalError).Code())
		return
	}

	splice(conn, backendConn)
}

// prepare runs the handshake-through-resolve phase: build a
// handshake.Reader over conn, parse the ClientHello, resolve the
// backend, and return both the backend connection and a reader over
// the accumulated handshake buffer ready to be replayed.
func prepare(conn net.Conn, opts Options, local, remote net.Addr) (net.Conn, io.Reader, *handshake.AlertError) {
	hr := handshake.New(conn)

	name, aerr := clienthello.ParseServerName(hr)
	if aerr != nil {
		return nil, nil, aerr
	}

	backendConn, aerr := backend.Resolve(opts.BackendRoot, name, local, remote)
	if aerr != nil {
		return nil, nil, aerr
	}

	var buf bytes.Buffer
	if _, err := hr.DrainInto(&buf); err != nil {
		backendConn.Close()
		return nil, nil, handshake.NewAlertError(handshake.InternalError)
	}

	return backendConn, &buf, nil
}

// splice runs the full-duplex copy loops: each direction terminates
// independently on EOF or error of its source,
// half-closing its destination so the peer observes a clean end.
// Errors during splice are swallowed — reporting them to the client
// would require the TLS encryption this proxy never has.
func splice(client, backendConn net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, _ = io.Copy(backendConn, client)
		closeWrite(backendConn)
		closeRead(client)
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(client, backendConn)
		closeWrite(client)
		closeRead(backendConn)
	}()

	wg.Wait()
}

func closeWrite(c net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := c.(writeCloser); ok {
		_ = wc.CloseWrite()
	}
}

func closeRead(c net.Conn) {
	type readCloser interface {
		CloseRead() error
	}
	if rc, ok := c.(readCloser); ok {
		_ = rc.CloseRead()
	}
}

// sendAlert writes the 7-byte TLS fatal alert record. Write failure is
// ignored: the client will discover the close on its own either way.
func sendAlert(conn net.Conn, code byte) error {
	frame := []byte{
		tlsAlertContentType,
		tlsLegacyVersionMajor, tlsLegacyVersionMinor,
		0x00, 0x02,
		tlsAlertLevelFatal,
		code,
	}
	_, err := conn.Write(frame)
	return err
}
