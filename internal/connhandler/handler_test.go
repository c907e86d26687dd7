package connhandler

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sniproxy/internal/logging"
)

// buildClientHelloRecord assembles a single TLS record carrying a
// minimal ClientHello for host, framed as a single TLS record.
func buildClientHelloRecord(host string) []byte {
	var serverNameList bytes.Buffer
	serverNameList.WriteByte(0)
	serverNameList.Write([]byte{byte(len(host) >> 8), byte(len(host))})
	serverNameList.WriteString(host)

	var sniExt bytes.Buffer
	sniExt.Write([]byte{byte(serverNameList.Len() >> 8), byte(serverNameList.Len())})
	sniExt.Write(serverNameList.Bytes())

	var extensions bytes.Buffer
	extensions.Write([]byte{0x00, 0x00})
	extensions.Write([]byte{byte(sniExt.Len() >> 8), byte(sniExt.Len())})
	extensions.Write(sniExt.Bytes())

	var body bytes.Buffer
	body.Write([]byte{0x03, 0x03})
	body.Write(make([]byte, 32))
	body.WriteByte(0)
	body.Write([]byte{0x00, 0x02, 0x13, 0x01})
	body.Write([]byte{0x01, 0x00})
	body.Write([]byte{byte(extensions.Len() >> 8), byte(extensions.Len())})
	body.Write(extensions.Bytes())

	var msg bytes.Buffer
	msg.WriteByte(0x01)
	length := body.Len()
	msg.Write([]byte{byte(length >> 16), byte(length >> 8), byte(length)})
	msg.Write(body.Bytes())

	var record bytes.Buffer
	record.WriteByte(0x16)
	record.Write([]byte{0x03, 0x03})
	record.Write([]byte{byte(msg.Len() >> 8), byte(msg.Len())})
	record.Write(msg.Bytes())
	return record.Bytes()
}

func testLogger() *logging.Logger {
	return logging.New("connhandler-test")
}

// mustTCPAddr parses s into a *net.TCPAddr, since backend.Resolve's
// PROXY v1 header builder requires one: net.Pipe's own addresses are
// not TCP addresses, so tests must substitute real-looking ones.
func mustTCPAddr(t *testing.T, s string) *net.TCPAddr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		t.Fatalf("ResolveTCPAddr(%q): %v", s, err)
	}
	return addr
}

// addrConn wraps a net.Conn to override LocalAddr/RemoteAddr.
type addrConn struct {
	net.Conn
	local, remote net.Addr
}

func (c addrConn) LocalAddr() net.Addr  { return c.local }
func (c addrConn) RemoteAddr() net.Addr { return c.remote }

func newTestBackend(t *testing.T, root, name string, sendProxy bool) net.Listener {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if sendProxy {
		if err := os.WriteFile(filepath.Join(dir, "send-proxy-v1"), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	ln, err := net.Listen("unix", filepath.Join(dir, "tls-socket"))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return ln
}

func TestHandleHappyPathRelaysBufferedHandshakeThenSplices(t *testing.T) {
	root := t.TempDir()
	ln := newTestBackend(t, root, "app.example.com", false)
	defer ln.Close()

	backendReceived := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			backendReceived <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		backendReceived <- append([]byte(nil), buf[:n]...)
		// echo back so the client side observes something on splice.
		_, _ = conn.Write([]byte("ack"))
	}()

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 2 * time.Second}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	hello := buildClientHelloRecord("app.example.com")
	if _, err := clientSide.Write(hello); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got := <-backendReceived
	if !bytes.Equal(got, hello) {
		t.Fatalf("backend received %d bytes, want exactly the %d-byte ClientHello record replayed verbatim", len(got), len(hello))
	}

	reply := make([]byte, 3)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, reply); err != nil {
		t.Fatalf("reading spliced reply: %v", err)
	}
	if string(reply) != "ack" {
		t.Fatalf("reply = %q, want ack", reply)
	}

	clientSide.Close()
	<-done
}

func TestHandleSendsProxyV1HeaderBeforeReplay(t *testing.T) {
	root := t.TempDir()
	ln := newTestBackend(t, root, "proxied.example.com", true)
	defer ln.Close()

	backendReceived := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			backendReceived <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		backendReceived <- append([]byte(nil), buf[:n]...)
	}()

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 2 * time.Second}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	hello := buildClientHelloRecord("proxied.example.com")
	if _, err := clientSide.Write(hello); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got := <-backendReceived
	if !bytes.HasPrefix(got, []byte("PROXY ")) {
		t.Fatalf("expected PROXY v1 preamble to precede the replayed handshake, got %q", got[:min(len(got), 20)])
	}
	if !bytes.Contains(got, hello) {
		t.Fatalf("expected the replayed ClientHello record to follow the PROXY preamble")
	}

	clientSide.Close()
	<-done
}

func TestHandleUnknownNameSendsUnrecognizedNameAlert(t *testing.T) {
	root := t.TempDir() // no backend directories at all

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 2 * time.Second}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	hello := buildClientHelloRecord("nobody-serves-this.example.com")
	if _, err := clientSide.Write(hello); err != nil {
		t.Fatalf("client write: %v", err)
	}

	alert := make([]byte, 7)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, alert); err != nil {
		t.Fatalf("reading alert: %v", err)
	}
	want := []byte{0x15, 0x03, 0x03, 0x00, 0x02, 0x02, 112}
	if !bytes.Equal(alert, want) {
		t.Fatalf("alert = % x, want % x", alert, want)
	}

	clientSide.Close()
	<-done
}

func TestHandleTraversalAttemptSendsUnrecognizedNameAlert(t *testing.T) {
	root := t.TempDir()

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 2 * time.Second}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	hello := buildClientHelloRecord("../../etc/passwd")
	if _, err := clientSide.Write(hello); err != nil {
		t.Fatalf("client write: %v", err)
	}

	alert := make([]byte, 7)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, alert); err != nil {
		t.Fatalf("reading alert: %v", err)
	}
	if alert[6] != 112 {
		t.Fatalf("alert description = %d, want 112 (unrecognized_name)", alert[6])
	}

	clientSide.Close()
	<-done
}

func TestHandleFragmentedHandshakeStillResolves(t *testing.T) {
	root := t.TempDir()
	ln := newTestBackend(t, root, "fragmented.example.net", false)
	defer ln.Close()

	backendReceived := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			backendReceived <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		backendReceived <- append([]byte(nil), buf[:n]...)
	}()

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 2 * time.Second}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	hello := buildClientHelloRecord("fragmented.example.net")
	// Write byte-by-byte to exercise delivery split arbitrarily across
	// many small writes.
	go func() {
		for _, b := range hello {
			if _, err := clientSide.Write([]byte{b}); err != nil {
				return
			}
		}
	}()

	got := <-backendReceived
	if !bytes.Equal(got, hello) {
		t.Fatalf("backend received %d bytes, want the %d-byte ClientHello record reassembled whole", len(got), len(hello))
	}

	clientSide.Close()
	<-done
}

func TestHandleTimeoutClosesWithoutBackendDial(t *testing.T) {
	root := t.TempDir()

	clientSide, serverSide := net.Pipe()
	wrapped := addrConn{
		Conn:   serverSide,
		local:  mustTCPAddr(t, "10.0.0.1:443"),
		remote: mustTCPAddr(t, "203.0.113.9:4000"),
	}

	opts := Options{BackendRoot: root, HandshakeTimeout: 50 * time.Millisecond}
	done := make(chan struct{})
	go func() {
		Handle(context.Background(), wrapped, opts, testLogger())
		close(done)
	}()

	// Never send anything; the handshake read deadline should fire and
	// the client should receive a user_canceled alert. sendAlert's
	// Write blocks on net.Pipe until read, so read it concurrently with
	// waiting for Handle to return.
	alert := make([]byte, 7)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, alert); err != nil {
		t.Fatalf("reading alert: %v", err)
	}
	want := []byte{0x15, 0x03, 0x03, 0x00, 0x02, 0x02, 0x5A}
	if !bytes.Equal(alert, want) {
		t.Fatalf("alert = % x, want % x (user_canceled)", alert, want)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Handle did not return after the handshake timeout elapsed")
	}
	clientSide.Close()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
