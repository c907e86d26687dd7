// Package backend resolves a canonical server name to a connected
// backend stream, per a simple filesystem convention: each served
// name is a directory containing a tls-socket Unix-domain socket and
// an optional send-proxy-v1 sentinel file.
package backend

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"sniproxy/internal/handshake"
	"sniproxy/internal/hostname"
)

const (
	tlsSocketName   = "tls-socket"
	sendProxyV1Name = "send-proxy-v1"
)

// Resolve dials the Unix-domain socket for name under root and, if
// the backend's directory requests it, writes a PROXY protocol v1
// header built from local/remote before returning the connection.
//
// Errors are classified as follows: a missing directory or
// socket, permission denial, or connection refusal are collectively
// "no such backend here right now" and map to unrecognized_name; any
// other failure (including every failure after a successful connect)
// is internal_error.
func Resolve(root, canonicalName string, local, remote net.Addr) (net.Conn, *handshake.AlertError) {
	name := hostname.LookupName(canonicalName)
	socketPath := filepath.Join(root, name, tlsSocketName)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		if isUnrecognizedBackend(err) {
			return nil, handshake.NewAlertError(handshake.UnrecognizedName)
		}
		return nil, handshake.NewAlertError(handshake.InternalError)
	}

	// After a successful connect, every failure is this proxy's fault,
	// not the client's.
	if _, statErr := os.Stat(filepath.Join(root, name, sendProxyV1Name)); statErr == nil {
		header, hdrErr := proxyV1Header(local, remote)
		if hdrErr != nil {
			conn.Close()
			return nil, handshake.NewAlertError(handshake.InternalError)
		}
		if _, writeErr := conn.Write(header); writeErr != nil {
			conn.Close()
			return nil, handshake.NewAlertError(handshake.InternalError)
		}
	}

	return conn, nil
}

func isUnrecognizedBackend(err error) bool {
	if os.IsNotExist(err) || os.IsPermission(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, os.ErrNotExist) || errors.Is(opErr.Err, os.ErrPermission) {
			return true
		}
		if opErr.Op == "dial" {
			return isConnRefused(opErr.Err)
		}
	}
	return isConnRefused(err)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// proxyV1Header builds the PROXY v1 preamble: "PROXY TCP4|TCP6
// <src-ip> <dst-ip> <src-port> <dst-port>\r\n", with src = remote (the
// real client) and dst = local (the proxy's listening endpoint).
func proxyV1Header(local, remote net.Addr) ([]byte, error) {
	remoteAddr, ok := remote.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("remote addr is not TCP: %T", remote)
	}
	localAddr, ok := local.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("local addr is not TCP: %T", local)
	}

	proto := "TCP4"
	if remoteAddr.IP.To4() == nil {
		proto = "TCP6"
	}

	line := fmt.Sprintf("PROXY %s %s %s %d %d\r\n",
		proto, remoteAddr.IP.String(), localAddr.IP.String(), remoteAddr.Port, localAddr.Port)
	return []byte(line), nil
}
