// Package rawsocket implements the TCPIP::SOCKET transport: a plain
// newline-terminated byte stream over TCP, used by instruments that
// speak raw SCPI without VXI-11 or HiSLIP framing.
package rawsocket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/visa"
)

const defaultPort = 5025

// Transport is a raw TCP socket transport. It is safe to use from one
// goroutine at a time; the caller is responsible for serializing
// concurrent use of the same instance, matching native VISA semantics.
type Transport struct {
	mu   sync.Mutex
	conn net.Conn
}

// New constructs an unopened raw socket transport.
func New() *Transport { return &Transport{} }

// Open dials host:port (port defaults to 5025 when the descriptor
// carries 0) and enables TCP_NODELAY.
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := desc.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(desc.Host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: openTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return visa.NewError("rawsocket.Open", visa.StatusTimeout, err)
		}
		return visa.NewError("rawsocket.Open", visa.StatusResourceNotFound, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	t.conn = conn
	return nil
}

// Close tears the socket down and returns any error from closing it.
// Closing a transport that is not open is a no-op returning nil.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Write sends buf in a single blocking loop honoring no terminator
// beyond what the caller already appended (the formatted-I/O layer
// above this package appends the session's termination character).
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return 0, visa.NewError("rawsocket.Write", visa.StatusConnectionLost, nil)
	}
	total := 0
	for total < len(buf) {
		n, err := t.conn.Write(buf[total:])
		total += n
		if err != nil {
			return total, visa.NewError("rawsocket.Write", classify(err), err)
		}
	}
	return total, nil
}

// Read applies a receive-timeout deadline for the duration of one call
// and reports TermChar when the last byte read is a newline.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return 0, visa.TermNone, visa.NewError("rawsocket.Read", visa.StatusConnectionLost, nil)
	}
	if timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
		defer t.conn.SetReadDeadline(time.Time{})
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return n, visa.TermNone, visa.NewError("rawsocket.Read", visa.StatusTimeout, err)
		}
		return n, visa.TermNone, visa.NewError("rawsocket.Read", classify(err), err)
	}
	if n > 0 && buf[n-1] == '\n' {
		return n, visa.TermChar, nil
	}
	if n == len(buf) {
		return n, visa.TermMaxCount, nil
	}
	return n, visa.TermNone, nil
}

// ReadStatus sends the literal SCPI common command "*STB?\n" and parses
// the decimal reply.
func (t *Transport) ReadStatus() (uint8, error) {
	if _, err := t.Write([]byte("*STB?\n")); err != nil {
		return 0, err
	}
	buf := make([]byte, 32)
	n, _, err := t.Read(buf, 2*time.Second)
	if err != nil {
		return 0, err
	}
	var stb int
	if _, err := fmt.Sscanf(string(buf[:n]), "%d", &stb); err != nil {
		return 0, visa.NewError("rawsocket.ReadStatus", visa.StatusIO, err)
	}
	return uint8(stb), nil
}

// Clear sends the SCPI common command "*CLS\n".
func (t *Transport) Clear() error {
	_, err := t.Write([]byte("*CLS\n"))
	return err
}

func classify(err error) visa.Status {
	if err == nil {
		return visa.StatusSuccess
	}
	return visa.StatusConnectionLost
}
