// Package serial implements the ASRL transport: a byte stream over a
// configured UART, framed the same way as the raw TCP socket transport
// (newline termination, timeout-bounded reads).
package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/visa"
)

// Parity selects the UART parity mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// Config is the UART configuration applied at Open. Defaults are
// 9600-8-N-1 with no flow control; callers (the session layer's
// attribute machinery) override fields before Open or via Reconfigure.
type Config struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   Parity
	RTSCTS   bool
}

// DefaultConfig is 9600 baud, 8 data bits, 1 stop bit, no parity, no
// flow control.
func DefaultConfig() Config {
	return Config{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: ParityNone}
}

// Transport is the ASRL transport. One instance owns exactly one open
// TTY; it is not safe for concurrent use by more than one goroutine at
// a time.
type Transport struct {
	mu     sync.Mutex
	port   *platformPort
	Config Config
}

// New constructs an unopened serial transport with DefaultConfig.
func New() *Transport { return &Transport{Config: DefaultConfig()} }

// Reconfigure changes the UART settings; it may be called before or
// after Open (a no-op before Open beyond recording cfg).
func (t *Transport) Reconfigure(cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Config = cfg
	if t.port == nil {
		return nil
	}
	return t.port.configure(cfg)
}

// Open resolves desc.ASRLPort to a platform device node, opens it, and
// applies t.Config (9600-8-N-1 unless Reconfigure was already called).
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := devicePath(desc.ASRLPort)
	port, err := openPlatformPort(path)
	if err != nil {
		return visa.NewError("serial.Open", visa.StatusResourceNotFound, err)
	}
	if err := port.configure(t.Config); err != nil {
		port.close()
		return visa.NewError("serial.Open", visa.StatusIO, err)
	}
	t.port = port
	return nil
}

// Close releases the underlying device handle.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.close()
	t.port = nil
	return err
}

// Write writes buf in full, blocking until every byte is accepted by
// the driver's output queue.
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return 0, visa.NewError("serial.Write", visa.StatusConnectionLost, nil)
	}
	total := 0
	for total < len(buf) {
		n, err := t.port.write(buf[total:])
		if err != nil {
			return total, visa.NewError("serial.Write", visa.StatusIO, err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// Read waits up to timeout for readable bytes, returning TermChar when
// the last byte read is '\n' and TermMaxCount when the buffer fills
// without one.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return 0, visa.TermNone, visa.NewError("serial.Read", visa.StatusConnectionLost, nil)
	}
	n, err := t.port.readTimeout(buf, timeout)
	if err != nil {
		return n, visa.TermNone, visa.NewError("serial.Read", visa.StatusTimeout, err)
	}
	if n == 0 {
		return 0, visa.TermNone, visa.NewError("serial.Read", visa.StatusTimeout, nil)
	}
	if buf[n-1] == '\n' {
		return n, visa.TermChar, nil
	}
	if n == len(buf) {
		return n, visa.TermMaxCount, nil
	}
	return n, visa.TermNone, nil
}

// ReadStatus sends SCPI "*STB?\n" and parses the numeric reply, same
// as the raw socket transport.
func (t *Transport) ReadStatus() (uint8, error) {
	if _, err := t.Write([]byte("*STB?\n")); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, _, err := t.Read(buf, 2*time.Second)
	if err != nil {
		return 0, err
	}
	var stb int
	if _, err := fmt.Sscanf(string(buf[:n]), "%d", &stb); err != nil {
		return 0, visa.NewError("serial.ReadStatus", visa.StatusIO, err)
	}
	return uint8(stb), nil
}

// Clear discards whatever the UART driver has queued in either
// direction, then sends SCPI "*CLS\n". The flush matters here in a way
// it doesn't for the socket transports: a UART has no concept of a
// message boundary, so bytes left over from a previous, abandoned
// exchange would otherwise be read back as part of the next one.
func (t *Transport) Clear() error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return visa.NewError("serial.Clear", visa.StatusConnectionLost, nil)
	}
	if err := port.flush(); err != nil {
		return visa.NewError("serial.Clear", visa.StatusIO, err)
	}
	_, err := t.Write([]byte("*CLS\n"))
	return err
}

var _ transport.Transport = (*Transport)(nil)
