package serial

import (
	"testing"
	"time"

	"github.com/sydrvxd/OpenVISA/internal/serialport"
	"github.com/sydrvxd/OpenVISA/visa"
)

// newLoopbackPair opens a pseudoterminal and wires both ends into
// Transport values without going through Open/devicePath, so the
// framing and status logic can be exercised without a real UART.
func newLoopbackPair(t *testing.T) (*Transport, *Transport, func()) {
	t.Helper()
	master, slave, err := serialio.OpenPTY(nil, nil)
	if err != nil {
		t.Fatalf("OpenPTY: %v", err)
	}
	a := &Transport{Config: DefaultConfig(), port: &platformPort{p: master}}
	b := &Transport{Config: DefaultConfig(), port: &platformPort{p: slave}}
	return a, b, func() {
		master.Close()
		slave.Close()
	}
}

func TestWriteReadTermChar(t *testing.T) {
	a, b, closeFn := newLoopbackPair(t)
	defer closeFn()

	if _, err := a.Write([]byte("*IDN?\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, term, err := b.Read(buf, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "*IDN?\n" {
		t.Fatalf("read %q, want %q", buf[:n], "*IDN?\n")
	}
	if term != visa.TermChar {
		t.Fatalf("term = %v, want TermChar", term)
	}
}

func TestClearSendsCLS(t *testing.T) {
	a, b, closeFn := newLoopbackPair(t)
	defer closeFn()

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	buf := make([]byte, 16)
	n, _, err := b.Read(buf, time.Second)
	if err != nil {
		t.Fatalf("Read after Clear: %v", err)
	}
	if string(buf[:n]) != "*CLS\n" {
		t.Fatalf("read %q, want %q", buf[:n], "*CLS\n")
	}
}
