package vxi11

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
)

// mockLink is a minimal VXI-11 Core RPC server supporting exactly the
// procedures this transport issues, used to exercise Open/Write/Read
// against a loopback peer instead of a real instrument.
type mockLink struct {
	mu       sync.Mutex
	inbox    []byte // bytes delivered by the most recent DEVICE_WRITE(s)
	toReturn []byte // bytes the next DEVICE_READ(s) will return
}

func startMockLink(t *testing.T, m *mockLink) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func (m *mockLink) serve(conn net.Conn) {
	defer conn.Close()
	for {
		record, err := readRecord(conn)
		if err != nil {
			return
		}
		d := newXDRDecoder(record)
		xid, _ := d.uint32()
		_, _ = d.uint32() // msg type CALL
		_, _ = d.uint32() // rpcvers
		_, _ = d.uint32() // program
		_, _ = d.uint32() // version
		proc, _ := d.uint32()
		_, _ = d.uint32() // cred flavor
		_, _ = d.uint32() // cred len
		_, _ = d.uint32() // verf flavor
		_, _ = d.uint32() // verf len

		var e xdrEncoder
		e.uint32(xid)
		e.uint32(msgTypeReply)
		e.uint32(replyAccepted)
		e.uint32(0) // verf flavor
		e.uint32(0) // verf len
		e.uint32(acceptSuccess)

		switch proc {
		case procCreateLink:
			e.uint32(0)     // error
			e.uint32(42)    // linkID
			e.uint32(0)     // abortPort
			e.uint32(65536) // maxRecvSize
		case procDeviceWrite:
			_, _ = d.uint32() // linkID
			_, _ = d.uint32() // ioTimeout
			_, _ = d.uint32() // lockTimeout
			_, _ = d.uint32() // flags
			data, _ := d.opaque()
			m.mu.Lock()
			m.inbox = append(m.inbox, data...)
			m.mu.Unlock()
			e.uint32(0)                  // error
			e.uint32(uint32(len(data)))  // size written
		case procDeviceRead:
			_, _ = d.uint32() // linkID
			_, _ = d.uint32() // requestSize
			_, _ = d.uint32() // ioTimeout
			_, _ = d.uint32() // lockTimeout
			_, _ = d.uint32() // flags
			_, _ = d.uint32() // termChar
			m.mu.Lock()
			chunk := m.toReturn
			m.toReturn = nil
			m.mu.Unlock()
			e.uint32(0)              // error
			e.uint32(reasonEND)      // reason
			e.opaque(chunk)
		case procDeviceReadSTB:
			_, _ = d.uint32()
			_, _ = d.uint32()
			_, _ = d.uint32()
			_, _ = d.uint32()
			e.uint32(0)    // error
			e.uint32(0x42) // status byte
		case procDeviceClear:
			_, _ = d.uint32()
			e.uint32(0)
		case procDestroyLink:
			_, _ = d.uint32()
			e.uint32(0)
		default:
			return
		}
		if err := writeFragment(conn, e.bytes()); err != nil {
			return
		}
	}
}

func dialMock(t *testing.T, addr string) *Transport {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(addr)
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad mock port %q: %v", portStr, err)
	}
	port := uint16(p)

	restore := resolvePortFunc
	resolvePortFunc = func(ctx context.Context, h string, program, version uint32, timeout time.Duration) (uint16, error) {
		return port, nil
	}
	t.Cleanup(func() { resolvePortFunc = restore })

	tr := New()
	desc := &resource.Descriptor{Host: host, Device: "inst0"}
	if err := tr.Open(context.Background(), desc, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func TestRoundTrip(t *testing.T) {
	m := &mockLink{toReturn: []byte("MOCK,INSTRUMENT,1,0\n")}
	addr, closeFn := startMockLink(t, m)
	defer closeFn()

	tr := dialMock(t, addr)
	defer tr.Close()

	n, err := tr.Write([]byte("*IDN?\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("*IDN?\n") {
		t.Fatalf("write count = %d, want %d", n, len("*IDN?\n"))
	}

	buf := make([]byte, 64)
	rn, term, err := tr.Read(buf, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rn < 1 {
		t.Fatalf("read returned 0 bytes")
	}
	if term.ToStatus().String() != "VI_SUCCESS_TERM_CHAR" {
		t.Fatalf("term status = %v, want VI_SUCCESS_TERM_CHAR", term)
	}
}

func TestXIDMonotonic(t *testing.T) {
	m := &mockLink{toReturn: []byte("x")}
	addr, closeFn := startMockLink(t, m)
	defer closeFn()

	tr := dialMock(t, addr)
	defer tr.Close()

	first := tr.rpc.xid
	if _, err := tr.ReadStatus(); err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	second := tr.rpc.xid
	if second <= first {
		t.Fatalf("xid did not increase: %d -> %d", first, second)
	}
	if _, err := tr.ReadStatus(); err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	third := tr.rpc.xid
	if third <= second {
		t.Fatalf("xid did not increase: %d -> %d", second, third)
	}
}
