package hislip

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
)

// mockServer emulates the handshake and clear sequence of a HiSLIP
// device on a single listener, accepting exactly one sync and one
// async connection per session.
type mockServer struct {
	t         *testing.T
	ln        net.Listener
	sessionID uint16

	mu    sync.Mutex
	order []string
}

func (m *mockServer) record(event string) {
	m.mu.Lock()
	m.order = append(m.order, event)
	m.mu.Unlock()
}

func (m *mockServer) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func startMockServer(t *testing.T, sessionID uint16) (*mockServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockServer{t: t, ln: ln, sessionID: sessionID}
	go m.serve()
	return m, ln.Addr().String()
}

func (m *mockServer) serve() {
	sync_, err := m.ln.Accept()
	if err != nil {
		return
	}
	go m.serveSync(sync_)

	async, err := m.ln.Accept()
	if err != nil {
		return
	}
	m.serveAsync(sync_, async)
}

func (m *mockServer) serveSync(conn net.Conn) {
	defer conn.Close()
	f, err := readFrame(conn)
	if err != nil || f.msgType != msgInitialize {
		return
	}
	m.record("Initialize")
	_ = writeFrame(conn, frame{msgType: msgInitializeResponse, param: uint32(m.sessionID)})
	m.record("InitializeResponse")

	for {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		switch f.msgType {
		case msgData, msgDataEnd:
			if f.msgType == msgDataEnd {
				_ = writeFrame(conn, frame{msgType: msgDataEnd, param: f.param, payload: []byte("REPLY\n")})
			}
		case msgDeviceClearAcknowledge:
			// handled via serveAsync's clear sequence below, nothing to do here
		}
	}
}

func (m *mockServer) serveAsync(sync_, async net.Conn) {
	defer async.Close()
	f, err := readFrame(async)
	if err != nil || f.msgType != msgAsyncInitialize {
		return
	}
	m.record("AsyncInitialize")
	_ = writeFrame(async, frame{msgType: msgAsyncInitializeResponse})
	m.record("AsyncInitializeResponse")

	for {
		f, err := readFrame(async)
		if err != nil {
			return
		}
		switch f.msgType {
		case msgAsyncStatusQuery:
			_ = writeFrame(async, frame{msgType: msgAsyncStatusResponse, control: 0x42})
		case msgAsyncDeviceClear:
			_ = writeFrame(async, frame{msgType: msgAsyncDeviceClearAcknowledge})
			_ = writeFrame(sync_, frame{msgType: msgDeviceClearComplete, control: 0})
		}
	}
}

func TestHandshakeOrder(t *testing.T) {
	m, addr := startMockServer(t, 7)
	host, portStr, _ := net.SplitHostPort(addr)
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port %q: %v", portStr, err)
	}

	tr := New()
	desc := &resource.Descriptor{Host: host, Port: uint16(p), Device: "hislip0"}
	if err := tr.Open(context.Background(), desc, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	time.Sleep(20 * time.Millisecond)
	order := m.snapshot()
	want := []string{"Initialize", "InitializeResponse", "AsyncInitialize", "AsyncInitializeResponse"}
	if len(order) != len(want) {
		t.Fatalf("handshake messages = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handshake messages = %v, want %v", order, want)
		}
	}
	if tr.sessionID != 7 {
		t.Fatalf("sessionID = %d, want 7", tr.sessionID)
	}
}

func TestClearThenReadStatus(t *testing.T) {
	_, addr := startMockServer(t, 3)
	host, portStr, _ := net.SplitHostPort(addr)
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port %q: %v", portStr, err)
	}

	tr := New()
	desc := &resource.Descriptor{Host: host, Port: uint16(p), Device: "hislip0"}
	if err := tr.Open(context.Background(), desc, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if err := tr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if tr.msgID != 0 {
		t.Fatalf("msgID after Clear = %d, want 0", tr.msgID)
	}

	stb, err := tr.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus after Clear: %v", err)
	}
	if stb != 0x42 {
		t.Fatalf("status byte = 0x%02x, want 0x42", stb)
	}
}
