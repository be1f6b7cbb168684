package usbtmc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sydrvxd/OpenVISA/visa"
)

// fakeBulkPipe stands in for the paired OUT/IN bulk endpoints a real
// gousb.Interface would hand back. Write decodes the DEV_DEP_MSG_IN
// request and queues a matching response for the next ReadContext,
// optionally corrupting the tag complement to exercise Read's bTag
// check.
type fakeBulkPipe struct {
	mu          sync.Mutex
	payload     []byte
	corruptTag  bool
	shortHeader bool
	queued      [][]byte
}

func (f *fakeBulkPipe) Write(p []byte) (int, error) {
	hdr, err := decodeBulkHeader(p[:bulkHeaderSize])
	if err != nil {
		return 0, err
	}
	if hdr.msgID != msgRequestDevDepMsgIn {
		return len(p), nil
	}
	tagInverse := ^hdr.tag
	if f.corruptTag {
		tagInverse ^= 0x01
	}
	resp := bulkHeader{
		// DEV_DEP_MSG_IN shares msgID value 2 with REQUEST_DEV_DEP_MSG_IN;
		// they're distinguished by which bulk pipe carries them, not by
		// a distinct wire value.
		msgID:        msgRequestDevDepMsgIn,
		tag:          hdr.tag,
		tagInverse:   tagInverse,
		transferSize: uint32(len(f.payload)),
		attributes:   0x01,
	}
	raw := resp.encode()
	if f.shortHeader {
		raw = raw[:bulkHeaderSize-1]
	} else {
		raw = append(raw, f.payload...)
		if pad := padTo4(len(f.payload)) - len(f.payload); pad > 0 {
			raw = append(raw, make([]byte, pad)...)
		}
	}
	f.mu.Lock()
	f.queued = append(f.queued, raw)
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeBulkPipe) ReadContext(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return 0, context.DeadlineExceeded
	}
	next := f.queued[0]
	f.queued = f.queued[1:]
	return copy(p, next), nil
}

// fakeControlPipe answers the USB488 class control requests Clear,
// ReadStatus, and probeCapabilities issue.
type fakeControlPipe struct {
	mu sync.Mutex

	initiateClearStatus uint8
	clearPolls          []byte // one byte per poll: statusPending or statusSuccess
	clearAux            []byte // aux byte (poll[1]) to pair with clearPolls
	pollIdx             int

	readStatusByte uint8

	capabilities []byte // 24-byte GET_CAPABILITIES response, nil to simulate failure
}

func (f *fakeControlPipe) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch request {
	case reqInitiateClear:
		data[0] = f.initiateClearStatus
		return 1, nil
	case reqCheckClearStatus:
		i := f.pollIdx
		if i >= len(f.clearPolls) {
			i = len(f.clearPolls) - 1
		}
		data[0] = f.clearPolls[i]
		if i < len(f.clearAux) {
			data[1] = f.clearAux[i]
		}
		f.pollIdx++
		return 2, nil
	case reqReadStatusByte:
		data[0] = statusSuccess
		data[len(data)-1] = f.readStatusByte
		return len(data), nil
	case reqGetCapabilities:
		if f.capabilities == nil {
			return 0, visa.NewError("fakeControlPipe", visa.StatusIO, nil)
		}
		copy(data, f.capabilities)
		return len(f.capabilities), nil
	}
	return 0, visa.NewError("fakeControlPipe", visa.StatusIO, nil)
}

func newTestTransport(bulk *fakeBulkPipe, ctrl *fakeControlPipe) *Transport {
	return &Transport{epOut: bulk, epIn: bulk, ctrl: ctrl, intfNumber: 0}
}

func TestReadRoundTrip(t *testing.T) {
	bulk := &fakeBulkPipe{payload: []byte("measurement done\n")}
	tr := newTestTransport(bulk, &fakeControlPipe{})

	buf := make([]byte, 64)
	n, term, err := tr.Read(buf, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "measurement done\n" {
		t.Fatalf("Read payload = %q, want %q", buf[:n], "measurement done\n")
	}
	if term != visa.TermChar {
		t.Fatalf("term status = %v, want TermChar (EOM set)", term)
	}
}

func TestReadTagMismatchFailsIO(t *testing.T) {
	bulk := &fakeBulkPipe{payload: []byte("garbled"), corruptTag: true}
	tr := newTestTransport(bulk, &fakeControlPipe{})

	buf := make([]byte, 64)
	_, _, err := tr.Read(buf, time.Second)
	if err == nil {
		t.Fatal("Read with corrupted tag complement succeeded, want error")
	}
	if got := visa.StatusOf(err); got != visa.StatusIO {
		t.Fatalf("status = %v, want StatusIO", got)
	}
}

func TestReadShortHeaderFailsIO(t *testing.T) {
	bulk := &fakeBulkPipe{payload: []byte("x"), shortHeader: true}
	tr := newTestTransport(bulk, &fakeControlPipe{})

	buf := make([]byte, 64)
	_, _, err := tr.Read(buf, time.Second)
	if got := visa.StatusOf(err); got != visa.StatusIO {
		t.Fatalf("status = %v, want StatusIO", got)
	}
}

func TestWriteReportsFullLength(t *testing.T) {
	bulk := &fakeBulkPipe{}
	tr := newTestTransport(bulk, &fakeControlPipe{})

	n, err := tr.Write([]byte("*IDN?\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("*IDN?\n") {
		t.Fatalf("Write n = %d, want %d", n, len("*IDN?\n"))
	}
}

func TestReadStatusReturnsFinalByte(t *testing.T) {
	tr := newTestTransport(&fakeBulkPipe{}, &fakeControlPipe{readStatusByte: 0x40})
	stb, err := tr.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if stb != 0x40 {
		t.Fatalf("status byte = 0x%02x, want 0x40", stb)
	}
}

func TestClearSucceedsImmediately(t *testing.T) {
	ctrl := &fakeControlPipe{
		initiateClearStatus: statusSuccess,
		clearPolls:          []byte{statusSuccess},
		clearAux:            []byte{0x00},
	}
	tr := newTestTransport(&fakeBulkPipe{}, ctrl)
	if err := tr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestClearDrainsOnAuxBitBeforeSuccess(t *testing.T) {
	bulk := &fakeBulkPipe{}
	// Queue a stray response the device had sitting in bulk-IN so the
	// drain performed while aux bit 0 is set has something to consume.
	bulk.queued = append(bulk.queued, make([]byte, bulkHeaderSize))
	ctrl := &fakeControlPipe{
		initiateClearStatus: statusSuccess,
		clearPolls:          []byte{statusPending, statusSuccess},
		clearAux:            []byte{0x01, 0x00},
	}
	tr := newTestTransport(bulk, ctrl)
	if err := tr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	bulk.mu.Lock()
	remaining := len(bulk.queued)
	bulk.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d stray bulk-IN responses left after Clear, want 0", remaining)
	}
}

func TestProbeCapabilitiesSetsBitsFromResponse(t *testing.T) {
	caps := make([]byte, 24)
	caps[0] = statusSuccess
	caps[4] = 0x04 // USB488 interface capability bit
	caps[5] = 0x04 // READ_STATUS_BYTE supported
	tr := &Transport{ctrl: &fakeControlPipe{capabilities: caps}}
	tr.probeCapabilities()
	if !tr.supportsUSB488 || !tr.supportsReadStatusByte {
		t.Fatalf("capabilities = %+v, want both set", tr)
	}
}

func TestProbeCapabilitiesClearsOnFailure(t *testing.T) {
	tr := &Transport{
		ctrl:                   &fakeControlPipe{capabilities: nil},
		supportsUSB488:         true,
		supportsReadStatusByte: true,
	}
	tr.probeCapabilities()
	if tr.supportsUSB488 || tr.supportsReadStatusByte {
		t.Fatalf("capabilities = %+v, want both cleared after failed probe", tr)
	}
}
