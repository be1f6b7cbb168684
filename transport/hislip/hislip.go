// Package hislip implements the HiSLIP (High-Speed LAN Instrument
// Protocol, IVI-6.1) transport: a dual-TCP-channel binary protocol
// with 16-byte frame headers, a two-step session handshake, and a
// client-assigned message-ID discipline.
package hislip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/visa"
)

const (
	defaultPort = 4880

	protocolMajor = 1
	protocolMinor = 0
	vendorID      = 0x4441 // arbitrary vendor id ("DA"), this implementation is vendor-neutral

	defaultMaxMessageSize = 65536

	clearSequenceTimeout = 5 * time.Second
)

// Transport is the HiSLIP dual-channel transport. One instance owns
// exactly one sync connection and one async connection; it is not safe
// for concurrent use by more than one goroutine at a time.
type Transport struct {
	mu        sync.Mutex
	sync_     net.Conn
	async     net.Conn
	sessionID uint16
	msgID     uint32
	maxMsg    uint64
}

// New constructs an unopened HiSLIP transport.
func New() *Transport { return &Transport{maxMsg: defaultMaxMessageSize} }

// Open performs the five-step HiSLIP handshake: open sync,
// Initialize/InitializeResponse, open async,
// AsyncInitialize/AsyncInitializeResponse. Any failure closes both
// sockets and returns the originating error.
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := desc.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(desc.Host, fmt.Sprintf("%d", port))
	subAddress := desc.Device
	if subAddress == "" {
		subAddress = "hislip0"
	}

	dialer := net.Dialer{Timeout: openTimeout}
	syncConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return visa.NewError("hislip.Open", visa.StatusResourceNotFound, err)
	}

	param := uint32(protocolMajor)<<24 | uint32(protocolMinor)<<16 | uint32(vendorID)
	if err := writeFrame(syncConn, frame{msgType: msgInitialize, param: param, payload: []byte(subAddress)}); err != nil {
		syncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusConnectionLost, err)
	}

	_ = syncConn.SetReadDeadline(time.Now().Add(openTimeout))
	resp, err := readFrame(syncConn)
	syncConn.SetReadDeadline(time.Time{})
	if err != nil {
		syncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusIO, err)
	}
	if resp.msgType != msgInitializeResponse {
		syncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusIO, fmt.Errorf("expected InitializeResponse, got type %d", resp.msgType))
	}
	sessionID := uint16(resp.param & 0xFFFF)

	asyncConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		syncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusResourceNotFound, err)
	}

	if err := writeFrame(asyncConn, frame{msgType: msgAsyncInitialize, param: uint32(sessionID)}); err != nil {
		syncConn.Close()
		asyncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusConnectionLost, err)
	}
	_ = asyncConn.SetReadDeadline(time.Now().Add(openTimeout))
	aresp, err := readFrame(asyncConn)
	asyncConn.SetReadDeadline(time.Time{})
	if err != nil {
		syncConn.Close()
		asyncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusIO, err)
	}
	if aresp.msgType != msgAsyncInitializeResponse {
		syncConn.Close()
		asyncConn.Close()
		return visa.NewError("hislip.Open", visa.StatusIO, fmt.Errorf("expected AsyncInitializeResponse, got type %d", aresp.msgType))
	}

	t.sync_ = syncConn
	t.async = asyncConn
	t.sessionID = sessionID
	t.msgID = 0
	return nil
}

// Close tears down both channels best-effort.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.sync_ != nil {
		err = t.sync_.Close()
		t.sync_ = nil
	}
	if t.async != nil {
		if e := t.async.Close(); err == nil {
			err = e
		}
		t.async = nil
	}
	return err
}

// Write increments the message ID by 2 and fragments buf if it exceeds
// the fixed maximum message size (maxMsg; it is not negotiated with the
// peer), sending intermediate fragments as Data and
// the final fragment as DataEnd.
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sync_ == nil {
		return 0, visa.NewError("hislip.Write", visa.StatusConnectionLost, nil)
	}
	t.msgID += 2

	if len(buf) == 0 {
		if err := writeFrame(t.sync_, frame{msgType: msgDataEnd, param: t.msgID}); err != nil {
			return 0, visa.NewError("hislip.Write", visa.StatusConnectionLost, err)
		}
		return 0, nil
	}

	total := 0
	for total < len(buf) {
		end := total + int(t.maxMsg)
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[total:end]
		msgType := uint8(msgData)
		if end == len(buf) {
			msgType = msgDataEnd
		}
		if err := writeFrame(t.sync_, frame{msgType: msgType, param: t.msgID, payload: chunk}); err != nil {
			return total, visa.NewError("hislip.Write", visa.StatusConnectionLost, err)
		}
		total += len(chunk)
	}
	return total, nil
}

// Read receives frames on the sync channel, copying Data/DataEnd
// payloads into buf until DataEnd or the buffer is full.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sync_ == nil {
		return 0, visa.TermNone, visa.NewError("hislip.Read", visa.StatusConnectionLost, nil)
	}
	if timeout > 0 {
		_ = t.sync_.SetReadDeadline(time.Now().Add(timeout))
		defer t.sync_.SetReadDeadline(time.Time{})
	}

	total := 0
	for {
		f, err := readFrame(t.sync_)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return total, visa.TermNone, visa.NewError("hislip.Read", visa.StatusTimeout, err)
			}
			return total, visa.TermNone, visa.NewError("hislip.Read", visa.StatusConnectionLost, err)
		}

		switch f.msgType {
		case msgData, msgDataEnd:
			remaining := len(buf) - total
			n := len(f.payload)
			truncated := false
			if n > remaining {
				n = remaining
				truncated = true
			}
			copy(buf[total:], f.payload[:n])
			total += n
			if truncated {
				return total, visa.TermMaxCount, nil
			}
			if f.msgType == msgDataEnd {
				return total, visa.TermChar, nil
			}
			// Data (non-final fragment): keep reading.
		case msgFatalError, msgError:
			return total, visa.TermNone, visa.NewError("hislip.Read", visa.StatusIO, fmt.Errorf("device reported HiSLIP error (type %d, control %d)", f.msgType, f.control))
		default:
			// Ignore unexpected message types (e.g. stray service requests).
		}
	}
}

// ReadStatus sends AsyncStatusQuery on the async channel and returns
// the status byte carried in AsyncStatusResponse's control-code field.
func (t *Transport) ReadStatus() (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.async == nil {
		return 0, visa.NewError("hislip.ReadStatus", visa.StatusConnectionLost, nil)
	}
	if err := writeFrame(t.async, frame{msgType: msgAsyncStatusQuery, param: t.msgID}); err != nil {
		return 0, visa.NewError("hislip.ReadStatus", visa.StatusConnectionLost, err)
	}
	_ = t.async.SetReadDeadline(time.Now().Add(clearSequenceTimeout))
	defer t.async.SetReadDeadline(time.Time{})
	f, err := readFrame(t.async)
	if err != nil {
		return 0, visa.NewError("hislip.ReadStatus", visa.StatusIO, err)
	}
	if f.msgType != msgAsyncStatusResponse {
		return 0, visa.NewError("hislip.ReadStatus", visa.StatusIO, fmt.Errorf("expected AsyncStatusResponse, got type %d", f.msgType))
	}
	return f.control, nil
}

// Clear runs the four-step HiSLIP device-clear sequence and resets
// the client message ID to 0 on success.
func (t *Transport) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.async == nil || t.sync_ == nil {
		return visa.NewError("hislip.Clear", visa.StatusConnectionLost, nil)
	}

	if err := writeFrame(t.async, frame{msgType: msgAsyncDeviceClear}); err != nil {
		return visa.NewError("hislip.Clear", visa.StatusConnectionLost, err)
	}
	_ = t.async.SetReadDeadline(time.Now().Add(clearSequenceTimeout))
	ack, err := readFrame(t.async)
	t.async.SetReadDeadline(time.Time{})
	if err != nil {
		return visa.NewError("hislip.Clear", visa.StatusIO, err)
	}
	if ack.msgType != msgAsyncDeviceClearAcknowledge {
		return visa.NewError("hislip.Clear", visa.StatusIO, fmt.Errorf("expected AsyncDeviceClearAcknowledge, got type %d", ack.msgType))
	}

	_ = t.sync_.SetReadDeadline(time.Now().Add(clearSequenceTimeout))
	complete, err := readFrame(t.sync_)
	t.sync_.SetReadDeadline(time.Time{})
	if err != nil {
		return visa.NewError("hislip.Clear", visa.StatusIO, err)
	}
	if complete.msgType != msgDeviceClearComplete {
		return visa.NewError("hislip.Clear", visa.StatusIO, fmt.Errorf("expected DeviceClearComplete, got type %d", complete.msgType))
	}
	featureFlags := complete.control

	if err := writeFrame(t.sync_, frame{msgType: msgDeviceClearAcknowledge, control: featureFlags}); err != nil {
		return visa.NewError("hislip.Clear", visa.StatusConnectionLost, err)
	}
	t.msgID = 0
	return nil
}

var _ transport.Transport = (*Transport)(nil)
