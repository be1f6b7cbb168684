// Package vxi11 implements the VXI-11 Core RPC transport: ONC RPC
// (RFC 5531) over TCP, bootstrapped through the portmapper, carrying
// the CREATE_LINK / DEVICE_WRITE / DEVICE_READ / DEVICE_READSTB /
// DEVICE_CLEAR / DESTROY_LINK procedures of the VXIbus Consortium's
// program 0x0607AF version 1.
package vxi11

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/visa"
)

// VXI-11 Core procedure numbers.
const (
	procCreateLink  = 10
	procDeviceWrite = 11
	procDeviceRead  = 12
	procDeviceReadSTB = 13
	procDeviceClear  = 15
	procDestroyLink  = 23
)

// DEVICE_WRITE flags.
const flagEND = 0x08

// DEVICE_READ reason bits.
const (
	reasonREQCNT = 1
	reasonCHR    = 2
	reasonEND    = 4
)

const (
	defaultMaxRecvSize = 65536
	clearPollTimeout   = 5 * time.Second
)

// Transport is the VXI-11 Core transport. One instance owns exactly
// one link to one device; it is not safe for concurrent use by more
// than one goroutine at a time.
type Transport struct {
	mu          sync.Mutex
	rpc         *rpcConn
	linkID      uint32
	maxRecvSize uint32
}

// New constructs an unopened VXI-11 transport.
func New() *Transport { return &Transport{} }

// resolvePortFunc is overridden in tests to bypass the real portmapper
// bootstrap and point straight at a loopback mock RPC server.
var resolvePortFunc = resolvePort

// Open resolves the VXI-11 core service through the portmapper on
// host:111, opens a second connection to the returned port, and issues
// CREATE_LINK for desc.Device.
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port, err := resolvePortFunc(ctx, desc.Host, vxi11Program, vxi11Version, openTimeout)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", desc.Host, port)
	conn, err := dialRPC(ctx, "tcp", addr, openTimeout)
	if err != nil {
		return visa.NewError("vxi11.Open", visa.StatusResourceNotFound, err)
	}

	device := desc.Device
	if device == "" {
		device = "inst0"
	}

	var e xdrEncoder
	e.uint32(0)     // clientId
	e.bool(false)   // lockDevice
	e.uint32(0)     // lockTimeout
	e.string(device)

	reply, err := conn.call(vxi11Program, vxi11Version, procCreateLink, e.bytes(), openTimeout)
	if err != nil {
		conn.close()
		return err
	}
	d := newXDRDecoder(reply)
	errCode, err := d.uint32()
	if err != nil {
		conn.close()
		return visa.NewError("vxi11.Open", visa.StatusIO, err)
	}
	linkID, err := d.uint32()
	if err != nil {
		conn.close()
		return visa.NewError("vxi11.Open", visa.StatusIO, err)
	}
	_, err = d.uint32() // abortPort, unused: abort channel isn't wired in this implementation
	if err != nil {
		conn.close()
		return visa.NewError("vxi11.Open", visa.StatusIO, err)
	}
	maxRecv, err := d.uint32()
	if err != nil {
		conn.close()
		return visa.NewError("vxi11.Open", visa.StatusIO, err)
	}
	if errCode != 0 {
		conn.close()
		return visa.NewError("vxi11.Open", visa.StatusIO, fmt.Errorf("CREATE_LINK device error %d", errCode))
	}
	if maxRecv == 0 {
		maxRecv = defaultMaxRecvSize
	}

	t.rpc = conn
	t.linkID = linkID
	t.maxRecvSize = maxRecv
	return nil
}

// Close issues DESTROY_LINK best-effort, then always closes the TCP
// connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil {
		return nil
	}
	var e xdrEncoder
	e.uint32(t.linkID)
	_, _ = t.rpc.call(vxi11Program, vxi11Version, procDestroyLink, e.bytes(), clearPollTimeout)
	err := t.rpc.close()
	t.rpc = nil
	return err
}

// Write fragments buf into chunks of at most maxRecvSize, calling
// DEVICE_WRITE for each with the END flag set only on the final chunk.
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil {
		return 0, visa.NewError("vxi11.Write", visa.StatusConnectionLost, nil)
	}

	total := 0
	first := true
	for first || total < len(buf) {
		first = false
		chunkEnd := total + int(t.maxRecvSize)
		if chunkEnd > len(buf) {
			chunkEnd = len(buf)
		}
		chunk := buf[total:chunkEnd]
		end := chunkEnd == len(buf)

		var flags uint32
		if end {
			flags = flagEND
		}

		var e xdrEncoder
		e.uint32(t.linkID)
		e.uint32(10000) // ioTimeout ms; bounded default for the underlying RPC call
		e.uint32(0)     // lockTimeout
		e.uint32(flags)
		e.opaque(chunk)

		reply, err := t.rpc.call(vxi11Program, vxi11Version, procDeviceWrite, e.bytes(), 10*time.Second)
		if err != nil {
			return total, err
		}
		d := newXDRDecoder(reply)
		errCode, err := d.uint32()
		if err != nil {
			return total, visa.NewError("vxi11.Write", visa.StatusIO, err)
		}
		written, err := d.uint32()
		if err != nil {
			return total, visa.NewError("vxi11.Write", visa.StatusIO, err)
		}
		if errCode != 0 {
			return total, visa.NewError("vxi11.Write", visa.StatusIO, fmt.Errorf("DEVICE_WRITE device error %d", errCode))
		}
		total += int(written)
		if written == 0 {
			// Guard against a device bug that would otherwise spin forever.
			break
		}
	}
	return total, nil
}

// Read repeats DEVICE_READ until the device signals END/REQCNT/CHR or
// returns less than the requested size.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil {
		return 0, visa.TermNone, visa.NewError("vxi11.Read", visa.StatusConnectionLost, nil)
	}

	total := 0
	for total < len(buf) {
		remaining := len(buf) - total
		reqSize := remaining
		if uint32(reqSize) > t.maxRecvSize {
			reqSize = int(t.maxRecvSize)
		}

		var e xdrEncoder
		e.uint32(t.linkID)
		e.uint32(uint32(reqSize))
		e.uint32(uint32(timeout.Milliseconds()))
		e.uint32(0) // lockTimeout
		e.uint32(0) // flags
		e.uint32(0) // termChar

		reply, err := t.rpc.call(vxi11Program, vxi11Version, procDeviceRead, e.bytes(), timeout)
		if err != nil {
			return total, visa.TermNone, err
		}
		d := newXDRDecoder(reply)
		errCode, err := d.uint32()
		if err != nil {
			return total, visa.TermNone, visa.NewError("vxi11.Read", visa.StatusIO, err)
		}
		reason, err := d.uint32()
		if err != nil {
			return total, visa.TermNone, visa.NewError("vxi11.Read", visa.StatusIO, err)
		}
		data, err := d.opaque()
		if err != nil {
			return total, visa.TermNone, visa.NewError("vxi11.Read", visa.StatusIO, err)
		}
		if errCode != 0 {
			return total, visa.TermNone, visa.NewError("vxi11.Read", visa.StatusIO, fmt.Errorf("DEVICE_READ device error %d", errCode))
		}

		n := copy(buf[total:], data)
		total += n

		if reason&(reasonEND|reasonREQCNT|reasonCHR) != 0 {
			if reason&(reasonEND|reasonCHR) != 0 {
				return total, visa.TermChar, nil
			}
			return total, visa.TermMaxCount, nil
		}
		if len(data) < reqSize {
			return total, visa.TermMaxCount, nil
		}
	}
	return total, visa.TermMaxCount, nil
}

// ReadStatus issues DEVICE_READSTB.
func (t *Transport) ReadStatus() (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil {
		return 0, visa.NewError("vxi11.ReadStatus", visa.StatusConnectionLost, nil)
	}
	var e xdrEncoder
	e.uint32(t.linkID)
	e.uint32(0) // flags
	e.uint32(uint32(clearPollTimeout.Milliseconds()))
	e.uint32(0) // lockTimeout

	reply, err := t.rpc.call(vxi11Program, vxi11Version, procDeviceReadSTB, e.bytes(), clearPollTimeout)
	if err != nil {
		return 0, err
	}
	d := newXDRDecoder(reply)
	errCode, err := d.uint32()
	if err != nil {
		return 0, visa.NewError("vxi11.ReadStatus", visa.StatusIO, err)
	}
	stb, err := d.uint32()
	if err != nil {
		return 0, visa.NewError("vxi11.ReadStatus", visa.StatusIO, err)
	}
	if errCode != 0 {
		return 0, visa.NewError("vxi11.ReadStatus", visa.StatusIO, fmt.Errorf("DEVICE_READSTB device error %d", errCode))
	}
	return uint8(stb & 0xFF), nil
}

// Clear issues DEVICE_CLEAR.
func (t *Transport) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil {
		return visa.NewError("vxi11.Clear", visa.StatusConnectionLost, nil)
	}
	var e xdrEncoder
	e.uint32(t.linkID)
	e.uint32(0) // flags
	e.uint32(uint32(clearPollTimeout.Milliseconds()))
	e.uint32(0) // lockTimeout

	reply, err := t.rpc.call(vxi11Program, vxi11Version, procDeviceClear, e.bytes(), clearPollTimeout)
	if err != nil {
		return err
	}
	d := newXDRDecoder(reply)
	errCode, err := d.uint32()
	if err != nil {
		return visa.NewError("vxi11.Clear", visa.StatusIO, err)
	}
	if errCode != 0 {
		return visa.NewError("vxi11.Clear", visa.StatusIO, fmt.Errorf("DEVICE_CLEAR device error %d", errCode))
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)
