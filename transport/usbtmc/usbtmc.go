// Package usbtmc implements the USBTMC/USB488 transport: bulk-transfer
// messages framed with a 12-byte header, carried over a USB interface
// of class 0xFE (application-specific), subclass 0x03 (USBTMC).
package usbtmc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/visa"
)

const (
	usbtmcClass    = 0xFE
	usbtmcSubclass = 0x03

	// USB488 class-specific control requests (USBTMC USB488 subclass,
	// section 4).
	reqInitiateClear    = 5
	reqCheckClearStatus = 6
	reqGetCapabilities  = 7
	reqReadStatusByte   = 128

	statusSuccess = 0x01
	statusPending = 0x02

	controlTimeout = 5 * time.Second
)

// bulkOutPipe is the subset of *gousb.OutEndpoint this transport uses.
// Defined as an interface (rather than storing the concrete gousb type
// directly) so tests can substitute a fake bulk pipe without opening a
// real USB device.
type bulkOutPipe interface {
	Write(p []byte) (int, error)
}

// bulkInPipe is the subset of *gousb.InEndpoint this transport uses.
type bulkInPipe interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// controlPipe is the subset of *gousb.Device this transport uses for
// USB488 class control requests.
type controlPipe interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Transport is the USBTMC/USB488 transport. One instance owns exactly
// one USB interface claim; it is not safe for concurrent use by more
// than one goroutine at a time.
type Transport struct {
	mu sync.Mutex

	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  bulkOutPipe
	epIn   bulkInPipe
	ctrl   controlPipe

	intfNumber uint16
	tag        uint8

	// Capability bits from GET_CAPABILITIES, probed once at Open. Both
	// default false if the device doesn't answer the request.
	supportsUSB488         bool
	supportsReadStatusByte bool
}

// New constructs an unopened USBTMC transport.
func New() *Transport { return &Transport{} }

func (t *Transport) nextTag() uint8 {
	t.tag++
	if t.tag == 0 {
		t.tag = 1
	}
	return t.tag
}

// Open enumerates USB devices for desc's vendor/product ID, claims the
// first USBTMC (class 0xFE, subclass 0x03) interface it finds, and
// opens its bulk endpoints.
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	usbCtx := gousb.NewContext()
	vid := gousb.ID(desc.VendorID)
	pid := gousb.ID(desc.ProductID)

	devs, err := usbCtx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == vid && d.Product == pid
	})
	if err != nil {
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusResourceNotFound, err)
	}
	if len(devs) == 0 {
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusResourceNotFound,
			fmt.Errorf("no USB device with VID:PID %04x:%04x", desc.VendorID, desc.ProductID))
	}
	// Close any extras beyond the first match; multiple devices sharing
	// a VID/PID is a configuration error this transport doesn't resolve.
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusIO, err)
	}

	intfNum, altNum, err := findTMCInterface(dev)
	if err != nil {
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusResourceNotFound, err)
	}

	intf, err := cfg.Interface(intfNum, altNum)
	if err != nil {
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusIO, err)
	}

	epOut, epIn, err := findBulkEndpoints(intf)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return visa.NewError("usbtmc.Open", visa.StatusIO, err)
	}

	t.ctx = usbCtx
	t.dev = dev
	t.ctrl = dev
	t.config = cfg
	t.intf = intf
	t.intfNumber = uint16(intf.Setting.Number)
	t.epOut = epOut
	t.epIn = epIn
	t.tag = 0
	t.probeCapabilities()
	return nil
}

// probeCapabilities issues GET_CAPABILITIES and records the USB488
// capability bits it reports. This is a best-effort probe: instruments
// that don't implement the USB488 subclass capabilities request (or
// answer it short) leave both bits cleared rather than failing Open,
// since nothing in this transport strictly requires them.
func (t *Transport) probeCapabilities() {
	resp := make([]byte, 24)
	n, err := t.ctrl.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
		reqGetCapabilities,
		0,
		t.intfNumber,
		resp,
	)
	if err != nil || n < 6 || resp[0] != statusSuccess {
		t.supportsUSB488 = false
		t.supportsReadStatusByte = false
		return
	}
	t.supportsUSB488 = resp[4]&0x04 != 0
	t.supportsReadStatusByte = resp[5]&0x04 != 0
}

// findTMCInterface scans every configuration descriptor of the device
// for the first interface advertising class 0xFE / subclass 0x03.
func findTMCInterface(dev *gousb.Device) (intfNum, altNum int, err error) {
	for _, cfg := range dev.Desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if uint8(alt.Class) == usbtmcClass && uint8(alt.SubClass) == usbtmcSubclass {
					return intf.Number, alt.Alternate, nil
				}
			}
		}
	}
	return 0, 0, fmt.Errorf("no USBTMC interface (class 0x%02x, subclass 0x%02x) found", usbtmcClass, usbtmcSubclass)
}

func findBulkEndpoints(intf *gousb.Interface) (*gousb.OutEndpoint, *gousb.InEndpoint, error) {
	var outEP, inEP int = -1, -1
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut {
			outEP = int(ep.Number)
		} else {
			inEP = int(ep.Number)
		}
	}
	if outEP < 0 || inEP < 0 {
		return nil, nil, fmt.Errorf("USBTMC interface has no bulk IN/OUT endpoint pair")
	}
	epOut, err := intf.OutEndpoint(outEP)
	if err != nil {
		return nil, nil, err
	}
	epIn, err := intf.InEndpoint(inEP)
	if err != nil {
		return nil, nil, err
	}
	return epOut, epIn, nil
}

// Close releases the interface claim and USB context.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.config != nil {
		t.config.Close()
		t.config = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	t.ctrl = nil
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// Write sends buf as one or more DEV_DEP_MSG_OUT bulk transfers, each
// prefixed with a 12-byte header and zero-padded to a 4-byte boundary,
// with EOM set only on the final transfer.
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epOut == nil {
		return 0, visa.NewError("usbtmc.Write", visa.StatusConnectionLost, nil)
	}

	const maxChunk = 1 << 20
	total := 0
	first := true
	for first || total < len(buf) {
		first = false
		end := total + maxChunk
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[total:end]
		eom := end == len(buf)

		tag := t.nextTag()
		h := bulkHeader{
			msgID:        msgDevDepMsgOut,
			tag:          tag,
			tagInverse:   ^tag,
			transferSize: uint32(len(chunk)),
		}
		if eom {
			h.attributes = 0x01
		}
		payload := h.encode()
		payload = append(payload, chunk...)
		if pad := padTo4(len(chunk)) - len(chunk); pad > 0 {
			payload = append(payload, make([]byte, pad)...)
		}

		if _, err := t.epOut.Write(payload); err != nil {
			return total, visa.NewError("usbtmc.Write", visa.StatusIO, err)
		}
		total += len(chunk)
	}
	return total, nil
}

// Read issues REQUEST_DEV_DEP_MSG_IN and copies the response payload
// into buf, honoring EOM (the response's termination attribute bit) or
// a full buffer.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epIn == nil {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusConnectionLost, nil)
	}

	tag := t.nextTag()
	req := bulkHeader{
		msgID:        msgRequestDevDepMsgIn,
		tag:          tag,
		tagInverse:   ^tag,
		transferSize: uint32(len(buf)),
		termChar:     0,
	}
	if _, err := t.epOut.Write(req.encode()); err != nil {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusIO, err)
	}

	readCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	raw := make([]byte, bulkHeaderSize+len(buf)+3)
	n, err := t.epIn.ReadContext(readCtx, raw)
	if err != nil {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusTimeout, err)
	}
	if n < bulkHeaderSize {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusIO, errShortHeader)
	}
	hdr, err := decodeBulkHeader(raw[:bulkHeaderSize])
	if err != nil {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusIO, err)
	}
	if hdr.tag != tag || hdr.tagInverse != ^tag {
		return 0, visa.TermNone, visa.NewError("usbtmc.Read", visa.StatusIO,
			fmt.Errorf("bTag mismatch: got %d/%d, want %d/%d", hdr.tag, hdr.tagInverse, tag, ^tag))
	}
	payloadLen := int(hdr.transferSize)
	if payloadLen > n-bulkHeaderSize {
		payloadLen = n - bulkHeaderSize
	}
	if payloadLen > len(buf) {
		payloadLen = len(buf)
	}
	copy(buf, raw[bulkHeaderSize:bulkHeaderSize+payloadLen])

	const eomBit = 0x01
	if hdr.attributes&eomBit != 0 {
		return payloadLen, visa.TermChar, nil
	}
	return payloadLen, visa.TermMaxCount, nil
}

// ReadStatus issues the USB488 READ_STATUS_BYTE class control request.
// Some instruments reply with a 3-byte response (status of the
// request, bTag echo, status byte); others omit the echo byte and
// reply with 2. This implementation accepts both and always returns
// the final byte.
func (t *Transport) ReadStatus() (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctrl == nil {
		return 0, visa.NewError("usbtmc.ReadStatus", visa.StatusConnectionLost, nil)
	}
	tag := t.nextTag()
	resp := make([]byte, 3)
	n, err := t.ctrl.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
		reqReadStatusByte,
		uint16(tag),
		t.intfNumber,
		resp,
	)
	if err != nil {
		return 0, visa.NewError("usbtmc.ReadStatus", visa.StatusIO, err)
	}
	if n < 2 {
		return 0, visa.NewError("usbtmc.ReadStatus", visa.StatusIO, fmt.Errorf("short READ_STATUS_BYTE response (%d bytes)", n))
	}
	if resp[0] != statusSuccess {
		return 0, visa.NewError("usbtmc.ReadStatus", visa.StatusIO, fmt.Errorf("READ_STATUS_BYTE returned status 0x%02x", resp[0]))
	}
	return resp[n-1], nil
}

// Clear issues INITIATE_CLEAR and polls CHECK_CLEAR_STATUS until the
// device reports it has drained its bulk-IN queue or the bound below
// is exceeded.
func (t *Transport) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctrl == nil {
		return visa.NewError("usbtmc.Clear", visa.StatusConnectionLost, nil)
	}

	resp := make([]byte, 1)
	if _, err := t.ctrl.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
		reqInitiateClear,
		0,
		t.intfNumber,
		resp,
	); err != nil {
		return visa.NewError("usbtmc.Clear", visa.StatusIO, err)
	}
	if resp[0] != statusSuccess {
		return visa.NewError("usbtmc.Clear", visa.StatusIO, fmt.Errorf("INITIATE_CLEAR returned status 0x%02x", resp[0]))
	}

	deadline := time.Now().Add(controlTimeout)
	poll := make([]byte, 2)
	for time.Now().Before(deadline) {
		if _, err := t.ctrl.Control(
			gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
			reqCheckClearStatus,
			0,
			t.intfNumber,
			poll,
		); err != nil {
			return visa.NewError("usbtmc.Clear", visa.StatusIO, err)
		}
		if poll[0] == statusSuccess {
			t.drainBulkIn()
			return nil
		}
		if poll[0] != statusPending {
			return visa.NewError("usbtmc.Clear", visa.StatusIO, fmt.Errorf("CHECK_CLEAR_STATUS returned status 0x%02x", poll[0]))
		}
		// bmClearStatus auxiliary byte, bit 0: bulk-IN pipe still has
		// data to drain before the next poll will report progress.
		if poll[1]&0x01 != 0 {
			t.drainBulkIn()
		}
		time.Sleep(10 * time.Millisecond)
	}
	return visa.NewError("usbtmc.Clear", visa.StatusTimeout, fmt.Errorf("device still clearing after %s", controlTimeout))
}

// drainBulkIn discards whatever the device has queued on the bulk-IN
// endpoint. Used during INITIATE_CLEAR/CHECK_CLEAR_STATUS recovery,
// where leftover DEV_DEP_MSG_IN data would otherwise be misread as the
// reply to the next Read. Errors (including timeout, the expected
// outcome once the pipe is empty) are not reported: draining is
// best-effort housekeeping, not a step Clear's caller can act on.
func (t *Transport) drainBulkIn() {
	if t.epIn == nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	scratch := make([]byte, 4096)
	for {
		n, err := t.epIn.ReadContext(drainCtx, scratch)
		if err != nil || n == 0 {
			return
		}
	}
}

var _ transport.Transport = (*Transport)(nil)
