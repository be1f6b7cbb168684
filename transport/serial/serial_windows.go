package serial

import (
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

// devicePath resolves an ASRL port number to a Windows COM port name.
// Ports above 9 need the \\.\ prefix to escape the MAX_PATH-limited
// device namespace.
func devicePath(port int) string {
	n := port
	if n <= 0 {
		n = 1
	}
	if n > 9 {
		return fmt.Sprintf(`\\.\COM%d`, n)
	}
	return fmt.Sprintf("COM%d", n)
}

// platformPort wraps a Win32 file handle configured through the
// classic DCB / COMMTIMEOUTS API via golang.org/x/sys/windows, since
// internal/serialport's ioctl-based layer has no Windows equivalent.
type platformPort struct {
	handle windows.Handle
}

func openPlatformPort(path string) (*platformPort, error) {
	namep, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(
		namep,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, err
	}
	return &platformPort{handle: h}, nil
}

// dcb mirrors the Win32 DCB structure fields this transport sets.
// golang.org/x/sys/windows does not export DCB itself, so the fields
// this implementation needs are laid out directly; the layout matches
// the documented Win32 struct (BaudRate, flag bitfield, ByteSize,
// Parity, StopBits).
type dcb struct {
	dcbLength uint32
	baudRate  uint32
	flags     uint32
	wReserved uint16
	xonLim    uint16
	xoffLim   uint16
	byteSize  byte
	parity    byte
	stopBits  byte
	xonChar   byte
	xoffChar  byte
	errorChar byte
	eofChar   byte
	evtChar   byte
	wReserved1 uint16
}

const (
	dcbFBinary       = 1 << 0
	dcbFParity       = 1 << 1
	dcbFOutxCtsFlow  = 1 << 2
	dcbFRtsControl   = 1 << 12 // two bits starting here; 0x01<<12 = RTS_CONTROL_ENABLE
	dcbFDtrControl   = 1 << 4 // two bits; value 1 = DTR_CONTROL_ENABLE
)

const (
	noParity   = 0
	oddParity  = 1
	evenParity = 2
)

const (
	oneStopBit = 0
	twoStopBits = 2
)

func (pp *platformPort) configure(cfg Config) error {
	var c dcb
	c.dcbLength = uint32(sizeofDCB)
	c.baudRate = uint32(cfg.BaudRate)
	c.byteSize = byte(cfg.DataBits)
	if cfg.DataBits == 0 {
		c.byteSize = 8
	}
	if cfg.StopBits == 2 {
		c.stopBits = twoStopBits
	} else {
		c.stopBits = oneStopBit
	}
	switch cfg.Parity {
	case ParityEven:
		c.parity = evenParity
		c.flags |= dcbFParity
	case ParityOdd:
		c.parity = oddParity
		c.flags |= dcbFParity
	default:
		c.parity = noParity
	}
	c.flags |= dcbFBinary
	c.flags |= dcbFDtrControl
	if cfg.RTSCTS {
		c.flags |= dcbFOutxCtsFlow | dcbFRtsControl
	}

	if err := setCommState(pp.handle, &c); err != nil {
		return err
	}
	return setCommTimeouts(pp.handle)
}

func (pp *platformPort) write(buf []byte) (int, error) {
	var written uint32
	err := windows.WriteFile(pp.handle, buf, &written, nil)
	return int(written), err
}

func (pp *platformPort) readTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := setReadTimeout(pp.handle, timeout); err != nil {
		return 0, err
	}
	var read uint32
	err := windows.ReadFile(pp.handle, buf, &read, nil)
	return int(read), err
}

func (pp *platformPort) close() error {
	return windows.CloseHandle(pp.handle)
}

// flush discards queued-but-untransmitted output and received-but-unread
// input, the same recovery a GPIB or VXI-11 device clear performs on
// its own transport.
func (pp *platformPort) flush() error {
	const purgeTXClear = 0x0004
	const purgeRXClear = 0x0008
	return purgeComm(pp.handle, purgeTXClear|purgeRXClear)
}
