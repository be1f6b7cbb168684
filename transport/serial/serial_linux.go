package serial

import (
	"fmt"
	"time"

	"github.com/sydrvxd/OpenVISA/internal/serialport"
)

// devicePath resolves an ASRL port number to a POSIX TTY device node:
// ASRL1 -> /dev/ttyS0, ASRL2 -> /dev/ttyS1, and so on. ASRL0 (no board
// index given in the resource string) also maps to /dev/ttyS0.
func devicePath(port int) string {
	n := port - 1
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("/dev/ttyS%d", n)
}

// platformPort wraps the Linux termios-based port from
// internal/serialport.
type platformPort struct {
	p *serialio.Port
}

func openPlatformPort(path string) (*platformPort, error) {
	p, err := serialio.Open(path, serialio.NewOptions())
	if err != nil {
		return nil, err
	}
	// Assert DTR so instruments that gate the UART on the line (common
	// on USB-serial adapters) see a live connection immediately,
	// mirroring the Windows port's dcbFDtrControl default.
	_ = p.EnableModemLines(serialio.TIOCM_DTR)
	return &platformPort{p: p}, nil
}

func (pp *platformPort) configure(cfg Config) error {
	attrs, err := pp.p.GetAttr()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.SetSpeed(baudToCFlag(cfg.BaudRate))

	attrs.Cflag &^= serialio.CSIZE
	switch cfg.DataBits {
	case 5:
		attrs.Cflag |= serialio.CS5
	case 6:
		attrs.Cflag |= serialio.CS6
	case 7:
		attrs.Cflag |= serialio.CS7
	default:
		attrs.Cflag |= serialio.CS8
	}

	if cfg.StopBits == 2 {
		attrs.Cflag |= serialio.CSTOPB
	} else {
		attrs.Cflag &^= serialio.CSTOPB
	}

	switch cfg.Parity {
	case ParityEven:
		attrs.Cflag |= serialio.PARENB
		attrs.Cflag &^= serialio.PARODD
	case ParityOdd:
		attrs.Cflag |= serialio.PARENB
		attrs.Cflag |= serialio.PARODD
	default:
		attrs.Cflag &^= serialio.PARENB
	}

	if cfg.RTSCTS {
		attrs.Cflag |= serialio.CRTSCTS
	} else {
		attrs.Cflag &^= serialio.CRTSCTS
	}
	attrs.Cflag |= serialio.CREAD | serialio.CLOCAL

	return pp.p.SetAttr(serialio.TCSANOW, attrs)
}

func (pp *platformPort) write(buf []byte) (int, error) {
	return pp.p.Write(buf)
}

func (pp *platformPort) readTimeout(buf []byte, timeout time.Duration) (int, error) {
	return pp.p.ReadTimeout(buf, timeout)
}

func (pp *platformPort) close() error {
	return pp.p.Close()
}

// flush discards queued-but-untransmitted output and received-but-unread
// input, the same recovery a GPIB or VXI-11 device clear performs on
// its own transport.
func (pp *platformPort) flush() error {
	return pp.p.Flush(serialio.TCIOFLUSH)
}

func baudToCFlag(baud int) serialio.CFlag {
	switch baud {
	case 50:
		return serialio.B50
	case 75:
		return serialio.B75
	case 110:
		return serialio.B110
	case 134:
		return serialio.B134
	case 150:
		return serialio.B150
	case 200:
		return serialio.B200
	case 300:
		return serialio.B300
	case 600:
		return serialio.B600
	case 1200:
		return serialio.B1200
	case 1800:
		return serialio.B1800
	case 2400:
		return serialio.B2400
	case 4800:
		return serialio.B4800
	case 9600:
		return serialio.B9600
	case 19200:
		return serialio.B19200
	case 38400:
		return serialio.B38400
	case 57600:
		return serialio.B57600
	case 115200:
		return serialio.B115200
	case 230400:
		return serialio.B230400
	case 460800:
		return serialio.B460800
	case 921600:
		return serialio.B921600
	case 1000000:
		return serialio.B1000000
	default:
		return serialio.B9600
	}
}
