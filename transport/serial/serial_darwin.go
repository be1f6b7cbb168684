package serial

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// devicePath resolves an ASRL port number to a POSIX TTY device node.
// Darwin numbers its USB-serial adapters by cu.usbserial-style names at
// enumeration time; from a VISA board index alone, ASRLn resolves to
// /dev/cu.serial(n-1), and ASRL0 resolves to /dev/cu.serial0 as ASRL1 does.
func devicePath(port int) string {
	n := port - 1
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("/dev/cu.serial%d", n)
}

// platformPort wraps a raw file descriptor configured through
// golang.org/x/sys/unix termios bindings, since internal/serialport's
// ioctl layer only covers Linux.
type platformPort struct {
	fd int
}

func openPlatformPort(path string) (*platformPort, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	// Assert DTR so instruments that gate the UART on the line see a
	// live connection immediately.
	_ = unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR)
	return &platformPort{fd: fd}, nil
}

func (pp *platformPort) configure(cfg Config) error {
	t, err := unix.IoctlGetTermios(pp.fd, unix.TIOCGETA)
	if err != nil {
		return err
	}

	unix.CfmakeRaw(t)

	speed := baudToSpeed(cfg.BaudRate)
	t.Ispeed = speed
	t.Ospeed = speed

	t.Cflag &^= unix.CSIZE
	switch cfg.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}

	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}

	switch cfg.Parity {
	case ParityEven:
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
	case ParityOdd:
		t.Cflag |= unix.PARENB
		t.Cflag |= unix.PARODD
	default:
		t.Cflag &^= unix.PARENB
	}

	if cfg.RTSCTS {
		t.Cflag |= unix.CCTS_OFLOW | unix.CRTS_IFLOW
	} else {
		t.Cflag &^= (unix.CCTS_OFLOW | unix.CRTS_IFLOW)
	}
	t.Cflag |= unix.CREAD | unix.CLOCAL

	return unix.IoctlSetTermios(pp.fd, unix.TIOCSETA, t)
}

func (pp *platformPort) write(buf []byte) (int, error) {
	return unix.Write(pp.fd, buf)
}

func (pp *platformPort) readTimeout(buf []byte, timeout time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(pp.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("serial: read timeout after %s", timeout)
	}
	return unix.Read(pp.fd, buf)
}

func (pp *platformPort) close() error {
	return unix.Close(pp.fd)
}

// flush discards queued-but-untransmitted output and received-but-unread
// input, the same recovery a GPIB or VXI-11 device clear performs on
// its own transport.
func (pp *platformPort) flush() error {
	return unix.IoctlSetPointerInt(pp.fd, unix.TIOCFLUSH, unix.FREAD|unix.FWRITE)
}

// baudToSpeed returns the raw speed_t value BSD termios expects: on
// this family the baud rate is the speed value itself, unlike Linux's
// bit-encoded CBAUD constants.
func baudToSpeed(baud int) uint64 {
	if baud <= 0 {
		return 9600
	}
	return uint64(baud)
}
