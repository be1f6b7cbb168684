//go:build windows

package serial

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const sizeofDCB = unsafe.Sizeof(dcb{})

var (
	modkernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procSetCommState    = modkernel32.NewProc("SetCommState")
	procSetCommTimeouts = modkernel32.NewProc("SetCommTimeouts")
	procPurgeComm       = modkernel32.NewProc("PurgeComm")
)

// commTimeouts mirrors the Win32 COMMTIMEOUTS structure.
type commTimeouts struct {
	readIntervalTimeout         uint32
	readTotalTimeoutMultiplier  uint32
	readTotalTimeoutConstant    uint32
	writeTotalTimeoutMultiplier uint32
	writeTotalTimeoutConstant   uint32
}

func setCommState(h windows.Handle, c *dcb) error {
	r, _, err := procSetCommState.Call(uintptr(h), uintptr(unsafe.Pointer(c)))
	if r == 0 {
		return err
	}
	return nil
}

func setCommTimeouts(h windows.Handle) error {
	return setReadTimeout(h, 0)
}

// setReadTimeout configures COMMTIMEOUTS so ReadFile returns after
// timeout has elapsed with whatever bytes are already available,
// mirroring the raw socket transport's deadline-bounded read.
func setReadTimeout(h windows.Handle, timeout time.Duration) error {
	ms := uint32(timeout.Milliseconds())
	t := commTimeouts{
		readIntervalTimeout:      0xFFFFFFFF,
		readTotalTimeoutConstant: ms,
	}
	if ms == 0 {
		t.readIntervalTimeout = 0
	}
	r, _, err := procSetCommTimeouts.Call(uintptr(h), uintptr(unsafe.Pointer(&t)))
	if r == 0 {
		return err
	}
	return nil
}

// purgeComm discards a COM port's transmit/receive buffers, per the
// PURGE_* flags passed in flags.
func purgeComm(h windows.Handle, flags uint32) error {
	r, _, err := procPurgeComm.Call(uintptr(h), uintptr(flags))
	if r == 0 {
		return err
	}
	return nil
}
