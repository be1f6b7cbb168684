// Package transport defines the uniform six-operation contract every
// instrument transport implements, plus Select, which maps a parsed
// resource descriptor to the kind of concrete implementation to use.
// Construction itself lives in transport/factory.
package transport

import (
	"context"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/visa"
)

// Transport is the polymorphic contract every instrument transport
// implements. Every method is synchronous and honors the timeout
// given to it (or, for Open, the open timeout); there is no
// cancellation beyond deadline expiry, peer close or OS interruption.
type Transport interface {
	// Open acquires the underlying connection and performs any
	// protocol handshake required before Write/Read can be used.
	Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error

	// Close performs a best-effort graceful teardown. It always
	// releases OS resources and never returns an error the caller must
	// recover from; subsequent calls are no-ops.
	Close() error

	// Write delivers all of buf with end-of-message semantics for the
	// underlying protocol, returning the number of bytes the device
	// accepted (equal to len(buf) on success).
	Write(buf []byte) (written int, err error)

	// Read returns up to len(buf) bytes, honoring timeout. The
	// returned TermStatus distinguishes a terminator/EOM-bounded read
	// from one that merely filled the buffer.
	Read(buf []byte, timeout time.Duration) (n int, term visa.TermStatus, err error)

	// ReadStatus is this protocol's serial-poll equivalent.
	ReadStatus() (statusByte uint8, err error)

	// Clear is a device-clear: reset the device's I/O buffers.
	Clear() error
}

// Descriptor is re-exported for convenience so callers that only need
// the Transport contract need not import the resource package too.
type Descriptor = resource.Descriptor

// Selection is the table-driven choice of concrete transport kind,
// computed from descriptor flags alone. The
// factory package (github.com/sydrvxd/OpenVISA/transport/factory) maps
// each Selection to a concrete constructor; it is kept separate from
// this package to avoid an import cycle (every concrete transport
// imports this package for the Transport interface).
type Selection int

const (
	SelectHiSLIP Selection = iota
	SelectRawSocket
	SelectVXI11
	SelectUSBTMC
	SelectSerial
	SelectGPIB
	SelectUnknown
)

// Select maps a parsed descriptor to the transport kind that serves it.
func Select(desc *Descriptor) Selection {
	switch desc.Kind {
	case visa.InterfaceTCPIP:
		switch {
		case desc.IsHiSLIP:
			return SelectHiSLIP
		case desc.IsSocket:
			return SelectRawSocket
		default:
			return SelectVXI11
		}
	case visa.InterfaceUSB:
		return SelectUSBTMC
	case visa.InterfaceASRL:
		return SelectSerial
	case visa.InterfaceGPIB:
		return SelectGPIB
	default:
		return SelectUnknown
	}
}
