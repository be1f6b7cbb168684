// Package gpib is a thin dispatch stub for the GPIB transport. The
// real transport requires an externally-loaded vendor controller
// library (e.g. a National Instruments or Prologix driver); this
// package provides the Transport shape without one, so that a GPIB
// resource string parses and selects this transport, and every
// operation, Open included, fails in a single, predictable way.
package gpib

import (
	"context"
	"time"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/visa"
)

// Transport is the GPIB stub. Every method returns StatusNotSupported;
// no controller library is consulted.
type Transport struct{}

// New constructs a GPIB stub transport.
func New() *Transport { return &Transport{} }

func notSupported(op string) error {
	return visa.NewError(op, visa.StatusNotSupported, nil)
}

// Open always fails: no controller library is wired into this build.
func (t *Transport) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) error {
	return notSupported("gpib.Open")
}

// Close is a no-op; nothing was ever opened.
func (t *Transport) Close() error { return nil }

func (t *Transport) Write(buf []byte) (int, error) {
	return 0, notSupported("gpib.Write")
}

func (t *Transport) Read(buf []byte, timeout time.Duration) (int, visa.TermStatus, error) {
	return 0, visa.TermNone, notSupported("gpib.Read")
}

func (t *Transport) ReadStatus() (uint8, error) {
	return 0, notSupported("gpib.ReadStatus")
}

func (t *Transport) Clear() error {
	return notSupported("gpib.Clear")
}

var _ transport.Transport = (*Transport)(nil)
