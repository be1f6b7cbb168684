package vxi11

import (
	"encoding/binary"
	"fmt"
)

// xdrEncoder accumulates a big-endian, 4-byte-aligned XDR byte stream,
// per RFC 4506.
type xdrEncoder struct {
	buf []byte
}

func (e *xdrEncoder) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *xdrEncoder) int32(v int32) { e.uint32(uint32(v)) }

func (e *xdrEncoder) bool(v bool) {
	if v {
		e.uint32(1)
	} else {
		e.uint32(0)
	}
}

// opaque writes a length-prefixed byte string, zero-padded to a 4-byte
// boundary.
func (e *xdrEncoder) opaque(b []byte) {
	e.uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	if pad := (4 - len(b)%4) % 4; pad > 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

func (e *xdrEncoder) string(s string) { e.opaque([]byte(s)) }

func (e *xdrEncoder) bytes() []byte { return e.buf }

// xdrDecoder walks a big-endian, 4-byte-aligned XDR byte stream.
type xdrDecoder struct {
	buf []byte
	pos int
}

func newXDRDecoder(b []byte) *xdrDecoder { return &xdrDecoder{buf: b} }

func (d *xdrDecoder) uint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, fmt.Errorf("xdr: short read for uint32 at offset %d (have %d bytes)", d.pos, len(d.buf))
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *xdrDecoder) int32() (int32, error) {
	v, err := d.uint32()
	return int32(v), err
}

func (d *xdrDecoder) opaque() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	size := int(n)
	if d.pos+size > len(d.buf) {
		return nil, fmt.Errorf("xdr: short read for opaque of %d bytes at offset %d (have %d bytes)", size, d.pos, len(d.buf))
	}
	out := d.buf[d.pos : d.pos+size]
	d.pos += size
	if pad := (4 - size%4) % 4; pad > 0 {
		if d.pos+pad > len(d.buf) {
			return nil, fmt.Errorf("xdr: short read for opaque padding")
		}
		d.pos += pad
	}
	return out, nil
}

func (d *xdrDecoder) skip(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("xdr: cannot skip %d bytes at offset %d (have %d bytes)", n, d.pos, len(d.buf))
	}
	d.pos += n
	return nil
}

func (d *xdrDecoder) remaining() []byte { return d.buf[d.pos:] }
