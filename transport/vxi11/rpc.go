package vxi11

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sydrvxd/OpenVISA/visa"
)

// ONC RPC constants (RFC 5531).
const (
	rpcVersion2 = 2

	msgTypeCall  = 0
	msgTypeReply = 1

	replyAccepted  = 0
	acceptSuccess  = 0
	authFlavorNull = 0

	lastFragmentBit = uint32(1) << 31
)

// rpcConn is a single ONC-RPC-over-TCP connection using record marking
// (RFC 1831 section 10): every call and reply is one "record" made of
// one or more length-prefixed fragments. We always send a single
// last fragment but accept multiple fragments on receive.
type rpcConn struct {
	conn net.Conn
	xid  uint32
}

func dialRPC(ctx context.Context, network, addr string, timeout time.Duration) (*rpcConn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	// Seed xid from wall-clock time; RFC 5531 only requires a
	// non-repeating value, not cryptographic unpredictability.
	seed := uint32(time.Now().UnixNano())
	return &rpcConn{conn: conn, xid: seed}, nil
}

func (c *rpcConn) close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *rpcConn) nextXID() uint32 {
	return atomic.AddUint32(&c.xid, 1)
}

// call sends procedure proc of (program, version) with pre-encoded XDR
// args, waits for the matching reply, and returns the reply's XDR
// payload (the body after the accept-success header).
func (c *rpcConn) call(program, version, proc uint32, args []byte, timeout time.Duration) ([]byte, error) {
	xid := c.nextXID()
	if err := c.sendCall(xid, program, version, proc, args, timeout); err != nil {
		return nil, err
	}
	return c.recvReply(xid, timeout)
}

func (c *rpcConn) sendCall(xid, program, version, proc uint32, args []byte, timeout time.Duration) error {
	var e xdrEncoder
	e.uint32(xid)
	e.uint32(msgTypeCall)
	e.uint32(rpcVersion2)
	e.uint32(program)
	e.uint32(version)
	e.uint32(proc)
	// cred = AUTH_NULL{flavor=0, length=0}
	e.uint32(authFlavorNull)
	e.uint32(0)
	// verf = AUTH_NULL{flavor=0, length=0}
	e.uint32(authFlavorNull)
	e.uint32(0)
	e.buf = append(e.buf, args...)

	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return writeFragment(c.conn, e.bytes())
}

func writeFragment(w net.Conn, payload []byte) error {
	header := lastFragmentBit | uint32(len(payload))
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], header)
	if _, err := w.Write(hb[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRecord reassembles one record out of record-marked fragments.
func readRecord(r net.Conn) ([]byte, error) {
	var record []byte
	for {
		var hb [4]byte
		if _, err := readFull(r, hb[:]); err != nil {
			return nil, err
		}
		header := binary.BigEndian.Uint32(hb[:])
		last := header&lastFragmentBit != 0
		size := header &^ lastFragmentBit
		frag := make([]byte, size)
		if size > 0 {
			if _, err := readFull(r, frag); err != nil {
				return nil, err
			}
		}
		record = append(record, frag...)
		if last {
			return record, nil
		}
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *rpcConn) recvReply(xid uint32, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	record, err := readRecord(c.conn)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, visa.NewError("vxi11.rpc", visa.StatusTimeout, err)
		}
		return nil, visa.NewError("vxi11.rpc", visa.StatusConnectionLost, err)
	}
	d := newXDRDecoder(record)
	gotXid, err := d.uint32()
	if err != nil {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, err)
	}
	if gotXid != xid {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, fmt.Errorf("xid mismatch: sent %d, got %d", xid, gotXid))
	}
	msgType, err := d.uint32()
	if err != nil || msgType != msgTypeReply {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, fmt.Errorf("expected REPLY, got msg_type=%d err=%v", msgType, err))
	}
	replyStat, err := d.uint32()
	if err != nil || replyStat != replyAccepted {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, fmt.Errorf("MSG_DENIED or malformed reply (stat=%d)", replyStat))
	}
	// verf = {flavor, length, opaque...}
	if _, err := d.uint32(); err != nil {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, err)
	}
	verfLen, err := d.uint32()
	if err != nil {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, err)
	}
	pad := int((4 - verfLen%4) % 4)
	if err := d.skip(int(verfLen) + pad); err != nil {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, err)
	}
	acceptStat, err := d.uint32()
	if err != nil || acceptStat != acceptSuccess {
		return nil, visa.NewError("vxi11.rpc", visa.StatusIO, fmt.Errorf("RPC accept_stat=%d (err=%v)", acceptStat, err))
	}
	return d.remaining(), nil
}
