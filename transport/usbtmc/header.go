package usbtmc

import (
	"encoding/binary"
	"errors"
)

var errShortHeader = errors.New("usbtmc: short bulk header")

// USBTMC bulk message IDs (USBTMC 1.0 section 3.2).
const (
	msgDevDepMsgOut         = 1
	msgRequestDevDepMsgIn   = 2
	msgVendorSpecificOut    = 126
	msgRequestVendorSpecIn  = 127
)

const bulkHeaderSize = 12

// bulkHeader is the 12-byte header prefixed to every USBTMC bulk
// transfer: message ID, a tag/tag-complement pair for matching
// request/response, a little-endian transfer size, and
// message-specific attributes.
type bulkHeader struct {
	msgID      uint8
	tag        uint8
	tagInverse uint8
	transferSize uint32
	attributes uint8
	termChar   uint8
}

func (h bulkHeader) encode() []byte {
	buf := make([]byte, bulkHeaderSize)
	buf[0] = h.msgID
	buf[1] = h.tag
	buf[2] = h.tagInverse
	buf[3] = 0 // reserved
	binary.LittleEndian.PutUint32(buf[4:8], h.transferSize)
	buf[8] = h.attributes
	buf[9] = h.termChar
	buf[10] = 0
	buf[11] = 0
	return buf
}

func decodeBulkHeader(buf []byte) (bulkHeader, error) {
	if len(buf) < bulkHeaderSize {
		return bulkHeader{}, errShortHeader
	}
	return bulkHeader{
		msgID:        buf[0],
		tag:          buf[1],
		tagInverse:   buf[2],
		transferSize: binary.LittleEndian.Uint32(buf[4:8]),
		attributes:   buf[8],
		termChar:     buf[9],
	}, nil
}

// padTo4 returns n rounded up to the next multiple of 4, the alignment
// every USBTMC bulk transfer is zero-padded to.
func padTo4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}
