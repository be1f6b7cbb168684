package usbtmc

import "testing"

func TestBulkHeaderRoundTrip(t *testing.T) {
	h := bulkHeader{
		msgID:        msgDevDepMsgOut,
		tag:          5,
		tagInverse:   ^uint8(5),
		transferSize: 6,
		attributes:   0x01,
	}
	encoded := h.encode()
	if len(encoded) != bulkHeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(encoded), bulkHeaderSize)
	}
	decoded, err := decodeBulkHeader(encoded)
	if err != nil {
		t.Fatalf("decodeBulkHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("decoded header = %+v, want %+v", decoded, h)
	}
}

func TestBulkHeaderTagComplement(t *testing.T) {
	h := bulkHeader{tag: 0x37, tagInverse: ^uint8(0x37)}
	if h.tag^h.tagInverse != 0xFF {
		t.Fatalf("tag 0x%02x and complement 0x%02x do not XOR to 0xFF", h.tag, h.tagInverse)
	}
}

func TestNextTagSkipsZero(t *testing.T) {
	tr := New()
	tr.tag = 0xFF
	if got := tr.nextTag(); got != 1 {
		t.Fatalf("tag after wraparound = %d, want 1 (zero is reserved)", got)
	}
}

func TestNextTagMonotonic(t *testing.T) {
	tr := New()
	first := tr.nextTag()
	second := tr.nextTag()
	if second != first+1 {
		t.Fatalf("tags = %d, %d; want consecutive", first, second)
	}
}

func TestPadTo4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 8: 8}
	for in, want := range cases {
		if got := padTo4(in); got != want {
			t.Fatalf("padTo4(%d) = %d, want %d", in, got, want)
		}
	}
}
