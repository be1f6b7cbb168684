package discovery

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "TCPIP0::10.0.0.1::inst0::INSTR", true},
		{"TCPIP*", "tcpip0::10.0.0.1::inst0::instr", true},
		{"USB*", "TCPIP0::10.0.0.1::inst0::INSTR", false},
		{"ASRL?::INSTR", "ASRL1::INSTR", true},
		{"ASRL?::INSTR", "ASRL12::INSTR", false},
		{"*hislip*", "TCPIP0::10.0.0.2::hislip0::INSTR", true},
		{"", "", true},
		{"", "x", false},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.s); got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}
