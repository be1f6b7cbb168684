// Package resource tokenizes VISA resource strings into a typed
// descriptor. Parsing is case-insensitive on keywords and tolerant of a
// board index concatenated onto the interface keyword (TCPIP0, GPIB1,
// ...).
package resource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sydrvxd/OpenVISA/visa"
)

// Descriptor is the parsed form of a resource string. Only the fields
// relevant to the descriptor's Kind are meaningful; the rest carry
// their zero value.
type Descriptor struct {
	Kind  visa.InterfaceKind
	Board int

	// TCPIP
	Host       string
	Port       uint16
	Device     string
	IsSocket   bool
	IsHiSLIP   bool

	// USB
	VendorID     uint16
	ProductID    uint16
	Serial       string
	InterfaceNum int

	// ASRL
	ASRLPort int

	// GPIB
	Primary   int
	Secondary int

	// Raw is the original, unparsed resource string.
	Raw string
}

const (
	defaultVXI11Port   = 111
	defaultHiSLIPPort  = 4880
	defaultSocketPort  = 5025
	defaultDeviceName  = "inst0"
	noSecondaryAddress = -1
)

// Parse tokenizes s into a Descriptor, or returns a
// *visa.Error{Status: StatusInvalidResourceName} if s does not match any
// recognized grammar.
func Parse(s string) (*Descriptor, error) {
	raw := s
	fields := strings.Split(s, "::")
	if len(fields) == 0 || fields[0] == "" {
		return nil, invalid(raw, "empty resource string")
	}

	head := fields[0]
	kindWord, boardDigits := splitKeyword(head)
	board := 0
	if boardDigits != "" {
		n, err := strconv.Atoi(boardDigits)
		if err != nil {
			return nil, invalid(raw, "bad board index %q", boardDigits)
		}
		board = n
	}

	switch strings.ToUpper(kindWord) {
	case "TCPIP":
		return parseTCPIP(raw, board, fields[1:])
	case "USB":
		return parseUSB(raw, board, fields[1:])
	case "ASRL":
		return parseASRL(raw, board, fields[1:])
	case "GPIB":
		return parseGPIB(raw, board, fields[1:])
	default:
		return nil, invalid(raw, "unrecognized interface keyword %q", kindWord)
	}
}

// splitKeyword splits a leading alphabetic keyword from a trailing
// numeric board index, e.g. "TCPIP2" -> ("TCPIP", "2"); "ASRL" -> ("ASRL", "").
func splitKeyword(head string) (word, digits string) {
	i := len(head)
	for i > 0 && head[i-1] >= '0' && head[i-1] <= '9' {
		i--
	}
	return head[:i], head[i:]
}

func invalid(raw, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return visa.NewError("resource.Parse", visa.StatusInvalidResourceName, fmt.Errorf("%s (resource=%q)", msg, raw))
}

func eqFold(s, word string) bool { return strings.EqualFold(s, word) }

func parseTCPIP(raw string, board int, rest []string) (*Descriptor, error) {
	if len(rest) == 0 {
		return nil, invalid(raw, "TCPIP resource missing host")
	}
	d := &Descriptor{Kind: visa.InterfaceTCPIP, Board: board, Host: rest[0], Raw: raw}
	qualifiers := rest[1:]

	// Defaults for the bare "TCPIP::host::INSTR" / "TCPIP::host" forms.
	d.Device = defaultDeviceName
	d.Port = defaultVXI11Port
	portSet := false

	if len(qualifiers) == 0 {
		return d, nil
	}

	for i := 0; i < len(qualifiers); i++ {
		tok := qualifiers[i]
		last := i == len(qualifiers)-1

		switch {
		case eqFold(tok, "INSTR"):
			// Standalone terminator; defaults already applied unless a
			// device name/port were set by an earlier qualifier.
			continue

		case eqFold(tok, "SOCKET"):
			d.IsSocket = true
			d.Device = ""
			continue

		case strings.HasPrefix(strings.ToLower(tok), "hislip"):
			d.IsHiSLIP = true
			d.Device = tok
			d.Port = defaultHiSLIPPort
			continue

		default:
			// Either a device name (followed by INSTR or end-of-string)
			// or a port number (followed by SOCKET, or INSTR-default
			// otherwise).
			if n, err := strconv.ParseUint(tok, 10, 16); err == nil {
				d.Port = uint16(n)
				portSet = true
				if last || !eqFold(qualifiers[i+1], "SOCKET") {
					d.Device = defaultDeviceName
				}
				continue
			}
			if last || eqFold(qualifiers[i+1], "INSTR") {
				d.Device = tok
				continue
			}
			return nil, invalid(raw, "unrecognized TCPIP qualifier %q", tok)
		}
	}

	if d.IsSocket && !portSet {
		// No explicit port token preceded SOCKET.
		d.Port = defaultSocketPort
	}
	if d.IsSocket && d.IsHiSLIP {
		return nil, invalid(raw, "resource cannot be both SOCKET and HiSLIP")
	}
	return d, nil
}

func parseUSB(raw string, board int, rest []string) (*Descriptor, error) {
	// USB[n]::vid::pid::serial[::intf]::INSTR
	if len(rest) < 3 {
		return nil, invalid(raw, "USB resource requires vid::pid::serial")
	}
	vid, err := parseVidPid(rest[0])
	if err != nil {
		return nil, invalid(raw, "bad vendor id %q: %v", rest[0], err)
	}
	pid, err := parseVidPid(rest[1])
	if err != nil {
		return nil, invalid(raw, "bad product id %q: %v", rest[1], err)
	}
	d := &Descriptor{
		Kind:      visa.InterfaceUSB,
		Board:     board,
		VendorID:  vid,
		ProductID: pid,
		Serial:    rest[2],
		Raw:       raw,
	}
	remaining := rest[3:]
	for _, tok := range remaining {
		if eqFold(tok, "INSTR") {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, invalid(raw, "unrecognized USB qualifier %q", tok)
		}
		d.InterfaceNum = n
	}
	return d, nil
}

func parseVidPid(tok string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tok), "0x"), hexOrDecBase(tok), 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func hexOrDecBase(tok string) int {
	if strings.HasPrefix(strings.ToLower(tok), "0x") {
		return 16
	}
	return 10
}

func parseASRL(raw string, board int, rest []string) (*Descriptor, error) {
	// ASRL[n]::INSTR -- n (the board index) is the port number.
	for _, tok := range rest {
		if !eqFold(tok, "INSTR") {
			return nil, invalid(raw, "unrecognized ASRL qualifier %q", tok)
		}
	}
	return &Descriptor{Kind: visa.InterfaceASRL, Board: board, ASRLPort: board, Raw: raw}, nil
}

func parseGPIB(raw string, board int, rest []string) (*Descriptor, error) {
	// GPIB[n]::primary[::secondary]::INSTR
	if len(rest) == 0 {
		return nil, invalid(raw, "GPIB resource missing primary address")
	}
	primary, err := strconv.Atoi(rest[0])
	if err != nil {
		return nil, invalid(raw, "bad primary address %q", rest[0])
	}
	d := &Descriptor{Kind: visa.InterfaceGPIB, Board: board, Primary: primary, Secondary: noSecondaryAddress, Raw: raw}
	if len(rest) >= 2 && !eqFold(rest[1], "INSTR") {
		secondary, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, invalid(raw, "bad secondary address %q", rest[1])
		}
		d.Secondary = secondary
		if len(rest) >= 3 && !eqFold(rest[2], "INSTR") {
			return nil, invalid(raw, "unrecognized GPIB qualifier %q", rest[2])
		}
		return d, nil
	}
	if len(rest) >= 2 && !eqFold(rest[1], "INSTR") {
		return nil, invalid(raw, "unrecognized GPIB qualifier %q", rest[1])
	}
	return d, nil
}

// String reserializes d back into canonical resource-string form. Used
// by tests to verify the parser's round-trip invariant.
func (d *Descriptor) String() string {
	switch d.Kind {
	case visa.InterfaceTCPIP:
		switch {
		case d.IsSocket:
			return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", d.Board, d.Host, d.Port)
		case d.IsHiSLIP:
			return fmt.Sprintf("TCPIP%d::%s::%s", d.Board, d.Host, d.Device)
		default:
			return fmt.Sprintf("TCPIP%d::%s::%s::INSTR", d.Board, d.Host, d.Device)
		}
	case visa.InterfaceUSB:
		return fmt.Sprintf("USB%d::0x%04X::0x%04X::%s::INSTR", d.Board, d.VendorID, d.ProductID, d.Serial)
	case visa.InterfaceASRL:
		return fmt.Sprintf("ASRL%d::INSTR", d.ASRLPort)
	case visa.InterfaceGPIB:
		if d.Secondary == noSecondaryAddress {
			return fmt.Sprintf("GPIB%d::%d::INSTR", d.Board, d.Primary)
		}
		return fmt.Sprintf("GPIB%d::%d::%d::INSTR", d.Board, d.Primary, d.Secondary)
	default:
		return d.Raw
	}
}
