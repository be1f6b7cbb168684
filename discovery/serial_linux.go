package discovery

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// serialPrefixes are the /dev entry name prefixes recognized as a
// serial port on Linux: classic 8250 UARTs, USB-serial adapters, and
// USB CDC-ACM devices.
var serialPrefixes = []string{"ttyS", "ttyUSB", "ttyACM"}

// SerialDiscover scans /dev for entries matching serialPrefixes and
// emits both the path form and the numeric ASRLn::INSTR form for each,
// ordered by device name so results are stable across calls.
func SerialDiscover() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("discovery: read /dev: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !hasPrefix(e.Name(), serialPrefixes) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names)*2)
	for i, name := range names {
		out = append(out, "/dev/"+name)
		out = append(out, fmt.Sprintf("ASRL%d::INSTR", i+1))
	}
	return out, nil
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
