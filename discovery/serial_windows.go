package discovery

import (
	"fmt"
	"sort"

	"golang.org/x/sys/windows/registry"
)

// SerialDiscover enumerates the COM ports Windows currently has bound
// to a driver, via HKLM\HARDWARE\DEVICEMAP\SERIALCOMM. Every value in
// that key maps a driver's internal device name to the COM port name
// it's exposed as; the values are what's discoverable, the names
// themselves aren't meaningful here.
func SerialDiscover() ([]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: open SERIALCOMM key: %w", err)
	}
	defer k.Close()

	valueNames, err := k.ReadValueNames(-1)
	if err != nil {
		return nil, fmt.Errorf("discovery: read SERIALCOMM values: %w", err)
	}

	var ports []string
	for _, name := range valueNames {
		port, _, err := k.GetStringValue(name)
		if err != nil {
			continue
		}
		ports = append(ports, port)
	}
	sort.Strings(ports)

	out := make([]string, 0, len(ports)*2)
	for i, port := range ports {
		out = append(out, port)
		out = append(out, fmt.Sprintf("ASRL%d::INSTR", i+1))
	}
	return out, nil
}
