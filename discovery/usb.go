package discovery

import (
	"fmt"

	"github.com/google/gousb"
)

// USBDiscover enumerates every attached USB device and emits a resource
// string for each one exposing a USBTMC interface (class 0xFE, subclass
// 0x03). The serial number field is populated from the device's string
// descriptor when present; otherwise it is left empty, matching how
// resource.Parse accepts an empty serial segment as "any".
func USBDiscover() ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []string
	devs, err := ctx.OpenDevices(func(d *gousb.DeviceDesc) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("discovery: usb enumerate: %w", err)
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	for _, dev := range devs {
		intfNum, ok := tmcInterfaceNumber(dev)
		if !ok {
			continue
		}
		serial, _ := dev.SerialNumber()
		out = append(out, fmt.Sprintf("USB0::0x%04X::0x%04X::%s::%d::INSTR",
			uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), serial, intfNum))
	}
	return out, nil
}

// tmcInterfaceNumber reports the interface number of dev's first
// USBTMC (class 0xFE, subclass 0x03) alt-setting, matching the class
// check the usbtmc transport itself uses when opening the device.
func tmcInterfaceNumber(dev *gousb.Device) (int, bool) {
	for _, cfg := range dev.Desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if uint8(alt.Class) == usbtmcClass && uint8(alt.SubClass) == usbtmcSubclass {
					return intf.Number, true
				}
			}
		}
	}
	return 0, false
}

// These mirror transport/usbtmc's class/subclass constants; they are
// duplicated rather than imported to keep discovery from depending on
// a concrete transport package (discovery only needs to *recognize*
// USBTMC devices, not drive them).
const (
	usbtmcClass    = 0xFE
	usbtmcSubclass = 0x03
)
