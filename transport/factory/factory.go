// Package factory constructs the concrete Transport implementation a
// parsed resource descriptor selects. It is kept separate from package
// transport because it must import every concrete transport package,
// which would otherwise form an import cycle back through
// transport.Transport.
package factory

import (
	"fmt"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/transport/gpib"
	"github.com/sydrvxd/OpenVISA/transport/hislip"
	"github.com/sydrvxd/OpenVISA/transport/rawsocket"
	"github.com/sydrvxd/OpenVISA/transport/serial"
	"github.com/sydrvxd/OpenVISA/transport/usbtmc"
	"github.com/sydrvxd/OpenVISA/transport/vxi11"
)

// New builds the concrete Transport for desc, unopened.
func New(desc *resource.Descriptor) (transport.Transport, error) {
	switch transport.Select(desc) {
	case transport.SelectHiSLIP:
		return hislip.New(), nil
	case transport.SelectRawSocket:
		return rawsocket.New(), nil
	case transport.SelectVXI11:
		return vxi11.New(), nil
	case transport.SelectUSBTMC:
		return usbtmc.New(), nil
	case transport.SelectSerial:
		return serial.New(), nil
	case transport.SelectGPIB:
		return gpib.New(), nil
	default:
		return nil, fmt.Errorf("no transport for resource %q", desc.Raw)
	}
}
