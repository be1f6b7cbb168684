package vxi11

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sydrvxd/OpenVISA/visa"
)

const (
	portmapperPort    = 111
	portmapperProgram = 100000
	portmapperVersion = 2
	procGetPort       = 3

	protoTCP = 6
)

// vxi11Program is the VXI-11 Core RPC program number and version,
// assigned by the VXIbus Consortium.
const (
	vxi11Program = 0x0607AF
	vxi11Version = 1
)

// resolvePort asks the portmapper on host for the TCP port serving
// (program, version), per RFC 1833's PMAPPROC_GETPORT. The portmapper
// connection is opened, queried, and closed; it plays no further part
// in the session.
func resolvePort(ctx context.Context, host string, program, version uint32, timeout time.Duration) (uint16, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", portmapperPort))
	conn, err := dialRPC(ctx, "tcp", addr, timeout)
	if err != nil {
		return 0, visa.NewError("vxi11.portmapper", visa.StatusResourceNotFound, err)
	}
	defer conn.close()

	var e xdrEncoder
	e.uint32(program)
	e.uint32(version)
	e.uint32(protoTCP)
	e.uint32(0) // port, ignored in the request

	reply, err := conn.call(portmapperProgram, portmapperVersion, procGetPort, e.bytes(), timeout)
	if err != nil {
		return 0, err
	}
	d := newXDRDecoder(reply)
	port, err := d.uint32()
	if err != nil {
		return 0, visa.NewError("vxi11.portmapper", visa.StatusIO, err)
	}
	if port == 0 {
		return 0, visa.NewError("vxi11.portmapper", visa.StatusResourceNotFound, fmt.Errorf("no VXI-11 core service registered on %s", host))
	}
	return uint16(port), nil
}
