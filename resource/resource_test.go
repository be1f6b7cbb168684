package resource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydrvxd/OpenVISA/visa"
)

func TestTCPIPSocketParse(t *testing.T) {
	d, err := Parse("TCPIP::192.168.1.50::5025::SOCKET")
	require.NoError(t, err)
	assert.Equal(t, visa.InterfaceTCPIP, d.Kind)
	assert.Equal(t, 0, d.Board)
	assert.Equal(t, "192.168.1.50", d.Host)
	assert.EqualValues(t, 5025, d.Port)
	assert.True(t, d.IsSocket)
}

func TestTCPIPSocketExplicitPort111(t *testing.T) {
	// Port 111 also happens to be the VXI-11 default, but here it's an
	// explicit token ahead of SOCKET and must not be overwritten by
	// the no-port-given default.
	d, err := Parse("TCPIP::host::111::SOCKET")
	require.NoError(t, err)
	assert.True(t, d.IsSocket)
	assert.EqualValues(t, 111, d.Port)
}

func TestHiSLIPDefault(t *testing.T) {
	d, err := Parse("TCPIP::192.168.1.50::hislip0")
	require.NoError(t, err)
	assert.True(t, d.IsHiSLIP)
	assert.EqualValues(t, 4880, d.Port)
	assert.Equal(t, "hislip0", d.Device)
}

func TestVXI11Default(t *testing.T) {
	d, err := Parse("TCPIP::192.168.1.50::INSTR")
	require.NoError(t, err)
	assert.Equal(t, "inst0", d.Device)
	assert.EqualValues(t, 111, d.Port)
	assert.False(t, d.IsSocket)
	assert.False(t, d.IsHiSLIP)
}

func TestUSBParse(t *testing.T) {
	d, err := Parse("USB::0x1234::0x5678::MY_SERIAL::INSTR")
	require.NoError(t, err)
	assert.EqualValues(t, 0x1234, d.VendorID)
	assert.EqualValues(t, 0x5678, d.ProductID)
	assert.Equal(t, "MY_SERIAL", d.Serial)
}

func TestGPIBSecondary(t *testing.T) {
	d, err := Parse("GPIB::1::2::INSTR")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Primary)
	assert.Equal(t, 2, d.Secondary)

	d2, err := Parse("GPIB0::22::INSTR")
	require.NoError(t, err)
	assert.Equal(t, 22, d2.Primary)
	assert.Equal(t, -1, d2.Secondary)
}

func TestInvalidResourceName(t *testing.T) {
	_, err := Parse("FOOBAR::something")
	assert.Equal(t, visa.StatusInvalidResourceName, visa.StatusOf(err))
}

func TestParserRoundTrip(t *testing.T) {
	inputs := []string{
		"TCPIP0::192.168.1.50::inst0::INSTR",
		"TCPIP0::192.168.1.50::5025::SOCKET",
		"USB0::0x1234::0x5678::MY_SERIAL::INSTR",
		"ASRL1::INSTR",
		"GPIB0::22::INSTR",
		"GPIB0::1::2::INSTR",
	}
	for _, in := range inputs {
		d1, err := Parse(in)
		require.NoError(t, err, in)
		d2, err := Parse(d1.String())
		require.NoError(t, err, d1.String())
		assert.Equal(t, d1.Kind, d2.Kind, in)
		assert.Equal(t, d1.Host, d2.Host, in)
		assert.Equal(t, d1.Port, d2.Port, in)
		assert.Equal(t, d1.Device, d2.Device, in)
		assert.Equal(t, d1.IsSocket, d2.IsSocket, in)
		assert.Equal(t, d1.VendorID, d2.VendorID, in)
		assert.Equal(t, d1.ProductID, d2.ProductID, in)
		assert.Equal(t, d1.Serial, d2.Serial, in)
		assert.Equal(t, d1.ASRLPort, d2.ASRLPort, in)
		assert.Equal(t, d1.Primary, d2.Primary, in)
		assert.Equal(t, d1.Secondary, d2.Secondary, in)
	}
}

func TestCaseInsensitiveKeywords(t *testing.T) {
	variants := []string{
		"TCPIP0::192.168.1.50::inst0::INSTR",
		"tcpip0::192.168.1.50::inst0::instr",
		"TcPiP0::192.168.1.50::INST0::Instr",
	}
	var first *Descriptor
	for _, v := range variants {
		d, err := Parse(v)
		require.NoError(t, err, v)
		if first == nil {
			first = d
			continue
		}
		assert.Equal(t, first.Kind, d.Kind, v)
		assert.Equal(t, strings.ToLower(first.Device), strings.ToLower(d.Device), v)
		assert.Equal(t, first.Port, d.Port, v)
	}
}
