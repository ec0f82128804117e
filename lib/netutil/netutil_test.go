package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubnet24(t *testing.T) {
	base, err := Subnet24(net.ParseIP("192.168.4.57"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.4.0", base.String())
}

func TestSubnet24RejectsIPv6(t *testing.T) {
	_, err := Subnet24(net.ParseIP("2001:db8::1"))
	assert.Error(t, err)
}

func TestSignatureEqual(t *testing.T) {
	a := Signature{PrimaryIPv4: "192.168.4.2", InterfaceName: "en0", SSID: "home"}
	b := Signature{PrimaryIPv4: "192.168.4.2", InterfaceName: "en0", SSID: "home"}
	c := Signature{PrimaryIPv4: "192.168.4.3", InterfaceName: "en0", SSID: "home"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestSignatureEqualDiffersBySSID(t *testing.T) {
	a := Signature{PrimaryIPv4: "192.168.4.2", InterfaceName: "en0", SSID: "home"}
	b := Signature{PrimaryIPv4: "192.168.4.2", InterfaceName: "en0", SSID: "guest"}
	assert.False(t, a.Equal(b))
}

// PrimaryInterface/PrimaryIPv4/CurrentSignature depend on the host's real
// network configuration, so only exercise that they return a consistent
// pair rather than asserting a specific address.
func TestPrimaryInterfaceConsistentWithCurrentSignature(t *testing.T) {
	ip, name, err := PrimaryInterface()
	if err != nil {
		t.Skip("no usable non-loopback IPv4 interface in this environment")
	}

	sig, err := CurrentSignature()
	require.NoError(t, err)
	assert.Equal(t, ip.String(), sig.PrimaryIPv4)
	assert.Equal(t, name, sig.InterfaceName)
}
