// Package netutil resolves the host's primary LAN attachment: the
// non-loopback IPv4 address ClipServer binds against, and the "network
// signature" DiscoveryBus/BlastOrchestrator use to invalidate caches and
// detect network changes (spec.md §4.2, §9).
package netutil

import (
	"net"

	"github.com/pkg/errors"
)

// ErrNoInterface is returned when the host has no usable non-loopback IPv4
// interface.
var ErrNoInterface = errors.New("netutil: no non-loopback IPv4 interface found")

// PrimaryIPv4 returns the first IPv4 address of the first non-loopback,
// active interface that has one; the address itself is not filtered by
// scope (a link-local 169.254.x.x address is accepted). It deliberately
// does not attempt to pick the "best" of several candidates beyond
// preferring interfaces that are up and not loopback, matching spec.md's
// description of a single primary interface.
func PrimaryIPv4() (net.IP, error) {
	ip, _, err := PrimaryInterface()
	return ip, err
}

// PrimaryInterface returns both the chosen IPv4 address and the interface
// name it was found on, used to build the network signature.
func PrimaryInterface() (net.IP, string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, "", errors.Wrap(err, "listing interfaces")
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, ok := addrIPv4(addr)
			if !ok {
				continue
			}
			return ip, iface.Name, nil
		}
	}

	return nil, "", ErrNoInterface
}

func addrIPv4(addr net.Addr) (net.IP, bool) {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return nil, false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, false
	}
	return ip4, true
}

// Signature identifies the host's current LAN attachment. It changes when
// the primary interface, its IPv4 address, or (when available) the Wi-Fi
// SSID changes, and is used to invalidate DiscoveryBus's cache and to
// detect the network changes BlastOrchestrator.OnNetworkChange reacts to
// (spec.md §9).
type Signature struct {
	PrimaryIPv4   string
	InterfaceName string
	SSID          string
}

// Equal reports whether two signatures describe the same LAN attachment.
func (s Signature) Equal(o Signature) bool {
	return s.PrimaryIPv4 == o.PrimaryIPv4 && s.InterfaceName == o.InterfaceName && s.SSID == o.SSID
}

// CurrentSignature computes the current network signature. SSID resolution
// is platform-specific and out of scope for this core (spec.md §1); SSID is
// always empty in the returned Signature, and this package offers no way to
// set it.
func CurrentSignature() (Signature, error) {
	ip, name, err := PrimaryInterface()
	if err != nil {
		return Signature{}, err
	}
	return Signature{PrimaryIPv4: ip.String(), InterfaceName: name}, nil
}

// Subnet24 returns the /24 network base (first three octets) for an IPv4
// address, used by the port-scan discoverer to enumerate .1 through .254.
func Subnet24(ip net.IP) (net.IP, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.New("netutil: not an IPv4 address")
	}
	return net.IPv4(ip4[0], ip4[1], ip4[2], 0), nil
}
