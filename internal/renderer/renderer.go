// Package renderer defines the addressable control endpoint type discovered
// on the LAN and the merge policy used to deduplicate it across discoverers.
package renderer

import (
	"fmt"
	"net"
)

// Kind classifies a Renderer by the device family inferred from discovery
// metadata. Chromecast and AirPlay are reported but are not controllable by
// ControlClient.
type Kind int

const (
	KindUnknown Kind = iota
	KindSonos
	KindChromecast
	KindDLNA
	KindRoku
	KindAirPlay
	KindGenericUPnP
)

func (k Kind) String() string {
	switch k {
	case KindSonos:
		return "sonos"
	case KindChromecast:
		return "chromecast"
	case KindDLNA:
		return "dlna"
	case KindRoku:
		return "roku"
	case KindAirPlay:
		return "airplay"
	case KindGenericUPnP:
		return "generic_upnp"
	default:
		return "unknown"
	}
}

// Controllable reports whether ControlClient can drive this kind of
// renderer via UPnP AVTransport. Chromecast and AirPlay devices coexist on
// the network but speak a different control protocol (spec.md §1 Non-goals).
func (k Kind) Controllable() bool {
	return k != KindChromecast && k != KindAirPlay
}

// Source identifies which discoverer produced a Renderer record. Precedence
// for dedup purposes is Ssdp > Mdns > PortScan, in ascending numeric order
// here so that a plain ">" comparison implements it.
type Source int

const (
	SourcePortScan Source = iota
	SourceMdns
	SourceSsdp
)

func (s Source) String() string {
	switch s {
	case SourceSsdp:
		return "ssdp"
	case SourceMdns:
		return "mdns"
	case SourcePortScan:
		return "port_scan"
	default:
		return "unknown"
	}
}

// Renderer is an addressable control endpoint discovered on the LAN.
type Renderer struct {
	ID           string
	FriendlyName string
	IP           net.IP
	Port         uint16
	ControlPath  string
	Kind         Kind
	Source       Source
	Metadata     map[string]string
}

// ID derives the stable dedup key for an ip:port pair.
func ID(ip net.IP, port uint16) string {
	return fmt.Sprintf("%s:%d", ip.String(), port)
}

// New builds a Renderer with its ID derived from ip/port and a non-nil
// metadata map.
func New(ip net.IP, port uint16, source Source) *Renderer {
	return &Renderer{
		ID:       ID(ip, port),
		IP:       ip,
		Port:     port,
		Source:   source,
		Metadata: map[string]string{},
	}
}

// BaseURL returns the http://ip:port origin for this renderer.
func (r *Renderer) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", r.IP.String(), r.Port)
}

// ControlURL returns the absolute URL to POST AVTransport SOAP actions to.
func (r *Renderer) ControlURL() string {
	return r.BaseURL() + r.ControlPath
}

// Merge folds incoming into existing per spec.md §3/§4.2 dedup policy:
//
//   - if incoming has strictly higher source precedence, its non-empty
//     fields win, field by field;
//   - otherwise existing fields are kept;
//   - metadata maps are always unioned, with the higher-precedence record's
//     keys winning on collision.
//
// existing is mutated in place and returned for convenience.
func Merge(existing, incoming *Renderer) *Renderer {
	if existing == nil {
		return incoming
	}
	if incoming == nil {
		return existing
	}

	winner, loser := existing, incoming
	incomingWins := incoming.Source > existing.Source
	if incomingWins {
		winner, loser = incoming, existing
	}

	merged := *existing
	if incomingWins {
		if incoming.FriendlyName != "" {
			merged.FriendlyName = incoming.FriendlyName
		}
		if incoming.ControlPath != "" {
			merged.ControlPath = incoming.ControlPath
		}
		if incoming.Kind != KindUnknown {
			merged.Kind = incoming.Kind
		}
		if incoming.Port != 0 {
			merged.Port = incoming.Port
		}
		if incoming.IP != nil {
			merged.IP = incoming.IP
		}
		merged.Source = incoming.Source
	}

	merged.Metadata = unionMetadata(loser.Metadata, winner.Metadata)

	*existing = merged
	return existing
}

// unionMetadata merges two metadata maps with values from winner taking
// precedence over base on key collision.
func unionMetadata(base, winner map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(winner))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range winner {
		out[k] = v
	}
	return out
}
