package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"

	"github.com/wyatt727/fartlooper/internal/renderer"
)

// mdnsServiceTypes is the set of service types browsed, per spec.md §4.2.2.
var mdnsServiceTypes = []string{
	"_googlecast._tcp",
	"_airplay._tcp",
	"_raop._tcp",
	"_dlna._tcp",
}

// MDNSDiscoverer browses local mDNS service types and emits a Renderer per
// resolved service instance (spec.md §4.2.2).
type MDNSDiscoverer struct {
	log logrus.FieldLogger
}

// NewMDNS constructs an mDNS discoverer.
func NewMDNS(log logrus.FieldLogger) *MDNSDiscoverer {
	return &MDNSDiscoverer{log: log.WithField("discoverer", "mdns")}
}

// Source identifies this discoverer's renderer.Source for dedup precedence.
func (d *MDNSDiscoverer) Source() renderer.Source { return renderer.SourceMdns }

// Discover browses every service type in mdnsServiceTypes in parallel,
// emitting a renderer for each resolved entry until ctx is done.
func (d *MDNSDiscoverer) Discover(ctx context.Context, out chan<- *renderer.Renderer) {
	entries := make(chan *mdns.ServiceEntry, 32)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if r := d.toRenderer(e); r != nil {
					select {
					case out <- r:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	remaining, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, svcType := range mdnsServiceTypes {
		svcType := svcType
		go func() {
			params := mdns.DefaultParams(svcType)
			params.Entries = entries
			params.Timeout = deadlineOrDefault(remaining, 4*time.Second)
			params.DisableIPv6 = true
			if err := mdns.Query(params); err != nil {
				d.log.WithFields(logrus.Fields{"service_type": svcType, "error": err}).Debug("mdns query failed")
			}
		}()
	}

	<-remaining.Done()
	close(entries)
	<-done
}

func deadlineOrDefault(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			return remaining
		}
	}
	return fallback
}

func (d *MDNSDiscoverer) toRenderer(e *mdns.ServiceEntry) *renderer.Renderer {
	ip := e.AddrV4
	if ip == nil {
		ip = e.Addr
	}
	if ip == nil || ip.To4() == nil {
		return nil
	}

	r := renderer.New(ip.To4(), uint16(e.Port), renderer.SourceMdns)
	r.ControlPath = "/"
	r.FriendlyName = firstNonEmpty(txtValue(e.InfoFields, "fn"), e.Name)
	r.Kind = classifyMDNS(e.Name)

	for _, kv := range e.InfoFields {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			r.Metadata[parts[0]] = parts[1]
		}
	}

	return r
}

func classifyMDNS(serviceName string) renderer.Kind {
	lower := strings.ToLower(serviceName)
	switch {
	case strings.Contains(lower, "googlecast"):
		return renderer.KindChromecast
	case strings.Contains(lower, "airplay"), strings.Contains(lower, "raop"):
		return renderer.KindAirPlay
	case strings.Contains(lower, "dlna"):
		return renderer.KindDLNA
	default:
		return renderer.KindUnknown
	}
}

func txtValue(fields []string, key string) string {
	prefix := key + "="
	for _, f := range fields {
		if strings.HasPrefix(f, prefix) {
			return strings.TrimPrefix(f, prefix)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
