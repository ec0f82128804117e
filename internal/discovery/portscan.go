package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/wyatt727/fartlooper/internal/renderer"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

// probeTimeout bounds a single TCP connect attempt (spec.md §4.2.3, §5).
const probeTimeout = 200 * time.Millisecond

// portScanConcurrency is the process-wide cap on concurrent probes (spec.md
// §5).
const portScanConcurrency = 40

// portScanSem enforces portScanConcurrency across every scan in the process.
var portScanSem = semaphore.NewWeighted(portScanConcurrency)

// candidatePorts is the canonical ordered port list probed per host
// (spec.md §4.2.3), expanded from the ranges in the spec text.
var candidatePorts = expandPorts([]portRange{
	{80, 80}, {443, 443}, {5000, 5000}, {554, 554}, {7000, 7000}, {7100, 7100},
	{8008, 8010}, {8043, 8043}, {8060, 8060}, {8080, 8080}, {8090, 8099},
	{8200, 8205}, {8873, 8873}, {9000, 9010}, {10000, 10010}, {1400, 1410},
	{49152, 49170}, {50002, 50002}, {5353, 5353},
})

type portRange struct{ lo, hi int }

func expandPorts(ranges []portRange) []uint16 {
	var out []uint16
	for _, r := range ranges {
		for p := r.lo; p <= r.hi; p++ {
			out = append(out, uint16(p))
		}
	}
	return out
}

// PortScanDiscoverer probes every host in the primary /24 subnet against
// candidatePorts, emitting a renderer for the first open port per host
// (spec.md §4.2.3, and the preserved "first port wins" Open Question in
// §9).
type PortScanDiscoverer struct {
	log logrus.FieldLogger
	// MultiPortPerHost, when true, emits one renderer per open port
	// instead of stopping at the first. Exposes the Open Question flagged
	// in spec.md §9 as an explicit flag; default false preserves the
	// source's single-renderer-per-host behavior.
	MultiPortPerHost bool
}

// NewPortScan constructs a port-scan discoverer.
func NewPortScan(log logrus.FieldLogger) *PortScanDiscoverer {
	return &PortScanDiscoverer{log: log.WithField("discoverer", "port_scan")}
}

// Source identifies this discoverer's renderer.Source for dedup precedence.
func (d *PortScanDiscoverer) Source() renderer.Source { return renderer.SourcePortScan }

// Discover enumerates the host's primary /24 subnet and probes each address
// against candidatePorts with portScanConcurrency-bounded parallelism,
// emitting a renderer for each host with at least one open port.
func (d *PortScanDiscoverer) Discover(ctx context.Context, out chan<- *renderer.Renderer) {
	primary, err := netutil.PrimaryIPv4()
	if err != nil {
		d.log.WithError(err).Warn("no primary interface, skipping port scan")
		return
	}
	base, err := netutil.Subnet24(primary)
	if err != nil {
		d.log.WithError(err).Warn("failed to compute subnet")
		return
	}

	d.scanSubnet(ctx, base, primary, out)
}

// scanSubnet enumerates host 1 through 254 of base's /24 and probes each,
// skipping primary itself. Split out of Discover so tests can drive it
// directly against a synthetic loopback subnet instead of the host's real
// primary interface.
func (d *PortScanDiscoverer) scanSubnet(ctx context.Context, base, primary net.IP, out chan<- *renderer.Renderer) {
	base4 := base.To4()
	if base4 == nil {
		d.log.Warn("subnet base is not an IPv4 address, skipping port scan")
		return
	}

	sem := portScanSem
	var wg sync.WaitGroup

	for host := 1; host <= 254; host++ {
		host := host
		ip := net.IPv4(base4[0], base4[1], base4[2], byte(host))
		if ip.Equal(primary) {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break // ctx cancelled/timed out
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			d.probeHost(ctx, ip, out)
		}()
	}

	wg.Wait()
}

func (d *PortScanDiscoverer) probeHost(ctx context.Context, ip net.IP, out chan<- *renderer.Renderer) {
	for _, port := range candidatePorts {
		if ctx.Err() != nil {
			return
		}
		if !probeTCP(ip, port, probeTimeout) {
			continue
		}

		kind := renderer.KindGenericUPnP
		switch port {
		case 1400, 1410:
			kind = renderer.KindSonos
		case 8008, 8009, 8010:
			kind = renderer.KindChromecast
		}

		r := renderer.New(ip, port, renderer.SourcePortScan)
		r.Kind = kind
		r.ControlPath = fallbackControlPath(kind)
		r.FriendlyName = renderer.ID(ip, port)
		r.Metadata["probed_port"] = strconv.Itoa(int(port))

		select {
		case out <- r:
		case <-ctx.Done():
			return
		}

		if !d.MultiPortPerHost {
			return
		}
	}
}

// probeTCP attempts a TCP connect to ip:port within timeout.
func probeTCP(ip net.IP, port uint16, timeout time.Duration) bool {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp4", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
