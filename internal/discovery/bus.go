// Package discovery composes the three UPnP/DLNA renderer discoverers
// (SSDP, mDNS, TCP port scan) into one deduplicated stream (spec.md §4.2).
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wyatt727/fartlooper/internal/renderer"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

// Method identifies one of the three discovery techniques, used to select
// which discoverers Bus.Discover runs.
type Method int

const (
	MethodSSDP Method = iota
	MethodMDNS
	MethodPortScan
)

// discoverer is the shared abstraction spec.md §9 calls for: a
// differently-implemented producer yielding the same record type, run
// concurrently with its siblings and merged by a shared dedup policy.
type discoverer interface {
	Source() renderer.Source
	Discover(ctx context.Context, out chan<- *renderer.Renderer)
}

// Bus runs the enabled discoverers in parallel for a bounded window and
// emits each distinct renderer at most once.
type Bus struct {
	log logrus.FieldLogger

	ssdp     discoverer
	mdns     discoverer
	portScan *PortScanDiscoverer

	cacheMu sync.Mutex
	cache   *cachedResult

	rawMu   sync.Mutex
	rawHits map[renderer.Source]int
}

type cachedResult struct {
	signature netutil.Signature
	renderers []*renderer.Renderer
	rawHits   map[renderer.Source]int
	expiresAt time.Time
}

// New constructs a Bus with all three discoverers wired.
func New(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "discovery_bus")
	return &Bus{
		log:      log,
		ssdp:     NewSSDP(log),
		mdns:     NewMDNS(log),
		portScan: NewPortScan(log),
	}
}

// PortScanDiscoverer exposes the embedded port-scan discoverer so callers
// can toggle MultiPortPerHost (spec.md §9 Open Question).
func (b *Bus) PortScanDiscoverer() *PortScanDiscoverer { return b.portScan }

// Discover starts the selected discoverers in parallel and streams
// deduplicated renderers on the returned channel, which is closed when
// timeout elapses or ctx is cancelled. If enableCache is true and a prior
// result for the current network signature is still within cacheTTL, the
// cached result is replayed instead of re-running discovery.
func (b *Bus) Discover(ctx context.Context, timeout time.Duration, methods []Method, enableCache bool, cacheTTL time.Duration) <-chan *renderer.Renderer {
	out := make(chan *renderer.Renderer, 64)

	if enableCache {
		if cached, hits, ok := b.lookupCache(); ok {
			b.setRawHits(hits)
			go func() {
				defer close(out)
				for _, r := range cached {
					select {
					case out <- r:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out
		}
	}

	go func() {
		defer close(out)
		collected := b.run(ctx, timeout, methods, out)
		if enableCache {
			b.storeCache(collected, cacheTTL)
		}
	}()

	return out
}

func (b *Bus) run(ctx context.Context, timeout time.Duration, methods []Method, out chan<- *renderer.Renderer) []*renderer.Renderer {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw := make(chan *renderer.Renderer, 64)

	g, gCtx := errgroup.WithContext(ctx)
	for _, m := range methods {
		d := b.discovererFor(m)
		if d == nil {
			continue
		}
		g.Go(func() error {
			d.Discover(gCtx, raw)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(raw)
	}()

	dedup := map[string]*renderer.Renderer{}
	var order []string
	hits := map[renderer.Source]int{}

	for r := range raw {
		hits[r.Source]++
		if existing, ok := dedup[r.ID]; ok {
			renderer.Merge(existing, r)
			continue
		}
		dedup[r.ID] = r
		order = append(order, r.ID)
		select {
		case out <- r:
		case <-ctx.Done():
		}
	}
	b.setRawHits(hits)

	result := make([]*renderer.Renderer, 0, len(order))
	for _, id := range order {
		result = append(result, dedup[id])
	}
	return result
}

func (b *Bus) setRawHits(hits map[renderer.Source]int) {
	b.rawMu.Lock()
	b.rawHits = hits
	b.rawMu.Unlock()
}

// RawHitsBySource returns the number of pre-dedup hits each discovery method
// contributed during the most recently completed Discover call, including a
// replayed cache hit. A device found by more than one method is counted once
// per contributing method here, so sum(RawHitsBySource) can exceed the
// number of distinct renderers emitted on Discover's channel.
func (b *Bus) RawHitsBySource() map[renderer.Source]int {
	b.rawMu.Lock()
	defer b.rawMu.Unlock()
	out := make(map[renderer.Source]int, len(b.rawHits))
	for k, v := range b.rawHits {
		out[k] = v
	}
	return out
}

func (b *Bus) discovererFor(m Method) discoverer {
	switch m {
	case MethodSSDP:
		return b.ssdp
	case MethodMDNS:
		return b.mdns
	case MethodPortScan:
		return b.portScan
	default:
		return nil
	}
}

func (b *Bus) lookupCache() ([]*renderer.Renderer, map[renderer.Source]int, bool) {
	sig, err := netutil.CurrentSignature()
	if err != nil {
		return nil, nil, false
	}

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if b.cache == nil || !b.cache.signature.Equal(sig) || time.Now().After(b.cache.expiresAt) {
		return nil, nil, false
	}
	return b.cache.renderers, b.cache.rawHits, true
}

func (b *Bus) storeCache(renderers []*renderer.Renderer, ttl time.Duration) {
	sig, err := netutil.CurrentSignature()
	if err != nil {
		return
	}
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.cache = &cachedResult{
		signature: sig,
		renderers: renderers,
		rawHits:   b.RawHitsBySource(),
		expiresAt: time.Now().Add(ttl),
	}
}

// InvalidateCache atomically drops any cached discovery result, used when
// BlastOrchestrator.OnNetworkChange detects a signature change (spec.md
// §4.4, §9).
func (b *Bus) InvalidateCache() {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.cache = nil
}
