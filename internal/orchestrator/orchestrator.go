// Package orchestrator drives the full blast pipeline: start the clip
// server, run discovery, fan out UPnP control calls, and publish live
// Metrics (spec.md §4.4, §5, §7).
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
	"github.com/wyatt727/fartlooper/internal/control"
	"github.com/wyatt727/fartlooper/internal/discovery"
	"github.com/wyatt727/fartlooper/internal/renderer"
	"github.com/wyatt727/fartlooper/lib/backoff"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

// ErrAlreadyRunning is returned by Start/DiscoverOnly when a blast is
// already in progress (spec.md §6 idempotency note).
var ErrAlreadyRunning = errors.New("orchestrator: blast already in progress")

// ErrNetworkChangeRetryExhausted is the fatal error bubbled to Failed after
// three failed network-change retries (spec.md §4.4, §7).
var ErrNetworkChangeRetryExhausted = errors.New("orchestrator: network change retry exhausted")

// clipServer is the subset of *clipserver.ClipServer the orchestrator
// drives; expressed as an interface so tests can substitute a fake.
type clipServer interface {
	Start(cfg clipconfig.ClipConfig) (string, error)
	Swap(cfg clipconfig.ClipConfig)
	Stop() error
	BaseURL() string
}

// discoveryBus is the subset of *discovery.Bus the orchestrator drives.
type discoveryBus interface {
	Discover(ctx context.Context, timeout time.Duration, methods []discovery.Method, enableCache bool, cacheTTL time.Duration) <-chan *renderer.Renderer
	InvalidateCache()
	RawHitsBySource() map[renderer.Source]int
}

// BlastOrchestrator sequences ClipServer, DiscoveryBus and ControlClient
// into one blast operation (spec.md §2, §4.4).
type BlastOrchestrator struct {
	log    logrus.FieldLogger
	server clipServer
	bus    discoveryBus
	sink   MetricsSink

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	metrics   Metrics
	outcomes  []DeviceOutcome
	renderers map[string]*renderer.Renderer

	clientsMu sync.Mutex
	clients   map[string]*control.Client
}

// New constructs an idle BlastOrchestrator. sink may be nil, in which case
// Metrics snapshots are computed but never published.
func New(log logrus.FieldLogger, server clipServer, bus discoveryBus, sink MetricsSink) *BlastOrchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlastOrchestrator{
		log:     log.WithField("component", "orchestrator"),
		server:  server,
		bus:     bus,
		sink:    sink,
		clients: map[string]*control.Client{},
	}
}

// Start runs the full pipeline: bind the clip server, run discovery, and
// fan out control tasks against every controllable renderer emitted. It
// blocks until the blast reaches Completed or Failed. Concurrent calls are
// rejected with ErrAlreadyRunning.
func (o *BlastOrchestrator) Start(ctx context.Context, clip clipconfig.ClipConfig, cfg BlastConfig) error {
	if !o.beginRun() {
		return ErrAlreadyRunning
	}
	defer o.endRun()

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	blastID := uuid.NewString()
	o.resetState(blastID)

	blastStart := time.Now()

	o.setStage(StageHTTPStarting)
	httpStart := time.Now()
	baseURL, err := o.server.Start(clip)
	if err != nil {
		o.log.WithError(err).Error("clip server failed to start")
		o.setStage(StageFailed)
		return errors.Wrap(err, "starting clip server")
	}
	defer func() {
		if err := o.server.Stop(); err != nil {
			o.log.WithError(err).Warn("clip server stop failed")
		}
	}()

	o.mu.Lock()
	o.metrics.HTTPStartupMs = time.Since(httpStart).Milliseconds()
	o.mu.Unlock()
	o.publish()

	clipURL := baseURL + "/media/current"
	o.runDiscoveryAndBlast(runCtx, cfg, clipURL, blastStart)

	return nil
}

// DiscoverOnly runs discovery without starting the clip server or issuing
// any control calls (spec.md §4.4).
func (o *BlastOrchestrator) DiscoverOnly(ctx context.Context, cfg BlastConfig) ([]*renderer.Renderer, error) {
	if !o.beginRun() {
		return nil, ErrAlreadyRunning
	}
	defer o.endRun()

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	o.resetState(uuid.NewString())
	o.setStage(StageDiscovering)

	start := time.Now()
	found := o.collectRenderers(runCtx, cfg)

	o.mu.Lock()
	o.metrics.DiscoveryElapsedMs = time.Since(start).Milliseconds()
	o.metrics.DevicesByMethod = devicesByMethodFromRawHits(o.bus.RawHitsBySource())
	o.mu.Unlock()

	o.setStage(StageCompleted)

	out := make([]*renderer.Renderer, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	return out, nil
}

// Stop cooperatively cancels an in-progress blast. A no-op when idle.
func (o *BlastOrchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// OnNetworkChange aborts the current discovery window, invalidates the
// discovery cache, and retries the whole pipeline up to three times with
// the spec.md §4.4 fixed exponential backoff (3s, 6s, 12s). It is a no-op
// if the signature has not actually changed or no blast is running.
func (o *BlastOrchestrator) OnNetworkChange(ctx context.Context, clip clipconfig.ClipConfig, cfg BlastConfig, sig netutil.Signature) error {
	o.mu.Lock()
	inProgress := o.running
	o.mu.Unlock()
	if !inProgress {
		return nil
	}

	current, err := netutil.CurrentSignature()
	if err == nil && current.Equal(sig) {
		return nil
	}

	o.Stop()
	o.bus.InvalidateCache()

	seq := backoff.New()
	for {
		delay, ok := seq.Next()
		if !ok {
			o.setStage(StageFailed)
			return ErrNetworkChangeRetryExhausted
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := o.Start(ctx, clip, cfg); err == nil {
			return nil
		} else if !errors.Is(err, ErrAlreadyRunning) {
			o.log.WithError(err).Warn("network-change retry failed")
		}
	}
}

// Outcomes returns a snapshot of the per-device outcomes recorded so far.
func (o *BlastOrchestrator) Outcomes() []DeviceOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]DeviceOutcome, len(o.outcomes))
	copy(out, o.outcomes)
	return out
}

// Snapshot returns a copy of the current Metrics.
func (o *BlastOrchestrator) Snapshot() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics.clone()
}

func (o *BlastOrchestrator) beginRun() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *BlastOrchestrator) endRun() {
	o.mu.Lock()
	o.running = false
	o.cancel = nil
	o.mu.Unlock()
}

func (o *BlastOrchestrator) resetState(blastID string) {
	o.mu.Lock()
	o.metrics = newMetrics(blastID)
	o.outcomes = nil
	o.renderers = map[string]*renderer.Renderer{}
	o.mu.Unlock()
}

func (o *BlastOrchestrator) setStage(stage Stage) {
	o.mu.Lock()
	o.metrics.Stage = stage
	o.mu.Unlock()
	o.publish()
}

func (o *BlastOrchestrator) publish() {
	if o.sink == nil {
		return
	}
	o.sink.Publish(o.Snapshot())
}

// runDiscoveryAndBlast implements the fan-in/fan-out pipeline of spec.md
// §4.4: control tasks start as soon as a renderer is emitted, bounded by a
// semaphore sized to FanoutParallelism.
func (o *BlastOrchestrator) runDiscoveryAndBlast(ctx context.Context, cfg BlastConfig, clipURL string, blastStart time.Time) {
	o.setStage(StageDiscovering)
	discoveryStart := time.Now()

	sem := semaphore.NewWeighted(maxInt64(cfg.FanoutParallelism, 1))
	var wg sync.WaitGroup

	out := o.bus.Discover(ctx, cfg.DiscoveryTimeout, cfg.DiscoveryMethods, cfg.EnableDiscoveryCache, cfg.DiscoveryCacheTTL)
	for r := range out {
		r := r
		o.recordRenderer(r)

		if !r.Kind.Controllable() {
			o.recordOutcome(DeviceOutcome{
				RendererID: r.ID,
				Attempted:  false,
				Error:      &OutcomeError{Kind: "Unsupported", Message: "renderer kind is not UPnP-controllable"},
			})
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			o.recordOutcome(DeviceOutcome{RendererID: r.ID, Attempted: true, Error: &OutcomeError{Kind: "Cancelled", Message: err.Error()}})
			continue
		}

		wg.Add(1)
		o.setStage(StageBlasting)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			o.runControlTask(ctx, r, clipURL, cfg.SoapTimeout)
		}()
	}

	o.mu.Lock()
	o.metrics.DiscoveryElapsedMs = time.Since(discoveryStart).Milliseconds()
	o.metrics.DevicesByMethod = devicesByMethodFromRawHits(o.bus.RawHitsBySource())
	o.mu.Unlock()

	o.setStage(StageCompleting)
	wg.Wait()

	o.mu.Lock()
	o.metrics.BlastElapsedMs = time.Since(blastStart).Milliseconds()
	o.mu.Unlock()

	o.setStage(StageCompleted)
}

func (o *BlastOrchestrator) runControlTask(ctx context.Context, r *renderer.Renderer, clipURL string, timeout time.Duration) {
	client := o.clientFor(r.ID)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := client.PushClip(callCtx, r, clipURL)
	latency := time.Since(start).Milliseconds()

	outcome := DeviceOutcome{RendererID: r.ID, Attempted: true, LatencyMs: latency}
	switch {
	case err == nil:
		outcome.SetURIOk = true
		outcome.PlayOk = true
	case ctx.Err() != nil:
		outcome.Error = &OutcomeError{Kind: "Cancelled", Message: err.Error()}
	default:
		outcome.Error = classifyControlError(err)
		// SetAVTransportURI strictly precedes Play (spec.md §5); a fault on
		// Play alone still means the URI push succeeded.
		var fault *control.SoapFault
		if errors.As(err, &fault) && fault.Action == "Play" {
			outcome.SetURIOk = true
		}
	}

	o.recordOutcome(outcome)
}

func classifyControlError(err error) *OutcomeError {
	var fault *control.SoapFault
	switch {
	case errors.As(err, &fault):
		return &OutcomeError{Kind: "SoapFault", Message: fault.Error()}
	case errors.Is(err, control.ErrUnreachable):
		return &OutcomeError{Kind: "TcpUnreachable", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &OutcomeError{Kind: "SoapTimeout", Message: err.Error()}
	default:
		return &OutcomeError{Kind: "TransportError", Message: err.Error()}
	}
}

func (o *BlastOrchestrator) clientFor(rendererID string) *control.Client {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	c, ok := o.clients[rendererID]
	if !ok {
		c = control.New(o.log)
		o.clients[rendererID] = c
	}
	return c
}

func (o *BlastOrchestrator) recordRenderer(r *renderer.Renderer) {
	o.mu.Lock()
	o.renderers[r.ID] = r
	o.metrics.DevicesFoundTotal = len(o.renderers)
	o.mu.Unlock()

	o.publish()
}

// devicesByMethodFromRawHits converts the bus's pre-dedup per-source tallies
// into the published breakdown. Unlike a tally keyed by each renderer's
// post-merge winning Source, this reflects what every discoverer actually
// found, so a device hit by more than one method is counted in each of
// them (spec.md §8: sum(DevicesByMethod) >= DevicesFoundTotal).
func devicesByMethodFromRawHits(hits map[renderer.Source]int) DevicesByMethod {
	return DevicesByMethod{
		SSDP:     hits[renderer.SourceSsdp],
		MDNS:     hits[renderer.SourceMdns],
		PortScan: hits[renderer.SourcePortScan],
	}
}

func (o *BlastOrchestrator) recordOutcome(outcome DeviceOutcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)

	cancelled := outcome.Error != nil && outcome.Error.Kind == "Cancelled"
	if outcome.Attempted && !cancelled {
		o.metrics.ConnectionsAttempted++
		if outcome.SetURIOk && outcome.PlayOk {
			o.metrics.Successes++
		} else {
			o.metrics.Failures++
		}
	}
	o.metrics.PerDeviceLatencyMs[outcome.RendererID] = outcome.LatencyMs
	o.recalculateManufacturerRatesLocked()
	o.mu.Unlock()

	o.publish()
}

// recalculateManufacturerRatesLocked recomputes success_rate_by_manufacturer
// from the outcomes recorded so far. Callers must hold o.mu.
func (o *BlastOrchestrator) recalculateManufacturerRatesLocked() {
	type tally struct{ ok, total int }
	byMfr := map[string]*tally{}

	for _, outcome := range o.outcomes {
		if !outcome.Attempted || (outcome.Error != nil && outcome.Error.Kind == "Cancelled") {
			continue
		}
		r, ok := o.renderers[outcome.RendererID]
		mfr := "unknown"
		if ok {
			if m, present := r.Metadata["manufacturer"]; present && m != "" {
				mfr = m
			} else {
				mfr = r.Kind.String()
			}
		}
		t, ok := byMfr[mfr]
		if !ok {
			t = &tally{}
			byMfr[mfr] = t
		}
		t.total++
		if outcome.SetURIOk && outcome.PlayOk {
			t.ok++
		}
	}

	rates := make(map[string]float64, len(byMfr))
	for mfr, t := range byMfr {
		if t.total > 0 {
			rates[mfr] = float64(t.ok) / float64(t.total)
		}
	}
	o.metrics.SuccessRateByManufacturer = rates
}

// collectRenderers drains the discovery bus into a map for DiscoverOnly.
func (o *BlastOrchestrator) collectRenderers(ctx context.Context, cfg BlastConfig) map[string]*renderer.Renderer {
	found := map[string]*renderer.Renderer{}
	out := o.bus.Discover(ctx, cfg.DiscoveryTimeout, cfg.DiscoveryMethods, cfg.EnableDiscoveryCache, cfg.DiscoveryCacheTTL)
	for r := range out {
		found[r.ID] = r
		o.recordRenderer(r)
	}
	return found
}

func maxInt64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
