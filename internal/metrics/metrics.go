// Package metrics implements a Prometheus-backed sink for the orchestrator's
// live Metrics snapshots (spec.md §3, §6 "Metrics surface").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wyatt727/fartlooper/internal/orchestrator"
)

// Sink publishes orchestrator.Metrics snapshots as Prometheus gauges and
// counters. It implements orchestrator.MetricsSink.
type Sink struct {
	stage                *prometheus.GaugeVec
	httpStartupMs        prometheus.Gauge
	discoveryElapsedMs   prometheus.Gauge
	blastElapsedMs       prometheus.Gauge
	devicesFoundTotal    prometheus.Gauge
	devicesByMethod      *prometheus.GaugeVec
	connectionsAttempted prometheus.Gauge
	successes            prometheus.Gauge
	failures             prometheus.Gauge
	deviceLatencyMs      *prometheus.GaugeVec
	successRateByMfr     *prometheus.GaugeVec
}

// NewSink builds a Sink and registers its collectors against reg. Duplicate
// registration (the same Sink wired twice against the same registry) is
// tolerated, matching the teacher's own "ignore if already registered"
// monitoring setup.
func NewSink(reg *prometheus.Registry) *Sink {
	s := &Sink{
		stage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "blast_stage",
			Help:      "Current blast stage (1=active) keyed by stage name.",
		}, []string{"stage"}),
		httpStartupMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "http_startup_ms",
			Help:      "Time taken to bind the clip server, in milliseconds.",
		}),
		discoveryElapsedMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "discovery_elapsed_ms",
			Help:      "Wall-clock time spent in the discovery window, in milliseconds.",
		}),
		blastElapsedMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "blast_elapsed_ms",
			Help:      "Wall-clock time spent on the whole blast, in milliseconds.",
		}),
		devicesFoundTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "devices_found_total",
			Help:      "Total distinct renderers found during the current blast.",
		}),
		devicesByMethod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "devices_found_by_method",
			Help:      "Renderer hits per discovery method before deduplication; a device found by several methods counts under each.",
		}, []string{"method"}),
		connectionsAttempted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "connections_attempted",
			Help:      "Control attempts issued against controllable renderers.",
		}),
		successes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "connections_succeeded",
			Help:      "Control attempts that completed set_uri_ok and play_ok.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "connections_failed",
			Help:      "Control attempts that did not complete successfully.",
		}),
		deviceLatencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "device_latency_ms",
			Help:      "Per-renderer control latency in milliseconds.",
		}, []string{"renderer_id"}),
		successRateByMfr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fartlooper",
			Name:      "success_rate_by_manufacturer",
			Help:      "Fraction of successful control attempts, grouped by manufacturer.",
		}, []string{"manufacturer"}),
	}

	collectors := []prometheus.Collector{
		s.stage, s.httpStartupMs, s.discoveryElapsedMs, s.blastElapsedMs,
		s.devicesFoundTotal, s.devicesByMethod, s.connectionsAttempted,
		s.successes, s.failures, s.deviceLatencyMs, s.successRateByMfr,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are
				continue
			}
		}
	}

	return s
}

// Publish renders one orchestrator.Metrics snapshot onto the registered
// collectors. Called every time the orchestrator's snapshot changes
// (spec.md §6).
func (s *Sink) Publish(m orchestrator.Metrics) {
	s.stage.Reset()
	s.stage.WithLabelValues(m.Stage.String()).Set(1)

	s.httpStartupMs.Set(float64(m.HTTPStartupMs))
	s.discoveryElapsedMs.Set(float64(m.DiscoveryElapsedMs))
	s.blastElapsedMs.Set(float64(m.BlastElapsedMs))
	s.devicesFoundTotal.Set(float64(m.DevicesFoundTotal))

	s.devicesByMethod.WithLabelValues("ssdp").Set(float64(m.DevicesByMethod.SSDP))
	s.devicesByMethod.WithLabelValues("mdns").Set(float64(m.DevicesByMethod.MDNS))
	s.devicesByMethod.WithLabelValues("port_scan").Set(float64(m.DevicesByMethod.PortScan))

	s.connectionsAttempted.Set(float64(m.ConnectionsAttempted))
	s.successes.Set(float64(m.Successes))
	s.failures.Set(float64(m.Failures))

	for id, latency := range m.PerDeviceLatencyMs {
		s.deviceLatencyMs.WithLabelValues(id).Set(float64(latency))
	}
	for mfr, rate := range m.SuccessRateByManufacturer {
		s.successRateByMfr.WithLabelValues(mfr).Set(float64(rate))
	}
}
