package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
	"github.com/wyatt727/fartlooper/internal/clipserver"
	"github.com/wyatt727/fartlooper/internal/discovery"
	fmetrics "github.com/wyatt727/fartlooper/internal/metrics"
	"github.com/wyatt727/fartlooper/internal/orchestrator"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

// networkPollInterval is how often a running blast cycle checks whether the
// primary interface changed, since the host has no native network-change
// notification API this core can hook without a platform integration.
const networkPollInterval = 2 * time.Second

func newServeCmd() *cobra.Command {
	var disc discoveryFlags
	var clip clipFlags
	var metricsAddr string
	var reblastInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the metrics endpoint up, blasting the LAN once (or on a fixed interval)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := disc.toBlastConfig()
			if err != nil {
				return err
			}
			clipCfg, err := clip.resolve()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			sink := fmetrics.NewSink(reg)

			server := clipserver.New(log)
			bus := discovery.New(log)
			bus.PortScanDiscoverer().MultiPortPerHost = cfg.PortScanMultiPortPerHost

			o := orchestrator.New(log, server, bus, sink)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux(reg)}
				go func() {
					log.WithField("addr", metricsAddr).Info("metrics server started")
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.WithError(err).Error("metrics server exited unexpectedly")
					}
				}()
				defer metricsSrv.Close()
			}

			for {
				runBlastCycle(ctx, o, clipCfg, cfg)

				if reblastInterval <= 0 || ctx.Err() != nil {
					break
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(reblastInterval):
				}
			}

			<-ctx.Done()
			return nil
		},
	}

	disc.register(cmd)
	clip.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	cmd.Flags().DurationVar(&reblastInterval, "reblast-interval", 0, "re-run the blast on this interval; 0 blasts once at startup")
	return cmd
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// runBlastCycle runs one Start call while racing a network-change watcher
// against it. If the primary interface changes mid-blast, OnNetworkChange
// takes over the retry, matching BlastOrchestrator's actual contract: it is
// only meaningful to call while a blast is in progress (§4.4). The watcher
// is torn down as soon as the blast itself finishes.
func runBlastCycle(ctx context.Context, o *orchestrator.BlastOrchestrator, clipCfg clipconfig.ClipConfig, cfg orchestrator.BlastConfig) {
	startSig, err := netutil.CurrentSignature()
	if err != nil {
		log.WithError(err).Warn("could not determine network signature; network-change detection disabled for this cycle")
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watchForChangeOnce(watchCtx, ctx, o, clipCfg, cfg, startSig)
	}()

	if err := o.Start(ctx, clipCfg, cfg); err != nil {
		log.WithError(err).Warn("blast cycle failed")
	}
	cancelWatch()
	<-watchDone
}

// watchForChangeOnce polls until the primary interface differs from last,
// then calls OnNetworkChange exactly once under retryCtx and returns.
// Cancelling ctx stops the polling but not a retry already under way.
func watchForChangeOnce(ctx, retryCtx context.Context, o *orchestrator.BlastOrchestrator, clipCfg clipconfig.ClipConfig, cfg orchestrator.BlastConfig, last netutil.Signature) {
	ticker := time.NewTicker(networkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := netutil.CurrentSignature()
			if err != nil {
				continue
			}
			if current.Equal(last) {
				continue
			}
			log.WithFields(logrus.Fields{
				"old_interface": last.InterfaceName,
				"new_interface": current.InterfaceName,
			}).Info("network change detected mid-blast, retrying")

			if err := o.OnNetworkChange(retryCtx, clipCfg, cfg, last); err != nil {
				log.WithError(err).Error("network-change retry failed")
			}
			return
		}
	}
}
