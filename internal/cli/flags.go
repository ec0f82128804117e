package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/wyatt727/fartlooper/internal/discovery"
	"github.com/wyatt727/fartlooper/internal/orchestrator"
)

// discoveryFlags holds the BlastConfig tunables shared by blast and discover
// (SPEC_FULL.md §4.4). Each subcommand owns its own instance so flag values
// never leak across concurrent cobra command instances.
type discoveryFlags struct {
	discoveryTimeout  time.Duration
	soapTimeout       time.Duration
	fanoutParallelism int64
	methods           []string
	enableCache       bool
	cacheTTL          time.Duration
	multiPortPerHost  bool
}

func (f *discoveryFlags) register(cmd *cobra.Command) {
	def := orchestrator.DefaultBlastConfig()
	cmd.Flags().DurationVar(&f.discoveryTimeout, "discovery-timeout", def.DiscoveryTimeout, "how long to listen for discovery responses")
	cmd.Flags().DurationVar(&f.soapTimeout, "soap-timeout", def.SoapTimeout, "timeout for one renderer's whole control sequence (probe, SetAVTransportURI, Play); each SOAP call also has a fixed 5s limit")
	cmd.Flags().Int64Var(&f.fanoutParallelism, "fanout-parallelism", def.FanoutParallelism, "max renderers controlled concurrently")
	cmd.Flags().StringSliceVar(&f.methods, "methods", []string{"ssdp", "mdns", "portscan"}, "discovery methods to run: ssdp,mdns,portscan")
	cmd.Flags().BoolVar(&f.enableCache, "enable-discovery-cache", def.EnableDiscoveryCache, "reuse the previous discovery result within the cache TTL")
	cmd.Flags().DurationVar(&f.cacheTTL, "discovery-cache-ttl", def.DiscoveryCacheTTL, "discovery cache lifetime")
	cmd.Flags().BoolVar(&f.multiPortPerHost, "port-scan-multi-port", def.PortScanMultiPortPerHost, "emit one renderer per open port during port-scan instead of one per host (spec.md §9 open question)")
}

func (f *discoveryFlags) toBlastConfig() (orchestrator.BlastConfig, error) {
	cfg := orchestrator.DefaultBlastConfig()
	cfg.DiscoveryTimeout = f.discoveryTimeout
	cfg.SoapTimeout = f.soapTimeout
	cfg.FanoutParallelism = f.fanoutParallelism
	cfg.EnableDiscoveryCache = f.enableCache
	cfg.DiscoveryCacheTTL = f.cacheTTL
	cfg.PortScanMultiPortPerHost = f.multiPortPerHost

	methods, err := parseMethods(f.methods)
	if err != nil {
		return orchestrator.BlastConfig{}, err
	}
	cfg.DiscoveryMethods = methods
	return cfg, nil
}

func parseMethods(raw []string) ([]discovery.Method, error) {
	out := make([]discovery.Method, 0, len(raw))
	for _, m := range raw {
		switch m {
		case "ssdp":
			out = append(out, discovery.MethodSSDP)
		case "mdns":
			out = append(out, discovery.MethodMDNS)
		case "portscan":
			out = append(out, discovery.MethodPortScan)
		default:
			return nil, errUnknownMethod(m)
		}
	}
	return out, nil
}

type errUnknownMethod string

func (e errUnknownMethod) Error() string {
	return "cli: unknown discovery method " + string(e) + " (want ssdp, mdns, or portscan)"
}
