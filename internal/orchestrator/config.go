package orchestrator

import (
	"time"

	"github.com/wyatt727/fartlooper/internal/discovery"
)

// BlastConfig enumerates the tunables of a single start/discover_only call
// (spec.md §4.4).
type BlastConfig struct {
	DiscoveryTimeout     time.Duration
	SoapTimeout          time.Duration
	FanoutParallelism    int64
	DiscoveryMethods     []discovery.Method
	EnableDiscoveryCache bool
	DiscoveryCacheTTL    time.Duration

	// PortScanMultiPortPerHost exposes spec.md §9's open question on
	// port-scan as an explicit flag rather than a guess (SPEC_FULL.md §C.4).
	PortScanMultiPortPerHost bool
}

// DefaultBlastConfig returns spec.md §4.4's documented defaults.
func DefaultBlastConfig() BlastConfig {
	return BlastConfig{
		DiscoveryTimeout:     4000 * time.Millisecond,
		SoapTimeout:          5000 * time.Millisecond,
		FanoutParallelism:    3,
		DiscoveryMethods:     []discovery.Method{discovery.MethodSSDP, discovery.MethodMDNS, discovery.MethodPortScan},
		EnableDiscoveryCache: false,
		DiscoveryCacheTTL:    60000 * time.Millisecond,
	}
}
