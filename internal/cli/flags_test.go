package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/fartlooper/internal/discovery"
)

func TestParseMethods(t *testing.T) {
	cases := []struct {
		name        string
		input       []string
		want        []discovery.Method
		expectError bool
	}{
		{name: "all three", input: []string{"ssdp", "mdns", "portscan"}, want: []discovery.Method{discovery.MethodSSDP, discovery.MethodMDNS, discovery.MethodPortScan}},
		{name: "single", input: []string{"mdns"}, want: []discovery.Method{discovery.MethodMDNS}},
		{name: "empty", input: []string{}, want: []discovery.Method{}},
		{name: "unknown method", input: []string{"bluetooth"}, expectError: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMethods(tc.input)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDiscoveryFlagsToBlastConfigRejectsUnknownMethod(t *testing.T) {
	f := discoveryFlags{methods: []string{"carrier-pigeon"}}
	_, err := f.toBlastConfig()
	assert.Error(t, err)
}

func TestDiscoveryFlagsToBlastConfigAppliesOverrides(t *testing.T) {
	f := discoveryFlags{
		fanoutParallelism: 7,
		methods:           []string{"ssdp"},
		multiPortPerHost:  true,
	}
	cfg, err := f.toBlastConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 7, cfg.FanoutParallelism)
	assert.Equal(t, []discovery.Method{discovery.MethodSSDP}, cfg.DiscoveryMethods)
	assert.True(t, cfg.PortScanMultiPortPerHost)
}
