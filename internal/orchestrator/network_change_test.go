package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
	"github.com/wyatt727/fartlooper/internal/renderer"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

func TestOnNetworkChangeNoOpWhenIdle(t *testing.T) {
	o := New(discardLog(), &fakeClipServer{}, &fakeBus{}, nil)
	clip := clipconfig.NewRemote(clipconfig.Remote{URL: "http://x/clip"})

	err := o.OnNetworkChange(context.Background(), clip, DefaultBlastConfig(), netutil.Signature{InterfaceName: "eth0"})
	assert.NoError(t, err)
}

func TestOnNetworkChangeNoOpWhenSignatureUnchanged(t *testing.T) {
	current, err := netutil.CurrentSignature()
	if err != nil {
		t.Skip("no usable network interface in this environment")
	}

	bus := &fakeBus{delay: 2 * time.Second}
	server := &fakeClipServer{baseURL: "http://192.168.4.1:9999"}
	o := New(discardLog(), server, bus, nil)

	cfg := DefaultBlastConfig()
	cfg.DiscoveryTimeout = 5 * time.Second
	clip := clipconfig.NewRemote(clipconfig.Remote{URL: "http://x/clip"})

	go func() { _ = o.Start(context.Background(), clip, cfg) }()
	time.Sleep(50 * time.Millisecond)

	err = o.OnNetworkChange(context.Background(), clip, cfg, current)
	require.NoError(t, err)
	assert.False(t, bus.invalidated.Load(), "signature unchanged must not invalidate the discovery cache")

	o.Stop()
}

// TestOnNetworkChangeAbortsAndRetriesInProgressBlast drives a blast whose
// discovery window is held open by fakeBus's delay, forces a signature
// change mid-flight, and asserts OnNetworkChange tears down the stalled
// attempt, invalidates the cache, and lands a fresh blast successfully.
func TestOnNetworkChangeAbortsAndRetriesInProgressBlast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := rendererAgainst(t, srv, renderer.KindSonos, renderer.SourceSsdp)
	bus := &fakeBus{renderers: []*renderer.Renderer{r}, delay: 3 * time.Second}
	server := &fakeClipServer{baseURL: "http://192.168.4.1:9999"}
	o := New(discardLog(), server, bus, nil)

	cfg := DefaultBlastConfig()
	cfg.DiscoveryTimeout = 10 * time.Second
	clip := clipconfig.NewRemote(clipconfig.Remote{URL: "http://x/clip"})

	startErr := make(chan error, 1)
	go func() { startErr <- o.Start(context.Background(), clip, cfg) }()
	time.Sleep(50 * time.Millisecond)

	staleSig := netutil.Signature{InterfaceName: "stale-iface-that-cannot-exist"}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := o.OnNetworkChange(ctx, clip, cfg, staleSig)
	require.NoError(t, err)
	assert.True(t, bus.invalidated.Load())

	select {
	case err := <-startErr:
		assert.NoError(t, err, "cancellation closes fakeBus's channel without renderers, the same as a clean empty discovery window")
	case <-time.After(2 * time.Second):
		t.Fatal("original Start call never returned after OnNetworkChange cancelled it")
	}

	assert.Equal(t, StageCompleted, o.Snapshot().Stage, "the retried blast should complete")
}
