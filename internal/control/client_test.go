package control

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/fartlooper/internal/renderer"
)

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func rendererFor(t *testing.T, srv *httptest.Server, kind renderer.Kind) *renderer.Renderer {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r := renderer.New(net.ParseIP(host), uint16(p), renderer.SourceSsdp)
	r.Kind = kind
	r.ControlPath = "/control"
	return r
}

func TestPushClipHappyPath(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Header.Get("SOAPAction"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := rendererFor(t, srv, renderer.KindSonos)
	c := New(discardLog())

	start := time.Now()
	err := c.PushClip(context.Background(), r, "http://192.168.4.1:9999/media/current")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, soapActionSetAVTransportURI, calls[0])
	assert.Equal(t, soapActionPlay, calls[1])
	assert.GreaterOrEqual(t, elapsed, interCallDelay)
}

func TestPushClipSkipsUnsupportedKinds(t *testing.T) {
	c := New(discardLog())
	r := renderer.New(net.ParseIP("192.168.4.50"), 8008, renderer.SourceMdns)
	r.Kind = renderer.KindChromecast

	err := c.PushClip(context.Background(), r, "http://192.168.4.1:9999/media/current")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPushClipReturnsUnreachableWhenConnectFails(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, ln.Close()) // now guaranteed closed, nothing listening

	r := renderer.New(net.ParseIP(host), uint16(p), renderer.SourceSsdp)
	r.Kind = renderer.KindSonos
	r.ControlPath = "/control"

	c := New(discardLog())
	err = c.PushClip(context.Background(), r, "http://192.168.4.1:9999/media/current")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestPushClipReturnsSoapFaultOnNon2xx(t *testing.T) {
	first := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	r := rendererFor(t, srv, renderer.KindSonos)
	c := New(discardLog())

	err := c.PushClip(context.Background(), r, "http://192.168.4.1:9999/media/current")
	require.Error(t, err)

	var fault *SoapFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "Play", fault.Action)
	assert.Equal(t, http.StatusInternalServerError, fault.Status)
	assert.Contains(t, fault.Body, "internal error")
}

func TestPushClipSetsContentTypeAndSOAPAction(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := rendererFor(t, srv, renderer.KindSonos)
	c := New(discardLog())
	require.NoError(t, c.PushClip(context.Background(), r, "http://192.168.4.1:9999/media/current"))
	assert.Equal(t, `text/xml; charset="utf-8"`, gotContentType)
}

func TestStopSkipsUnsupportedKinds(t *testing.T) {
	c := New(discardLog())
	r := renderer.New(net.ParseIP("192.168.4.50"), 7000, renderer.SourceMdns)
	r.Kind = renderer.KindAirPlay

	err := c.Stop(context.Background(), r)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStopPostsStopAction(t *testing.T) {
	var gotAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := rendererFor(t, srv, renderer.KindDLNA)
	c := New(discardLog())
	require.NoError(t, c.Stop(context.Background(), r))
	assert.Equal(t, soapActionStop, gotAction)
}
