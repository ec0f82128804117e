// Package control implements the UPnP AVTransport control client that
// drives a single Renderer through SetAVTransportURI and Play (spec.md §4.3,
// §6).
package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wyatt727/fartlooper/internal/renderer"
)

const (
	soapTimeout     = 5 * time.Second
	probeTimeout    = 1 * time.Second
	interCallDelay  = 200 * time.Millisecond
	bodySnippetSize = 256
)

// ErrUnsupported is returned when a renderer's Kind is not UPnP-controllable
// (Chromecast, AirPlay — spec.md §1 Non-goals, §7).
var ErrUnsupported = errors.New("control: renderer kind is not upnp-controllable")

// ErrUnreachable is returned when the reachability probe's TCP connect
// fails (spec.md §4.3 reachability/ping policy).
var ErrUnreachable = errors.New("control: renderer unreachable")

// SoapFault carries a non-2xx SOAP response (spec.md §7).
type SoapFault struct {
	Action string
	Status int
	Body   string
}

func (f *SoapFault) Error() string {
	return fmt.Sprintf("control: soap fault on %s: status=%d body=%q", f.Action, f.Status, f.Body)
}

// Client drives the two-step AVTransport sequence against one Renderer.
// Posts for a given renderer are serialized by a per-client mutex so
// SetAVTransportURI and Play never interleave across concurrent callers
// targeting the same device (spec.md §4.3 concurrency note).
type Client struct {
	log        logrus.FieldLogger
	httpClient *http.Client

	mu sync.Mutex
}

// New constructs a Client. One Client instance is expected per renderer; the
// orchestrator owns a pool keyed by renderer ID.
func New(log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		log:        log.WithField("component", "control"),
		httpClient: &http.Client{Timeout: soapTimeout},
	}
}

// Reachable performs the pre-flight TCP connect used to classify a renderer
// as reachable before attempting SOAP calls (spec.md §4.3). Only
// connection-refused, host-unreachable and timeout count as unreachable;
// the SOAP calls themselves classify HTTP status separately.
func Reachable(ip net.IP, port uint16, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", ip.String(), port), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PushClip runs SetAVTransportURI(clipURL) then, 200ms later, Play against
// r. Non-UPnP-controllable kinds short-circuit with ErrUnsupported, recorded
// by callers as a non-fatal Unsupported outcome (spec.md §7).
func (c *Client) PushClip(ctx context.Context, r *renderer.Renderer, clipURL string) error {
	if !r.Kind.Controllable() {
		return ErrUnsupported
	}

	if !Reachable(r.IP, r.Port, probeTimeout) {
		return ErrUnreachable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.post(ctx, r, "SetAVTransportURI", soapActionSetAVTransportURI, buildSetAVTransportURI(clipURL)); err != nil {
		return err
	}

	select {
	case <-time.After(interCallDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.post(ctx, r, "Play", soapActionPlay, buildPlay()); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"renderer": r.ID, "clip_url": clipURL}).Info("clip pushed")
	return nil
}

// Stop issues the AVTransport Stop action against r. Unlike PushClip this is
// best-effort: callers treat any error as non-fatal since stop is invoked
// during teardown.
func (c *Client) Stop(ctx context.Context, r *renderer.Renderer) error {
	if !r.Kind.Controllable() {
		return ErrUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.post(ctx, r, "Stop", soapActionStop, buildStop())
}

func (c *Client) post(ctx context.Context, r *renderer.Renderer, action, soapAction, envelope string) error {
	ctx, cancel := context.WithTimeout(ctx, soapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.ControlURL(), strings.NewReader(envelope))
	if err != nil {
		return errors.Wrapf(err, "control: building %s request", action)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", soapAction)

	c.log.WithFields(logrus.Fields{"renderer": r.ID, "action": action}).Debug("posting soap action")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "control: %s transport error", action)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetSize))
		return &SoapFault{Action: action, Status: resp.StatusCode, Body: string(snippet)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
