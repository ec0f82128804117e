// Package clipserver implements the single-endpoint HTTP server that
// exposes the currently configured clip at a stable URL (spec.md §4.1).
package clipserver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
	"github.com/wyatt727/fartlooper/lib/netutil"
)

// MediaPath is the one stable path a ClipServer ever serves. It never
// changes across hot-swaps (spec.md §4.1, §8 invariant).
const MediaPath = "/media/current"

// ErrBindFailed is returned when the OS could not hand out a listening port.
var ErrBindFailed = errors.New("clipserver: bind failed")

// ErrNoInterface is returned when no non-loopback IPv4 interface exists.
var ErrNoInterface = errors.New("clipserver: no suitable interface")

// ClipServer serves exactly one clip at http://<iface-ip>:<port>/media/current.
type ClipServer struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	baseURL  string

	config atomic.Value // holds clipconfig.ClipConfig

	httpClient *http.Client
}

// New constructs an idle ClipServer. Call Start to bind it.
func New(log logrus.FieldLogger) *ClipServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ClipServer{
		log:        log.WithField("component", "clipserver"),
		httpClient: &http.Client{Timeout: 0},
	}
}

// Start binds to 0.0.0.0 on an OS-chosen ephemeral port, resolves the
// primary non-loopback IPv4 address of the host and returns the resulting
// base URL. It is an error to Start an already-started server.
func (s *ClipServer) Start(cfg clipconfig.ClipConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", errors.New("clipserver: already started")
	}

	ip, err := netutil.PrimaryIPv4()
	if err != nil {
		return "", errors.Wrap(ErrNoInterface, err.Error())
	}

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return "", errors.Wrap(ErrBindFailed, err.Error())
	}

	s.config.Store(cfg)

	port := ln.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://%s:%d", ip.String(), port)

	r := chi.NewRouter()
	r.Get(MediaPath, s.handleMedia)
	r.Head(MediaPath, s.handleMedia)

	s.srv = &http.Server{Handler: r}
	s.listener = ln

	go func() {
		s.log.WithField("base_url", s.baseURL).Info("clip server started")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("clip server exited unexpectedly")
		}
	}()

	return s.baseURL, nil
}

// Swap atomically replaces the served clip. It never interrupts an
// in-flight response: handleMedia snapshots the config once at request
// start, so a request begun before Swap completes is served to completion
// with the old clip (spec.md §5 linearizability guarantee).
func (s *ClipServer) Swap(cfg clipconfig.ClipConfig) {
	s.config.Store(cfg)
	s.log.Debug("clip swapped")
}

// Stop closes the listener and cancels outstanding responses. Idempotent.
func (s *ClipServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	err := s.srv.Close()
	s.srv = nil
	s.listener = nil
	s.baseURL = ""
	s.log.Info("clip server stopped")
	return err
}

// BaseURL returns the currently bound base URL, or "" if not started.
func (s *ClipServer) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *ClipServer) currentConfig() (clipconfig.ClipConfig, bool) {
	v := s.config.Load()
	if v == nil {
		return clipconfig.ClipConfig{}, false
	}
	cfg, ok := v.(clipconfig.ClipConfig)
	return cfg, ok
}

func (s *ClipServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	remoteIP := r.RemoteAddr
	cfg, ok := s.currentConfig()
	if !ok {
		http.NotFound(w, r)
		return
	}

	var err error
	if local, isLocal := cfg.AsLocal(); isLocal {
		err = s.serveLocal(w, r, local)
	} else if remote, isRemote := cfg.AsRemote(); isRemote {
		err = s.serveRemote(w, r, remote)
	} else {
		http.NotFound(w, r)
		return
	}

	if err != nil {
		s.log.WithFields(logrus.Fields{"remote": remoteIP, "error": err}).Warn("clip request failed")
	} else {
		s.log.WithField("remote", remoteIP).Debug("clip request served")
	}
}

// serveLocal serves local bytes, honoring byte-range requests (spec.md §4.1,
// §6).
func (s *ClipServer) serveLocal(w http.ResponseWriter, r *http.Request, local clipconfig.Local) error {
	rc, err := local.Open()
	if err != nil {
		http.Error(w, "failed to open clip", http.StatusInternalServerError)
		return errors.Wrap(err, "opening local clip")
	}
	defer rc.Close()

	w.Header().Set("Content-Type", local.MIME)
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, "current", time.Time{}, rc)
	return nil
}

// serveRemote opens an upstream connection on first request and streams the
// body through to the renderer, relaying Content-Type/Content-Length when
// present. On upstream mid-stream failure the response is simply truncated
// (spec.md §4.1) rather than synthesizing an error body.
func (s *ClipServer) serveRemote(w http.ResponseWriter, r *http.Request, remote clipconfig.Remote) error {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, remote.URL, nil)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusBadGateway)
		return errors.Wrap(err, "building upstream request")
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return errors.Wrap(err, "fetching upstream clip")
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = remote.MIMEHint
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Upstream died mid-stream: the response is already committed, so
		// all we can do is truncate it and log.
		return errors.Wrap(err, "proxying upstream clip")
	}
	return nil
}
