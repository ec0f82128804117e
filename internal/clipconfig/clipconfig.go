// Package clipconfig defines the clip a ClipServer serves: either local
// bytes with a known length, or a remote URL to be stream-proxied on demand.
package clipconfig

import "io"

// ClipConfig is one of Local or Remote (spec.md §3). Exactly one of the
// accessor predicates is true for any instance produced by NewLocal/NewRemote.
type ClipConfig struct {
	local  *Local
	remote *Remote
}

// Local serves bytes already resident in memory or on disk.
type Local struct {
	Open   func() (io.ReadSeekCloser, error)
	MIME   string
	Length int64
}

// Remote proxies a remote stream URL on first request.
type Remote struct {
	URL      string
	MIMEHint string
}

// NewLocal builds a ClipConfig serving local bytes.
func NewLocal(l Local) ClipConfig {
	return ClipConfig{local: &l}
}

// NewRemote builds a ClipConfig proxying a remote URL.
func NewRemote(r Remote) ClipConfig {
	return ClipConfig{remote: &r}
}

// IsLocal reports whether this config serves local bytes.
func (c ClipConfig) IsLocal() bool { return c.local != nil }

// IsRemote reports whether this config proxies a remote URL.
func (c ClipConfig) IsRemote() bool { return c.remote != nil }

// AsLocal returns the Local payload and whether this config is Local.
func (c ClipConfig) AsLocal() (Local, bool) {
	if c.local == nil {
		return Local{}, false
	}
	return *c.local, true
}

// AsRemote returns the Remote payload and whether this config is Remote.
func (c ClipConfig) AsRemote() (Remote, bool) {
	if c.remote == nil {
		return Remote{}, false
	}
	return *c.remote, true
}

// Resolver is the external media-library collaborator (spec.md §2): it
// yields a ready-to-serve ClipConfig for a local file path or a remote URL.
// The GUI/media-chooser that decides *which* clip is explicitly out of
// scope; this interface is the seam the core consumes it through.
type Resolver interface {
	Resolve(source string) (ClipConfig, error)
}
