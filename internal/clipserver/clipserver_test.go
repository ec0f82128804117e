package clipserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func localClip(body string) clipconfig.ClipConfig {
	return clipconfig.NewLocal(clipconfig.Local{
		Open: func() (io.ReadSeekCloser, error) {
			return nopSeekCloser{bytes.NewReader([]byte(body))}, nil
		},
		MIME:   "audio/mpeg",
		Length: int64(len(body)),
	})
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

func TestStartServesStablePath(t *testing.T) {
	s := New(discardLogger())
	base, err := s.Start(localClip("clip-a-bytes"))
	require.NoError(t, err)
	defer s.Stop()

	assert.True(t, strings.HasPrefix(base, "http://"))

	resp, err := http.Get(base + MediaPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "clip-a-bytes", string(body))
}

func TestUnknownPathIs404(t *testing.T) {
	s := New(discardLogger())
	base, err := s.Start(localClip("x"))
	require.NoError(t, err)
	defer s.Stop()

	resp, err := http.Get(base + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownMethodIs405(t *testing.T) {
	s := New(discardLogger())
	base, err := s.Start(localClip("x"))
	require.NoError(t, err)
	defer s.Stop()

	req, err := http.NewRequest(http.MethodPost, base+MediaPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRangeRequest(t *testing.T) {
	s := New(discardLogger())
	base, err := s.Start(localClip("0123456789"))
	require.NoError(t, err)
	defer s.Stop()

	req, err := http.NewRequest(http.MethodGet, base+MediaPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "234", string(body))
	assert.Contains(t, resp.Header.Get("Content-Range"), "bytes 2-4/10")
}

func TestHotSwapChangesServedBytes(t *testing.T) {
	s := New(discardLogger())
	base, err := s.Start(localClip("clip-A"))
	require.NoError(t, err)
	defer s.Stop()

	resp1, err := http.Get(base + MediaPath)
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	assert.Equal(t, "clip-A", string(body1))

	s.Swap(localClip("clip-B"))

	resp2, err := http.Get(base + MediaPath)
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Equal(t, "clip-B", string(body2))
}

func TestRemoteClipIsProxied(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer upstream.Close()

	s := New(discardLogger())
	base, err := s.Start(clipconfig.NewRemote(clipconfig.Remote{URL: upstream.URL}))
	require.NoError(t, err)
	defer s.Stop()

	resp, err := http.Get(base + MediaPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "audio/ogg", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "remote-bytes", string(body))
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(discardLogger())
	_, err := s.Start(localClip("x"))
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStartTwiceFails(t *testing.T) {
	s := New(discardLogger())
	_, err := s.Start(localClip("x"))
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Start(localClip("y"))
	assert.Error(t, err)
}

// TestStartStopStartStop exercises the round-trip idempotence law in
// spec.md §8.
func TestStartStopStartStop(t *testing.T) {
	s := New(discardLogger())
	_, err := s.Start(localClip("x"))
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	time.Sleep(10 * time.Millisecond)

	base, err := s.Start(localClip("y"))
	require.NoError(t, err)
	defer s.Stop()

	resp, err := http.Get(base + MediaPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "y", string(body))
}
