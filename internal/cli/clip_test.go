package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipFlagsResolveRejectsMissingSource(t *testing.T) {
	f := clipFlags{}
	_, err := f.resolve()
	assert.ErrorIs(t, err, errNoClipSource)
}

func TestClipFlagsResolveRejectsBothSources(t *testing.T) {
	f := clipFlags{file: "/tmp/x.mp3", url: "http://example.invalid/clip.mp3"}
	_, err := f.resolve()
	assert.ErrorIs(t, err, errNoClipSource)
}

func TestClipFlagsResolveRemote(t *testing.T) {
	f := clipFlags{url: "http://example.invalid/clip.mp3"}
	cfg, err := f.resolve()
	require.NoError(t, err)
	remote, ok := cfg.AsRemote()
	require.True(t, ok)
	assert.Equal(t, "http://example.invalid/clip.mp3", remote.URL)
}

func TestClipFlagsResolveLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fart.mp3")
	require.NoError(t, os.WriteFile(path, []byte("id3-ish bytes"), 0o644))

	f := clipFlags{file: path}
	cfg, err := f.resolve()
	require.NoError(t, err)

	local, ok := cfg.AsLocal()
	require.True(t, ok)
	assert.Equal(t, int64(len("id3-ish bytes")), local.Length)
	assert.Equal(t, "audio/mpeg", local.MIME)

	rc, err := local.Open()
	require.NoError(t, err)
	defer rc.Close()
}

func TestClipFlagsResolveMissingFile(t *testing.T) {
	f := clipFlags{file: "/no/such/file.mp3"}
	_, err := f.resolve()
	assert.Error(t, err)
}
