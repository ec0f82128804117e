package cli

import (
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wyatt727/fartlooper/internal/clipconfig"
)

// clipFlags resolves the --clip-file/--clip-url pair into a ClipConfig. This
// CLI is the minimal media-source collaborator spec.md §2 leaves external; it
// resolves a path or URL directly rather than delegating to a Resolver,
// since there is no media library to pick from (SPEC_FULL.md §C.3).
type clipFlags struct {
	file string
	url  string
}

func (f *clipFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "clip-file", "", "path to a local audio clip to serve")
	cmd.Flags().StringVar(&f.url, "clip-url", "", "remote URL to proxy as the clip")
}

var errNoClipSource = errors.New("cli: exactly one of --clip-file or --clip-url is required")

func (f *clipFlags) resolve() (clipconfig.ClipConfig, error) {
	if f.file == "" && f.url == "" {
		return clipconfig.ClipConfig{}, errNoClipSource
	}
	if f.file != "" && f.url != "" {
		return clipconfig.ClipConfig{}, errNoClipSource
	}

	if f.url != "" {
		return clipconfig.NewRemote(clipconfig.Remote{URL: f.url}), nil
	}

	info, err := os.Stat(f.file)
	if err != nil {
		return clipconfig.ClipConfig{}, errors.Wrap(err, "stat clip file")
	}

	contentType := mime.TypeByExtension(filepath.Ext(f.file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	path := f.file
	return clipconfig.NewLocal(clipconfig.Local{
		Open: func() (io.ReadSeekCloser, error) {
			return os.Open(path)
		},
		MIME:   contentType,
		Length: info.Size(),
	}), nil
}
