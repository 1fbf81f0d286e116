package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// ErrUnsupportedScheme is returned by a Fetcher asked for a URI it cannot
// retrieve.
var ErrUnsupportedScheme = errors.New("unsupported feed location")

// Fetcher retrieves the raw bytes of a feed document.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) { return f(ctx, uri) }

// FileFetcher reads feeds from absolute local paths and file:// URIs.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := localPath(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", types.ErrFeedNotFound, uri)
	case err != nil:
		return nil, &types.TransientError{Op: "read feed " + uri, Err: err}
	}
	return data, nil
}

// localPath returns the file system path of a local feed URI.
func localPath(uri string) (string, bool) {
	if rest, ok := strings.CutPrefix(uri, "file://"); ok {
		uri = rest
	}
	if !filepath.IsAbs(uri) {
		return "", false
	}
	return uri, true
}

// IsRemote reports whether uri names a feed fetched over the network.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
