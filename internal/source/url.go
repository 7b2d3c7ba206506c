package source

import (
	"context"
	"fmt"

	"github.com/ligustah/splice/internal/http"
	"github.com/ligustah/splice/pkg/ranges"
)

// URL reads ranges of a remote file with HTTP range requests.
type URL struct {
	client *http.Client
	url    string
	info   *http.FileInfo
}

// OpenURL issues a HEAD request for url and returns a source pinned to the
// ETag it reports. The server must support byte ranges.
func OpenURL(ctx context.Context, client *http.Client, url string) (*URL, error) {
	info, err := client.Head(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("source: head %s: %w", url, err)
	}
	if info.Size < 0 {
		return nil, fmt.Errorf("source: %s has unknown size", url)
	}
	if !info.AcceptsRanges && info.Size > 0 {
		return nil, fmt.Errorf("source: %s: %w", url, http.ErrRangeNotSupported)
	}
	return &URL{client: client, url: url, info: info}, nil
}

// Size returns the remote file length.
func (u *URL) Size() int64 {
	return u.info.Size
}

// Info returns the metadata from the initial HEAD request.
func (u *URL) Info() *http.FileInfo {
	return u.info
}

// ReadRange downloads the bytes of r.
func (u *URL) ReadRange(ctx context.Context, r ranges.Range) ([]byte, error) {
	if err := checkRange(r, u.info.Size); err != nil {
		return nil, err
	}
	return u.client.ReadRange(ctx, u.url, r, u.info.ETag)
}

// Close is a no-op; the client's connections are shared.
func (u *URL) Close() error {
	return nil
}
