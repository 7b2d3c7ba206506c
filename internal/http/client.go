package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/splice/internal/logging"
	"github.com/ligustah/splice/pkg/ranges"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
	ErrChanged           = errors.New("http: resource changed since it was opened")
	ErrShortBody         = errors.New("http: response body shorter than requested range")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// Logger receives retry warnings.
	// Default: discard
	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Client is an HTTP client for reading byte ranges of large remote files.
type Client struct {
	client *http.Client
	opts   Options
	log    *slog.Logger
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // range offsets refer to raw bytes
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop().Logger
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
		log:  log,
	}
}

// retryable marks a failure worth another attempt.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up.
func (c *Client) retry(ctx context.Context, op, url string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying request", "op", op, "url", url, "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		err := fn()
		var r retryable
		if !errors.As(err, &r) {
			return err
		}
		lastErr = r.err
	}
	return fmt.Errorf("%s request failed after %d attempts: %w", op, c.opts.RetryAttempts+1, lastErr)
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	var info *FileInfo
	err := c.retry(ctx, "head", url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable{err}
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retryable{fmt.Errorf("%w: %s", ErrServerError, resp.Status)}
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return err
		}

		info = &FileInfo{
			Size:          resp.ContentLength,
			ETag:          cleanETag(resp.Header.Get("ETag")),
			AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
			ContentType:   resp.Header.Get("Content-Type"),
		}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				info.LastModified = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ReadRange downloads exactly the bytes of r. When etag is not empty the
// request is pinned to that entity and ErrChanged is returned if the
// resource has been replaced. Truncated bodies are retried.
func (c *Client) ReadRange(ctx context.Context, url string, r ranges.Range, etag string) ([]byte, error) {
	if r.Empty() {
		return []byte{}, nil
	}

	var data []byte
	err := c.retry(ctx, "range", url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		// HTTP ranges are inclusive.
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))
		if etag != "" {
			req.Header.Set("If-Match", `"`+etag+`"`)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable{err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retryable{fmt.Errorf("%w: %s", ErrServerError, resp.Status)}
		case resp.StatusCode == http.StatusPreconditionFailed:
			return ErrChanged
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			return ErrRangeNotSupported
		case resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "":
			// Full body instead of the range.
			return ErrRangeNotSupported
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return err
		}

		if cr := resp.Header.Get("Content-Range"); cr != "" {
			start, _, _, err := ParseContentRange(cr)
			if err != nil {
				return err
			}
			if start != r.Start {
				return fmt.Errorf("http: server returned range starting at %d, requested %d", start, r.Start)
			}
		}

		buf := make([]byte, r.Len())
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable{fmt.Errorf("%w: %v", ErrShortBody, err)}
		}
		data = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Get performs a plain GET request and returns the body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.retry(ctx, "get", url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable{err}
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return retryable{fmt.Errorf("%w: %s", ErrServerError, resp.Status)}
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return err
		}

		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes with end inclusive. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(endPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if totalPart == "*" {
		return start, end, -1, nil
	}
	total, err = strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
