package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ligustah/splice/internal/testutils"
	"github.com/ligustah/splice/pkg/ranges"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = 5 * time.Millisecond
	opts.RetryMaxBackoff = 20 * time.Millisecond
	return opts
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1024")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Head(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	if info.Size != 1024 {
		t.Errorf("expected size 1024, got %d", info.Size)
	}
	if info.ETag != "abc123" {
		t.Errorf("expected ETag 'abc123', got %s", info.ETag)
	}
	if !info.AcceptsRanges {
		t.Error("expected AcceptsRanges to be true")
	}
	if info.LastModified.IsZero() {
		t.Error("expected LastModified to be parsed")
	}
}

func TestHeadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Head(context.Background(), server.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReadRange(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f", Data: data})

	client := NewClient(DefaultOptions())
	ctx := context.Background()

	info, err := client.Head(ctx, server.FileURL("f"))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	got, err := client.ReadRange(ctx, server.FileURL("f"), ranges.Range{Start: 0, End: 5}, info.ETag)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", got)
	}

	got, err = client.ReadRange(ctx, server.FileURL("f"), ranges.Range{Start: 7, End: 12}, "")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "World" {
		t.Errorf("expected 'World', got '%s'", got)
	}

	got, err = client.ReadRange(ctx, server.FileURL("f"), ranges.Range{Start: 3, End: 3}, "")
	if err != nil || len(got) != 0 {
		t.Errorf("empty range: got %q, %v", got, err)
	}
}

func TestReadRangeChanged(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f", Data: []byte("first version")})
	client := NewClient(fastOptions())
	ctx := context.Background()

	info, err := client.Head(ctx, server.FileURL("f"))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	server.Replace("f", []byte("second version"))

	_, err = client.ReadRange(ctx, server.FileURL("f"), ranges.Range{Start: 0, End: 5}, info.ETag)
	if !errors.Is(err, ErrChanged) {
		t.Errorf("expected ErrChanged, got %v", err)
	}
}

func TestReadRangeNotSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ignores Range and returns the full content
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 100))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.ReadRange(context.Background(), server.URL, ranges.Range{Start: 0, End: 10}, "")
	if !errors.Is(err, ErrRangeNotSupported) {
		t.Errorf("expected ErrRangeNotSupported, got %v", err)
	}
}

func TestReadRangeRetriesShortBody(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		if attempts < 2 {
			w.Write([]byte("0123"))
			return
		}
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	got, err := client.ReadRange(context.Background(), server.URL, ranges.Range{Start: 0, End: 10}, "")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "0123456789" {
		t.Errorf("got %q", got)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryOnServerError(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f", Data: make([]byte, 10)})
	server.FailNext.Store(2)

	client := NewClient(fastOptions())
	info, err := client.Head(context.Background(), server.FileURL("f"))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	if n := server.Requests.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if info.Size != 10 {
		t.Errorf("expected size 10, got %d", info.Size)
	}
}

func TestRetryExhausted(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f", Data: make([]byte, 10)})
	server.FailNext.Store(100)

	opts := fastOptions()
	opts.RetryAttempts = 2
	client := NewClient(opts)

	_, err := client.ReadRange(context.Background(), server.FileURL("f"), ranges.Range{Start: 0, End: 5}, "")
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if n := server.Requests.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestGet(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f", Data: []byte("a;b;c;d")})

	client := NewClient(DefaultOptions())
	body, err := client.Get(context.Background(), server.FileURL("f"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()
	testutils.CompareReaderToData(t, body, []byte("a;b;c;d"))
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-99/1000", 0, 99, 1000},
		{"bytes 100-199/1000", 100, 199, 1000},
		{"bytes 0-99/*", 0, 99, -1},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}

	for _, bad := range []string{"bytes 0-99", "bytes x-1/2", "bytes 0/10"} {
		if _, _, _, err := ParseContentRange(bad); err == nil {
			t.Errorf("ParseContentRange(%q): expected error", bad)
		}
	}
}

func TestCleanETag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`"abc123"`, "abc123"},
		{`W/"abc123"`, "abc123"},
		{"abc123", "abc123"},
		{`""`, ""},
	}

	for _, tt := range tests {
		result := cleanETag(tt.input)
		if result != tt.expected {
			t.Errorf("cleanETag(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Head(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
