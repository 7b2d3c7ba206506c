// Package testutils provides shared test infrastructure.
package testutils

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// TestFile is a file served by a RangeServer.
type TestFile struct {
	Name string
	Data []byte
}

// GenerateTestData returns size bytes of a deterministic pattern containing
// the byte ';' at regular intervals.
func GenerateTestData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		if i%7 == 6 {
			data[i] = ';'
			continue
		}
		data[i] = byte('a' + i%26)
	}
	return data
}

// RangeServer serves files over HTTP with byte-range and If-Match support.
type RangeServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	versions map[string]int

	// Requests counts every request served.
	Requests atomic.Int64
	// FailNext makes the next N requests return 503.
	FailNext atomic.Int64
}

// StartRangeServer starts a RangeServer that is closed with the test.
func StartRangeServer(t *testing.T, files ...TestFile) *RangeServer {
	t.Helper()

	s := &RangeServer{
		files:    make(map[string][]byte),
		versions: make(map[string]int),
	}
	for _, f := range files {
		s.files["/"+f.Name] = f.Data
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FileURL returns the URL of the named file.
func (s *RangeServer) FileURL(name string) string {
	return s.Server.URL + "/" + name
}

// Replace swaps the contents of a file and changes its ETag.
func (s *RangeServer) Replace(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/"+name] = data
	s.versions["/"+name]++
}

func (s *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	s.Requests.Add(1)
	if s.FailNext.Load() > 0 {
		s.FailNext.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	s.mu.Lock()
	data, ok := s.files[r.URL.Path]
	etag := fmt.Sprintf(`"%s-v%d"`, strings.TrimPrefix(r.URL.Path, "/"), s.versions[r.URL.Path])
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	size := int64(len(data))
	w.Header().Set("ETag", etag)
	w.Header().Set("Accept-Ranges", "bytes")

	if m := r.Header.Get("If-Match"); m != "" && m != etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(data)
		return
	}

	// bytes=start-end, end inclusive
	startPart, endPart, _ := strings.Cut(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	start, err1 := strconv.ParseInt(startPart, 10, 64)
	end, err2 := strconv.ParseInt(endPart, 10, 64)
	if err1 != nil || err2 != nil || start >= size || end < start {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// CompareReaderToData compares reader output with expected data in chunks.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 1024*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
