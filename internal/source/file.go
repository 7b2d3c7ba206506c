package source

import (
	"context"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ligustah/splice/pkg/ranges"
)

// File is a read-only memory-mapped input file.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// OpenFile maps path read-only.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open input: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: stat input: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("source: %s is not a regular file", path)
	}

	size := info.Size()
	if size > math.MaxInt {
		f.Close()
		return nil, fmt.Errorf("source: %s too large to map", path)
	}

	src := &File{f: f, size: size}
	if size == 0 {
		return src, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: mmap input: %w", err)
	}
	// Each worker reads one contiguous range front to back.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	src.data = data
	return src, nil
}

// Size returns the file length.
func (s *File) Size() int64 {
	return s.size
}

// ReadRange copies the bytes of r out of the mapping.
func (s *File) ReadRange(ctx context.Context, r ranges.Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.f == nil {
		return nil, os.ErrClosed
	}
	if err := checkRange(r, s.size); err != nil {
		return nil, err
	}
	out := make([]byte, r.Len())
	copy(out, s.data[r.Start:r.End])
	return out, nil
}

// Close unmaps and closes the file.
func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("source: munmap: %w", err)
		}
		s.data = nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
