package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ligustah/splice/pkg/coordinator"
)

// File is an output file of fixed size, memory-mapped read/write. Bytes of
// ranges that are never merged stay zero.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// CreateFile creates or truncates path to exactly size bytes and maps it.
func CreateFile(path string, size int64) (*File, error) {
	if size < 0 {
		return nil, fmt.Errorf("store: negative size %d", size)
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("store: size %d too large to map", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: create output: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: size output: %w", err)
	}

	out := &File{f: f, size: size}
	if size == 0 {
		// mmap rejects zero-length mappings.
		return out, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap output: %w", err)
	}
	out.data = data
	return out, nil
}

// Size returns the file length.
func (s *File) Size() int64 {
	return s.size
}

// Merge copies c.Data into the mapping at c.Range.
func (s *File) Merge(_ context.Context, c coordinator.Chunk) error {
	if s.f == nil {
		return os.ErrClosed
	}
	copy(s.data[c.Range.Start:c.Range.End], c.Data)
	return nil
}

// Flush writes dirty pages back to the file.
func (s *File) Flush(context.Context) error {
	if s.f == nil {
		return os.ErrClosed
	}
	if s.data == nil {
		return nil
	}
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("store: msync: %w", err)
	}
	return nil
}

// Close unmaps and closes the file. It does not flush.
func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	var errs []error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, fmt.Errorf("store: munmap: %w", err))
		}
		s.data = nil
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	s.f = nil
	return errors.Join(errs...)
}
