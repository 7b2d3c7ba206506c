package sharded

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/splice/pkg/ranges"
)

// ErrSizeChanged is returned by Write when resume state exists for a
// different total size.
var ErrSizeChanged = errors.New("sharded: total size differs from stored state")

// ErrIncomplete is returned by Complete when the written shards do not cover
// the whole file.
var ErrIncomplete = errors.New("sharded: shards do not cover the file")

// Compression identifies how shard objects are encoded.
type Compression string

const (
	// CompressionNone stores shard bytes as-is.
	CompressionNone Compression = ""
	// CompressionLZ4 stores each shard as an LZ4 frame.
	CompressionLZ4 Compression = "lz4"
)

// ParseCompression parses a compression name ("none", "lz4").
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("sharded: unknown compression %q", s)
	}
}

// Manifest describes a completed sharded file.
type Manifest struct {
	TotalSize   int64             `json:"total_size"`
	PartsPrefix string            `json:"parts_prefix"`
	Compression Compression       `json:"compression,omitempty"`
	Shards      []ShardInfo       `json:"shards"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ShardInfo describes a single shard in the manifest. Shards are listed in
// offset order; empty ranges have no shard.
type ShardInfo struct {
	Object     string `json:"object"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	StoredSize int64  `json:"stored_size,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// Range returns the byte range the shard covers.
func (s ShardInfo) Range() ranges.Range {
	return ranges.Range{Start: s.Offset, End: s.Offset + s.Size}
}

// Ranges returns the shard ranges in manifest order.
func (m *Manifest) Ranges() []ranges.Range {
	out := make([]ranges.Range, len(m.Shards))
	for i, s := range m.Shards {
		out[i] = s.Range()
	}
	return out
}

// ShardStatus represents the state of a shard during a write.
type ShardStatus string

const (
	// ShardPending means the shard has not been written yet.
	ShardPending ShardStatus = "pending"
	// ShardCompleted means the shard object has been committed.
	ShardCompleted ShardStatus = "completed"
)

// ShardState tracks a single shard during a write. The index is implicit
// from the array position and matches the range index passed to Put.
type ShardState struct {
	Status     ShardStatus `json:"status"`
	Object     string      `json:"object,omitempty"`
	Offset     int64       `json:"offset"`
	Size       int64       `json:"size"`
	StoredSize int64       `json:"stored_size,omitempty"`
	Checksum   string      `json:"checksum,omitempty"`
}

// state tracks write progress for resume support.
type state struct {
	TotalSize   int64             `json:"total_size"`
	PartsPrefix string            `json:"parts_prefix"`
	Compression Compression       `json:"compression,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Shards      []ShardState      `json:"shards"`
	StartedAt   time.Time         `json:"started_at"`
}

// Options configures sharded file operations.
type Options struct {
	Size            int64
	Metadata        map[string]string
	VerifyChecksum  bool
	ComputeChecksum bool // Compute checksums during writes (default: true)
	StateInterval   int  // Persist state every N completed shards
	Compression     Compression
}

// Option is a functional option for configuring sharded operations.
type Option func(*Options)

// WithSize sets the total size of the file. Required for Write.
func WithSize(size int64) Option {
	return func(o *Options) {
		o.Size = size
	}
}

// WithMetadata sets caller-defined metadata stored in the manifest.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithVerifyChecksum enables checksum verification during reads.
// When enabled and a shard has no stored checksum, verification is skipped for that shard.
func WithVerifyChecksum(verify bool) Option {
	return func(o *Options) {
		o.VerifyChecksum = verify
	}
}

// WithChecksum enables or disables SHA256 checksum computation during writes.
// Default is true.
func WithChecksum(compute bool) Option {
	return func(o *Options) {
		o.ComputeChecksum = compute
	}
}

// WithStateInterval sets how often to persist state (every N completed shards).
func WithStateInterval(n int) Option {
	return func(o *Options) {
		o.StateInterval = n
	}
}

// WithCompression sets how shard objects are encoded. Checksums and sizes in
// the manifest always refer to the uncompressed bytes.
func WithCompression(c Compression) Option {
	return func(o *Options) {
		o.Compression = c
	}
}

// File is a sharded file being written. Each Put stores one range of the
// file as its own object.
type File struct {
	bucket      *blob.Bucket
	dest        string
	opts        Options
	partsPrefix string

	mu             sync.Mutex
	state          *state
	completedCount int
	sinceSave      int
	closed         bool
}

// Write creates or resumes a sharded file write operation.
// If state exists from a previous incomplete write, it is loaded so that
// Filled reports shards that can be skipped.
func Write(ctx context.Context, bucket *blob.Bucket, dest string, options ...Option) (*File, error) {
	opts := Options{
		StateInterval:   10,
		ComputeChecksum: true,
	}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.Size < 0 {
		return nil, errors.New("sharded: size must not be negative")
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = 10
	}

	f := &File{
		bucket:      bucket,
		dest:        dest,
		opts:        opts,
		partsPrefix: dest + ".shards/",
	}

	if err := f.loadState(ctx); err != nil {
		return nil, fmt.Errorf("sharded: load state: %w", err)
	}

	return f, nil
}

func (f *File) freshState() *state {
	return &state{
		TotalSize:   f.opts.Size,
		PartsPrefix: f.partsPrefix,
		Compression: f.opts.Compression,
		Metadata:    f.opts.Metadata,
		Shards:      []ShardState{},
		StartedAt:   time.Now(),
	}
}

// loadState attempts to load existing state for resume.
func (f *File) loadState(ctx context.Context) error {
	data, err := f.bucket.ReadAll(ctx, f.statePath())
	if err != nil {
		if isNotExist(err) {
			f.state = f.freshState()
			return nil
		}
		return err
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	if s.TotalSize != f.opts.Size {
		return fmt.Errorf("%w: stored %d, requested %d", ErrSizeChanged, s.TotalSize, f.opts.Size)
	}

	f.state = &s
	f.partsPrefix = s.PartsPrefix
	// Stored shards keep their encoding; new ones must match it.
	f.opts.Compression = s.Compression

	for i := range f.state.Shards {
		if f.state.Shards[i].Status == ShardCompleted {
			f.completedCount++
		} else {
			f.state.Shards[i].Status = ShardPending
		}
	}

	return nil
}

func (f *File) statePath() string {
	return f.partsPrefix + "state.json"
}

// SaveState persists the current state for resume.
func (f *File) SaveState(ctx context.Context) error {
	f.mu.Lock()
	data, err := json.MarshalIndent(f.state, "", "  ")
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.bucket.WriteAll(ctx, f.statePath(), data, nil)
}

// Size returns the total size of the file.
func (f *File) Size() int64 {
	return f.opts.Size
}

// Metadata returns the metadata stored in the current state.
// Use this to check values like a source checksum before resuming.
func (f *File) Metadata() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return nil
	}
	return f.state.Metadata
}

// Reset discards existing state and shard objects and starts fresh.
func (f *File) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, shard := range f.state.Shards {
		if shard.Object != "" {
			path := f.partsPrefix + shard.Object
			if err := f.bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
				return fmt.Errorf("delete shard %s: %w", path, err)
			}
		}
	}

	if err := f.bucket.Delete(ctx, f.statePath()); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}

	f.state = f.freshState()
	f.completedCount = 0
	f.sinceSave = 0

	return nil
}

// Filled reports whether shard index was already written for exactly r in a
// previous session.
func (f *File) Filled(index int, r ranges.Range) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ss := f.findShard(index)
	return ss != nil && ss.Status == ShardCompleted && ss.Offset == r.Start && ss.Size == r.Len()
}

// Put stores data as shard index covering r, replacing any earlier object for
// that index. State is persisted every StateInterval completed shards.
func (f *File) Put(ctx context.Context, index int, r ranges.Range, data []byte) error {
	if index < 0 {
		return fmt.Errorf("sharded: invalid shard index %d", index)
	}
	if !r.Within(f.opts.Size) {
		return fmt.Errorf("sharded: range %s outside [0,%d)", r, f.opts.Size)
	}
	if int64(len(data)) != r.Len() {
		return fmt.Errorf("sharded: shard %d has %d bytes for range %s", index, len(data), r)
	}

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errors.New("sharded: file is closed")
	}

	object := shardObject(index)
	stored, err := f.writeObject(ctx, f.partsPrefix+object, data)
	if err != nil {
		return fmt.Errorf("sharded: write shard %d: %w", index, err)
	}

	checksum := ""
	if f.opts.ComputeChecksum {
		checksum = checksumOf(data)
	}

	f.mu.Lock()
	for len(f.state.Shards) <= index {
		f.state.Shards = append(f.state.Shards, ShardState{Status: ShardPending})
	}
	ss := &f.state.Shards[index]
	if ss.Status != ShardCompleted {
		f.completedCount++
	}
	*ss = ShardState{
		Status:     ShardCompleted,
		Object:     object,
		Offset:     r.Start,
		Size:       r.Len(),
		StoredSize: stored,
		Checksum:   checksum,
	}
	f.sinceSave++
	save := f.sinceSave >= f.opts.StateInterval
	if save {
		f.sinceSave = 0
	}
	f.mu.Unlock()

	if save {
		if err := f.SaveState(ctx); err != nil {
			return fmt.Errorf("sharded: save state: %w", err)
		}
	}
	return nil
}

// writeObject writes data to path, compressing it if configured, and returns
// the number of bytes stored.
func (f *File) writeObject(ctx context.Context, path string, data []byte) (int64, error) {
	payload := data
	if f.opts.Compression == CompressionLZ4 {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return 0, fmt.Errorf("compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("compress: %w", err)
		}
		payload = buf.Bytes()
	}

	if err := f.bucket.WriteAll(ctx, path, payload, nil); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

// findShard returns the shard state for the given index, or nil if not found.
// Must be called with f.mu held.
func (f *File) findShard(idx int) *ShardState {
	if idx >= 0 && idx < len(f.state.Shards) {
		return &f.state.Shards[idx]
	}
	return nil
}

// Complete finalizes the sharded file. The completed shards must cover
// [0, Size) exactly; the manifest is written and the resume state removed.
func (f *File) Complete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("sharded: file is already closed")
	}

	manifest := Manifest{
		TotalSize:   f.state.TotalSize,
		PartsPrefix: f.partsPrefix,
		Compression: f.state.Compression,
		Metadata:    f.state.Metadata,
		CompletedAt: time.Now(),
	}

	var covered []ranges.Range
	for _, ss := range f.state.Shards {
		if ss.Status != ShardCompleted {
			continue
		}
		manifest.Shards = append(manifest.Shards, ShardInfo{
			Object:     ss.Object,
			Offset:     ss.Offset,
			Size:       ss.Size,
			StoredSize: ss.StoredSize,
			Checksum:   ss.Checksum,
		})
		covered = append(covered, ranges.Range{Start: ss.Offset, End: ss.Offset + ss.Size})
	}
	if err := ranges.Verify(manifest.TotalSize, covered); err != nil {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	sortShards(manifest.Shards)

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := f.bucket.WriteAll(ctx, manifestPath(f.dest), manifestData, nil); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := f.bucket.Delete(ctx, f.statePath()); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}

	f.closed = true
	return nil
}

// CompletedCount returns the number of shards that have been written.
func (f *File) CompletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedCount
}

// CompletedBytes returns the total bytes of all completed shards.
func (f *File) CompletedBytes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, ss := range f.state.Shards {
		if ss.Status == ShardCompleted {
			total += ss.Size
		}
	}
	return total
}

func shardObject(index int) string {
	return fmt.Sprintf("shard-%06d", index)
}

func manifestPath(dest string) string {
	return dest + ".manifest.json"
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sortShards orders shards by offset. Empty shards never reach the manifest,
// so offsets are unique.
func sortShards(shards []ShardInfo) {
	for i := 1; i < len(shards); i++ {
		for j := i; j > 0 && shards[j].Offset < shards[j-1].Offset; j-- {
			shards[j], shards[j-1] = shards[j-1], shards[j]
		}
	}
}

// readManifest loads and decodes the manifest for dest.
func readManifest(ctx context.Context, bucket *blob.Bucket, dest string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, manifestPath(dest))
	if err != nil {
		return nil, fmt.Errorf("sharded: read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("sharded: unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

// openShard returns a reader over the decoded bytes of shard.
func openShard(ctx context.Context, bucket *blob.Bucket, m *Manifest, shard ShardInfo) (io.ReadCloser, error) {
	r, err := bucket.NewReader(ctx, m.PartsPrefix+shard.Object, nil)
	if err != nil {
		return nil, err
	}
	if m.Compression == CompressionLZ4 {
		return &decompressReader{Reader: lz4.NewReader(r), closer: r}, nil
	}
	return r, nil
}

type decompressReader struct {
	io.Reader
	closer io.Closer
}

func (d *decompressReader) Close() error {
	return d.closer.Close()
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
