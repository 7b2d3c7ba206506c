package sharded

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/splice/pkg/ranges"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// putAll writes every range of data to f in reverse order.
func putAll(t *testing.T, f *File, data []byte, rs []ranges.Range) {
	t.Helper()
	ctx := context.Background()
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		if err := f.Put(ctx, i, r, data[r.Start:r.End]); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	data := testData(1024 * 1024)
	rs, err := ranges.Split(int64(len(data)), 4)
	if err != nil {
		t.Fatal(err)
	}

	f, err := Write(ctx, bucket, "test/file.bin",
		WithSize(int64(len(data))),
		WithMetadata(map[string]string{"test": "value"}),
	)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	putAll(t, f, data, rs)

	if f.CompletedCount() != 4 {
		t.Fatalf("expected 4 shards, got %d", f.CompletedCount())
	}
	if f.CompletedBytes() != int64(len(data)) {
		t.Fatalf("expected %d completed bytes, got %d", len(data), f.CompletedBytes())
	}

	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reader, err := ReadFromBucket(ctx, bucket, "test/file.bin", WithVerifyChecksum(true))
	if err != nil {
		t.Fatalf("ReadFromBucket: %v", err)
	}
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Fatalf("data mismatch: got %d bytes, expected %d", len(result), len(data))
	}

	m := reader.Manifest()
	if m.Metadata["test"] != "value" {
		t.Fatalf("expected metadata 'test'='value', got %v", m.Metadata)
	}
	for i, s := range m.Shards {
		if s.Range() != rs[i] {
			t.Errorf("shard %d: range %s, expected %s", i, s.Range(), rs[i])
		}
	}

	// state.json is removed on completion
	if exists, _ := bucket.Exists(ctx, "test/file.bin.shards/state.json"); exists {
		t.Error("state file still exists after Complete")
	}
}

func TestWriteCompressed(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	data := bytes.Repeat([]byte("a;b;c;d\n"), 16*1024)
	rs, _ := ranges.Split(int64(len(data)), 3)

	f, err := Write(ctx, bucket, "test/lz4.bin",
		WithSize(int64(len(data))),
		WithCompression(CompressionLZ4),
	)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	putAll(t, f, data, rs)
	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reader, err := ReadFromBucket(ctx, bucket, "test/lz4.bin", WithVerifyChecksum(true))
	if err != nil {
		t.Fatalf("ReadFromBucket: %v", err)
	}
	defer reader.Close()

	m := reader.Manifest()
	if m.Compression != CompressionLZ4 {
		t.Fatalf("expected lz4 compression, got %q", m.Compression)
	}
	for i, s := range m.Shards {
		if s.StoredSize >= s.Size {
			t.Errorf("shard %d: stored %d bytes for %d input bytes", i, s.StoredSize, s.Size)
		}
	}

	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Fatal("data mismatch after decompression")
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	data := testData(1024 * 1024)
	rs, _ := ranges.Split(int64(len(data)), 4)

	f1, err := Write(ctx, bucket, "test/resume.bin",
		WithSize(int64(len(data))),
		WithStateInterval(1),
		WithMetadata(map[string]string{"source": "input.bin"}),
	)
	if err != nil {
		t.Fatalf("Write (first): %v", err)
	}
	for _, i := range []int{0, 2} {
		if err := f1.Put(ctx, i, rs[i], data[rs[i].Start:rs[i].End]); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	// no Complete: simulate interruption

	f2, err := Write(ctx, bucket, "test/resume.bin", WithSize(int64(len(data))))
	if err != nil {
		t.Fatalf("Write (second): %v", err)
	}
	if f2.CompletedCount() != 2 {
		t.Fatalf("expected 2 completed shards from resume, got %d", f2.CompletedCount())
	}
	if f2.Metadata()["source"] != "input.bin" {
		t.Fatalf("expected stored metadata, got %v", f2.Metadata())
	}

	written := 0
	for i, r := range rs {
		if f2.Filled(i, r) {
			continue
		}
		if err := f2.Put(ctx, i, r, data[r.Start:r.End]); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		written++
	}
	if written != 2 {
		t.Fatalf("expected 2 shards written after resume, got %d", written)
	}

	if err := f2.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reader, err := ReadFromBucket(ctx, bucket, "test/resume.bin")
	if err != nil {
		t.Fatalf("ReadFromBucket: %v", err)
	}
	defer reader.Close()
	result, _ := io.ReadAll(reader)
	if !bytes.Equal(result, data) {
		t.Fatal("data mismatch after resume")
	}
}

func TestFilledRequiresSameRange(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	data := testData(100)

	f1, _ := Write(ctx, bucket, "test/ranges.bin", WithSize(100), WithStateInterval(1))
	if err := f1.Put(ctx, 0, ranges.Range{Start: 0, End: 50}, data[:50]); err != nil {
		t.Fatal(err)
	}

	f2, _ := Write(ctx, bucket, "test/ranges.bin", WithSize(100))
	if !f2.Filled(0, ranges.Range{Start: 0, End: 50}) {
		t.Error("expected shard 0 [0,50) filled")
	}
	if f2.Filled(0, ranges.Range{Start: 0, End: 25}) {
		t.Error("shard with a different range must not count as filled")
	}
	if f2.Filled(1, ranges.Range{Start: 50, End: 100}) {
		t.Error("unwritten shard reported filled")
	}
}

func TestResumeSizeChanged(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "test/size.bin", WithSize(10), WithStateInterval(1))
	if err := f.Put(ctx, 0, ranges.Range{Start: 0, End: 10}, testData(10)); err != nil {
		t.Fatal(err)
	}

	_, err := Write(ctx, bucket, "test/size.bin", WithSize(20))
	if !errors.Is(err, ErrSizeChanged) {
		t.Fatalf("expected ErrSizeChanged, got %v", err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, _ := Write(ctx, bucket, "test/reset.bin", WithSize(10), WithStateInterval(1))
	f1.Put(ctx, 0, ranges.Range{Start: 0, End: 5}, testData(5))

	f2, _ := Write(ctx, bucket, "test/reset.bin", WithSize(10))
	if f2.CompletedCount() != 1 {
		t.Fatalf("expected 1 completed shard, got %d", f2.CompletedCount())
	}
	if err := f2.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f2.CompletedCount() != 0 {
		t.Fatalf("expected 0 completed shards after reset, got %d", f2.CompletedCount())
	}
	if exists, _ := bucket.Exists(ctx, "test/reset.bin.shards/shard-000000"); exists {
		t.Error("shard object still exists after Reset")
	}
}

func TestCompleteRequiresCoverage(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	data := testData(10)

	f, _ := Write(ctx, bucket, "test/gap.bin", WithSize(10))
	f.Put(ctx, 0, ranges.Range{Start: 0, End: 4}, data[:4])
	f.Put(ctx, 2, ranges.Range{Start: 7, End: 10}, data[7:])

	err := f.Complete(ctx)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	f.Put(ctx, 1, ranges.Range{Start: 4, End: 7}, data[4:7])
	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := f.Complete(ctx); err == nil {
		t.Fatal("expected error completing twice")
	}
	if err := f.Put(ctx, 0, ranges.Range{Start: 0, End: 4}, data[:4]); err == nil {
		t.Fatal("expected error writing after Complete")
	}
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	f, _ := Write(ctx, bucket, "test/bad.bin", WithSize(10))

	tests := []struct {
		name  string
		index int
		r     ranges.Range
		data  []byte
	}{
		{"negative index", -1, ranges.Range{Start: 0, End: 1}, []byte{1}},
		{"past end", 0, ranges.Range{Start: 8, End: 12}, make([]byte, 4)},
		{"length mismatch", 0, ranges.Range{Start: 0, End: 4}, make([]byte, 3)},
		{"inverted", 0, ranges.Range{Start: 5, End: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.Put(ctx, tt.index, tt.r, tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if f.CompletedCount() != 0 {
		t.Fatalf("rejected puts were recorded: %d", f.CompletedCount())
	}
}

func TestEmptyFile(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, err := Write(ctx, bucket, "test/empty.bin", WithSize(0))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reader, err := ReadFromBucket(ctx, bucket, "test/empty.bin")
	if err != nil {
		t.Fatalf("ReadFromBucket: %v", err)
	}
	defer reader.Close()
	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected empty file, got %d bytes", len(result))
	}
}

func TestChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	data := testData(64)

	f, _ := Write(ctx, bucket, "test/corrupt.bin", WithSize(64))
	f.Put(ctx, 0, ranges.Range{Start: 0, End: 64}, data)
	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	corrupt := bytes.Clone(data)
	corrupt[0] ^= 0xff
	if err := bucket.WriteAll(ctx, "test/corrupt.bin.shards/shard-000000", corrupt, nil); err != nil {
		t.Fatal(err)
	}

	reader, _ := ReadFromBucket(ctx, bucket, "test/corrupt.bin", WithVerifyChecksum(true))
	defer reader.Close()
	if _, err := io.ReadAll(reader); err == nil {
		t.Fatal("expected checksum mismatch")
	}

	sr, _ := OpenShardsFromBucket(ctx, bucket, "test/corrupt.bin")
	defer sr.Close()
	if _, err := sr.ReadRange(ctx, 0); err == nil {
		t.Fatal("expected checksum mismatch from ReadRange")
	}
}

func TestShardReader(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	data := testData(1000)
	rs, _ := ranges.Split(1000, 3)

	f, _ := Write(ctx, bucket, "test/random.bin", WithSize(1000), WithCompression(CompressionLZ4))
	putAll(t, f, data, rs)
	if err := f.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sr, err := OpenShardsFromBucket(ctx, bucket, "test/random.bin")
	if err != nil {
		t.Fatalf("OpenShardsFromBucket: %v", err)
	}
	defer sr.Close()

	for i := len(rs) - 1; i >= 0; i-- {
		got, err := sr.ReadRange(ctx, i)
		if err != nil {
			t.Fatalf("ReadRange(%d): %v", i, err)
		}
		if !bytes.Equal(got, data[rs[i].Start:rs[i].End]) {
			t.Errorf("shard %d data mismatch", i)
		}
	}

	if _, err := sr.Open(ctx, len(rs)); err == nil {
		t.Fatal("expected error for out of range shard")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompression(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
