// Package sharded stores a file in cloud storage as one object per byte
// range, with a manifest for reassembly.
//
// Shards are addressed by range rather than written in sequence, so they may
// be produced in any order by any number of workers. The package handles
// state persistence for resumable writes and is storage-agnostic via
// gocloud.dev/blob.
//
// # Writing
//
// Use [Write] to create a sharded file, call [File.Put] once per range, then
// [File.Complete] to finalize. Complete fails with [ErrIncomplete] unless the
// shard ranges cover [0, size) without gaps or overlaps.
//
// Options:
//   - [WithSize]: Total size of the file (required)
//   - [WithMetadata]: Caller-defined metadata stored in manifest
//   - [WithCompression]: Encode shard objects with LZ4
//   - [WithChecksum]: SHA256 of each shard's decoded bytes (default on)
//
// # Resume
//
// The same [Write] call handles resume. If state exists from a previous
// incomplete write, [File.Filled] reports ranges that were already stored.
// Use [File.Metadata] to check stored metadata (for example that the source
// has not changed) and [File.Reset] to discard state and start over.
//
// # Reading
//
// [Read] streams all shards in order. [OpenShards] gives random access to
// individual shards for parallel reads.
//
// # Storage Layout
//
//	{bucket}/{dest}.shards/shard-000000
//	{bucket}/{dest}.shards/shard-000001
//	{bucket}/{dest}.shards/state.json     (during writes, deleted on completion)
//	{bucket}/{dest}.manifest.json         (on completion)
//
// # Manifest Format
//
//	{
//	  "total_size": 1073741824,
//	  "parts_prefix": "path/to/file.bin.shards/",
//	  "compression": "lz4",
//	  "shards": [
//	    {"object": "shard-000000", "offset": 0, "size": 268435456, "stored_size": 1204, "checksum": "..."},
//	    ...
//	  ],
//	  "metadata": {"source": "..."},
//	  "completed_at": "2025-01-15T10:30:00Z"
//	}
package sharded
