// Package store provides the outputs a coordinator can merge chunks into.
//
// Every type here implements coordinator.Store and is written by a single
// goroutine; none of them lock. [Region] and [File] are random-access with a
// fixed size, [Append] is an unbounded sequential sink that puts out-of-order
// chunks back in stream order, and [Bucket] stores each range as a shard of
// a sharded object.
package store
