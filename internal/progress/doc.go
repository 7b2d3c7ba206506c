// Package progress prints human-readable progress for a splice run.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Input:       path,
//	    TotalSize:   size,
//	    TotalRanges: len(rs),
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.RangeStarted()
//	reporter.RangeMerged(r.Len())
//
// # Output Format
//
//	[splice] Input: input.bin
//	[splice] Total size: 2.5 GiB | Ranges: 16 | Workers: 16
//	[splice] Progress: 45.2% | 1.1 GiB / 2.5 GiB | Speed: 1.2 GiB/s | ETA: 2s
//	[splice] Ranges: 7 merged | 9 in-progress | 0 pending | 0 failed
package progress
