package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Input names what is being processed (for display).
	Input string

	// TotalSize is the number of input bytes, or -1 if unknown (stream mode).
	TotalSize int64

	// TotalRanges is the number of ranges, or 0 if unknown.
	TotalRanges int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
// The Range* methods are safe for concurrent use.
type Reporter struct {
	opts Options

	mergedBytes  atomic.Int64
	mergedRanges atomic.Int32
	failedRanges atomic.Int32
	inProgress   atomic.Int32

	// Owned by the update loop.
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[splice] Input: %s\n", r.opts.Input)
	if r.opts.TotalSize >= 0 {
		fmt.Fprintf(r.opts.Output, "[splice] Total size: %s | Ranges: %d | Workers: %d\n",
			FormatBytes(r.opts.TotalSize), r.opts.TotalRanges, r.opts.Workers)
	} else {
		fmt.Fprintf(r.opts.Output, "[splice] Streaming | Workers: %d\n", r.opts.Workers)
	}

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
// Safe to call more than once, and without Start.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// RangeStarted marks a range as in progress.
func (r *Reporter) RangeStarted() {
	r.inProgress.Add(1)
}

// RangeMerged marks a range of size bytes as merged into the output.
func (r *Reporter) RangeMerged(size int64) {
	r.mergedBytes.Add(size)
	r.mergedRanges.Add(1)
	r.inProgress.Add(-1)
}

// RangeFailed marks a range as failed.
func (r *Reporter) RangeFailed() {
	r.failedRanges.Add(1)
	r.inProgress.Add(-1)
}

// MergedBytes returns the number of bytes merged so far.
func (r *Reporter) MergedBytes() int64 {
	return r.mergedBytes.Load()
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	merged := r.mergedBytes.Load()
	mergedRanges := int(r.mergedRanges.Load())
	failed := int(r.failedRanges.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(merged-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = merged

	if r.opts.TotalSize < 0 {
		fmt.Fprintf(r.opts.Output, "\r[splice] Merged: %s | Speed: %s/s | Ranges: %d    ",
			FormatBytes(merged), FormatBytes(int64(speed)), mergedRanges)
		return
	}

	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(merged) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - merged)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := max(r.opts.TotalRanges-mergedRanges-failed-inProgress, 0)

	fmt.Fprintf(r.opts.Output, "\r[splice] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(merged),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[splice] Ranges: %d merged | %d in-progress | %d pending | %d failed    \033[A",
		mergedRanges, inProgress, pending, failed)
}

func (r *Reporter) printFinalStatus() {
	merged := r.mergedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(merged) / math.Max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[splice] Merged: %s | Ranges: %d merged | %d failed    \n",
		FormatBytes(merged),
		r.mergedRanges.Load(),
		r.failedRanges.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[splice] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats b using binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, units[i])
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// ParseBytes parses a byte size such as "256MiB", "1.5KiB" or "1MB".
// IEC suffixes (KiB, MiB, ...) are powers of 1024; SI suffixes (KB, MB, ...)
// are powers of 1000.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)

	suffixes := []struct {
		suffix     string
		multiplier float64
	}{
		{"TiB", 1 << 40}, {"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"B", 1},
	}

	multiplier := 1.0
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			multiplier = sf.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	return int64(value * multiplier), nil
}
