// Package pipeline drives a splice run: it splits the input, runs one task
// per range on a bounded worker group, and feeds the transformed ranges to a
// coordinator that owns the output store.
//
// [Run] handles random-access inputs of known size. [Stream] handles an
// io.Reader whose length is only known at EOF.
//
// Failures are isolated per range. A failed range is reported as a
// [RangeError] and leaves the store untouched at its offsets; the remaining
// ranges still complete. With MaxConsecutiveFailures set, a run of failures
// cancels outstanding work and returns a [CircuitBreakerError].
package pipeline
