// Package latency records per-transaction latency samples and summarizes them.
package latency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Sample is one observed transaction: creation and completion as reported by the ledger
// client.
type Sample struct {
	Workload string
	Create   time.Time
	Finish   time.Time
}

func (s Sample) Duration() time.Duration {
	return s.Finish.Sub(s.Create)
}

// Sink appends samples. Implementations must be safe for concurrent Append.
type Sink interface {
	Append(ctx context.Context, s Sample) error
	Close() error
}

type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("failed to append latency sample to %s: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

func NewSinkWriteError(sink string, err error) *SinkWriteError {
	return &SinkWriteError{Sink: sink, Err: err}
}

func IsSinkWriteError(err error) bool {
	var se *SinkWriteError
	return errors.As(err, &se)
}

func AsSinkWriteError(err error) *SinkWriteError {
	var se *SinkWriteError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

type Summary struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
}

func Summarize(durations []time.Duration) Summary {
	if len(durations) == 0 {
		return Summary{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
