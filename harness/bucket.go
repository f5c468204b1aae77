package harness

import (
	"errors"
	"fmt"
)

// ErrSamplesExhausted is returned when the attacker's recorded timestamps
// end before every victim window has closed. Reading past the end of the
// sample buffer would silently misattribute latencies; the run is instead
// declared broken and the attacker's timed-iteration budget needs more
// headroom.
var ErrSamplesExhausted = errors.New(
	"harness: attacker samples exhausted before victim windows closed")

// A Window is one bank's victim-flood interval, in the shared timestamp
// domain. Windows of a run never overlap because banks are flooded
// strictly sequentially.
type Window struct {
	Bank  int
	Start uint64
	End   uint64
}

// Deltas converts a timestamp series into consecutive differences: entry
// i is the time the attacker spent on sample i+1.
func Deltas(timestamps []uint64) []uint64 {
	if len(timestamps) < 2 {
		return nil
	}

	out := make([]uint64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		out[i-1] = timestamps[i] - timestamps[i-1]
	}

	return out
}

// Bucketize partitions the attacker's latency series by victim window: a
// sample belongs to a window's bucket iff its timestamp falls within
// [Start, End]. Samples in the gaps between windows belong to no bucket.
// Windows must be sorted and non-overlapping, which the sequential flood
// protocol guarantees.
func Bucketize(timestamps []uint64, windows []Window) ([][]uint64, error) {
	buckets := make([][]uint64, len(windows))

	i := 1
	for w, win := range windows {
		for i < len(timestamps) && timestamps[i] < win.Start {
			i++
		}

		if i == len(timestamps) {
			return nil, fmt.Errorf("%w: no samples reach bank %d's window",
				ErrSamplesExhausted, win.Bank)
		}

		bucket := []uint64{}
		for i < len(timestamps) && timestamps[i] <= win.End {
			bucket = append(bucket, timestamps[i]-timestamps[i-1])
			i++
		}

		if i == len(timestamps) && timestamps[i-1] < win.End {
			return nil, fmt.Errorf("%w: samples end inside bank %d's window",
				ErrSamplesExhausted, win.Bank)
		}

		buckets[w] = bucket
	}

	return buckets, nil
}
