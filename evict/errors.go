package evict

import "errors"

// Construction failures. They indicate a miscalibrated spec or a broken
// measurement environment, not conditions a run can recover from: callers
// are expected to abort, and tests assert on the kind.
var (
	// ErrArenaAllocated is returned when Construct is called twice on one
	// Constructor; each Constructor owns exactly one arena slot.
	ErrArenaAllocated = errors.New("evict: arena already allocated")

	// ErrSetIndexRange is returned for a target set index outside the
	// spec's sets-per-bank range.
	ErrSetIndexRange = errors.New("evict: set index out of range")

	// ErrTooFewCandidates is returned when the arena does not contain at
	// least twice a conflict set's worth of lines for the target index.
	ErrTooFewCandidates = errors.New("evict: too few candidate lines")

	// ErrCalibration is returned when a latency gate fails: the candidate
	// list does not average to the DRAM band, or the conflict set does not
	// average to the LLC band. Measurements made in such a run are
	// meaningless.
	ErrCalibration = errors.New("evict: latency calibration gate failed")

	// ErrCandidatesExhausted is returned when the candidate pool runs dry
	// before the required sets are assembled.
	ErrCandidatesExhausted = errors.New("evict: candidate pool exhausted")

	// ErrSeparationStalled is returned when bank separation cannot collect
	// a full way-group within its probe budget.
	ErrSeparationStalled = errors.New("evict: bank separation stalled")

	// ErrProbeNoisy is returned when a probe exceeds its retry cap without
	// ever producing a plausible reading.
	ErrProbeNoisy = errors.New("evict: probe never produced a plausible reading")

	// ErrVerification is returned when the finished partition violates a
	// size, disjointness, or latency invariant.
	ErrVerification = errors.New("evict: eviction set verification failed")
)
