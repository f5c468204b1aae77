// Package cachespec holds the architectural description of the last-level
// cache under measurement and the experiment parameters. All values are
// fixed before a run starts; nothing in this package is consulted on a hot
// path.
package cachespec

import (
	"errors"
	"fmt"
	"math/bits"
)

// Byte size units.
const (
	KiB = 1024
	MiB = 1024 * KiB
)

// A Band is an inclusive range of average access latencies, in cycles.
type Band struct {
	Lo float64
	Hi float64
}

// Contains reports whether v falls inside the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Lo && v <= b.Hi
}

// A Spec describes the geometry and timing behavior of one LLC. The
// geometry must be provided for the exact part being measured; the latency
// bands are empirical gates that a run must satisfy before its measurements
// are trusted.
type Spec struct {
	// Geometry. All of these must be powers of two except Banks and
	// WaysPerBank.
	LineSize    uint64
	Banks       uint64
	WaysPerBank uint64
	SetsPerBank uint64

	// ArenaBytes is the size of one probing arena. It must be at least
	// twice the LLC capacity so that every set index has enough lines to
	// over-fill every bank.
	ArenaBytes uint64

	// MissThreshold separates an LLC hit from a DRAM miss, in cycles.
	MissThreshold uint64

	// PlausibleMin and PlausibleMax bound a single probe reading. Readings
	// outside this band are discarded as scheduling or interrupt noise and
	// the probe is retried.
	PlausibleMin uint64
	PlausibleMax uint64

	// Latency gates. CandidateBand is the expected DRAM-miss band when
	// traversing the full candidate list. ConflictBand is the expected
	// LLC-hit band for a complete conflict set. VerifyBand bounds the
	// per-eviction-set traversal average and is wider than ConflictBand
	// because different banks have different distances from a core.
	CandidateBand Band
	ConflictBand  Band
	VerifyBand    Band

	// ProbeRetryCap bounds the retry-until-plausible loop of a single
	// probe. Zero means retry forever, matching the behavior of running
	// directly on hardware where noise is transient.
	ProbeRetryCap int

	// GrowthPassCap bounds how many full passes over the candidate ring
	// conflict-set growth may take before the run is declared broken.
	GrowthPassCap int

	// SeparationConfirms is the number of consecutive miss confirmations
	// required before a candidate is trusted during bank separation.
	SeparationConfirms int

	// Traversal lengths for the latency gates and for probe warming.
	// Zero selects the default derived from the geometry.
	CandidateGateAccesses uint64
	ConflictGateAccesses  uint64
	VerifyGateAccesses    uint64
	ProbeWarmAccesses     uint64
}

// XeonE5V4 returns the reference spec for the Intel Xeon E5-2650 v4
// (Broadwell-EP): a 30 MiB LLC organized as 12 banks of 2048 sets, 20 ways
// each, 64-byte lines. The latency bands were profiled on that part.
func XeonE5V4() Spec {
	return Spec{
		LineSize:    64,
		Banks:       12,
		WaysPerBank: 20,
		SetsPerBank: 2048,
		ArenaBytes:  64 * MiB,

		MissThreshold: 100,
		PlausibleMin:  20,
		PlausibleMax:  200,

		CandidateBand: Band{Lo: 165, Hi: 190},
		ConflictBand:  Band{Lo: 30, Hi: 50},
		VerifyBand:    Band{Lo: 25, Hi: 55},

		ProbeRetryCap:      0,
		GrowthPassCap:      1000,
		SeparationConfirms: 100,
	}
}

// ConflictSetSize is the number of lines that fully occupy one set index
// across every bank.
func (s Spec) ConflictSetSize() uint64 {
	return s.Banks * s.WaysPerBank
}

// LLCBytes is the total capacity of the cache described by the spec.
func (s Spec) LLCBytes() uint64 {
	return s.Banks * s.WaysPerBank * s.SetsPerBank * s.LineSize
}

// ArenaEntries is the number of line-sized records the arena holds.
func (s Spec) ArenaEntries() uint64 {
	return s.ArenaBytes / s.LineSize
}

// LineOffsetBits is the number of low address bits that select a byte
// within a line.
func (s Spec) LineOffsetBits() uint {
	return uint(bits.TrailingZeros64(s.LineSize))
}

// SetIndexBits is the width of the set-index field of an address.
func (s Spec) SetIndexBits() uint {
	return uint(bits.TrailingZeros64(s.SetsPerBank))
}

// SetIndexMask selects the set-index field of an address.
func (s Spec) SetIndexMask() uint64 {
	return (s.SetsPerBank - 1) << s.LineOffsetBits()
}

// CandidateGate returns the traversal length used to validate that the
// candidate list misses to DRAM.
func (s Spec) CandidateGate() uint64 {
	if s.CandidateGateAccesses != 0 {
		return s.CandidateGateAccesses
	}
	return 100000 * s.ConflictSetSize()
}

// ConflictGate returns the traversal length used to validate that the
// conflict set hits in the LLC.
func (s Spec) ConflictGate() uint64 {
	if s.ConflictGateAccesses != 0 {
		return s.ConflictGateAccesses
	}
	return 10000 * s.ConflictSetSize()
}

// VerifyGate returns the traversal length used to validate each finished
// eviction set.
func (s Spec) VerifyGate() uint64 {
	if s.VerifyGateAccesses != 0 {
		return s.VerifyGateAccesses
	}
	return 10000 * s.ConflictSetSize()
}

// ProbeWarm returns the number of accesses used to warm a set ring inside
// one probe.
func (s Spec) ProbeWarm() uint64 {
	if s.ProbeWarmAccesses != 0 {
		return s.ProbeWarmAccesses
	}
	return 100 * s.ConflictSetSize()
}

// Validation errors.
var (
	ErrBadGeometry = errors.New("cachespec: invalid cache geometry")
	ErrArenaSize   = errors.New("cachespec: arena smaller than twice the LLC")
)

// Validate checks the spec for internal consistency.
func (s Spec) Validate() error {
	if s.LineSize == 0 || bits.OnesCount64(s.LineSize) != 1 {
		return fmt.Errorf("%w: line size %d is not a power of two",
			ErrBadGeometry, s.LineSize)
	}

	if s.SetsPerBank == 0 || bits.OnesCount64(s.SetsPerBank) != 1 {
		return fmt.Errorf("%w: %d sets per bank is not a power of two",
			ErrBadGeometry, s.SetsPerBank)
	}

	if s.Banks == 0 || s.WaysPerBank == 0 {
		return fmt.Errorf("%w: banks and ways must be positive", ErrBadGeometry)
	}

	if s.ArenaBytes%s.LineSize != 0 {
		return fmt.Errorf("%w: arena size %d is not line aligned",
			ErrBadGeometry, s.ArenaBytes)
	}

	if s.ArenaBytes < 2*s.LLCBytes() {
		return fmt.Errorf("%w: arena %d bytes, LLC %d bytes",
			ErrArenaSize, s.ArenaBytes, s.LLCBytes())
	}

	if s.PlausibleMin >= s.PlausibleMax {
		return fmt.Errorf("%w: empty plausible band [%d, %d]",
			ErrBadGeometry, s.PlausibleMin, s.PlausibleMax)
	}

	return nil
}
