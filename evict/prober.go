package evict

import (
	"fmt"

	"github.com/dterei/gotsc"

	"github.com/sarchlab/llcprobe/arena"
)

// A Prober is the measurement primitive of the constructor: it decides,
// from access latency alone, whether a candidate line is evicted by a set
// of lines, and measures average traversal latency for the calibration
// gates. Implementations run on real hardware or against a cache model.
type Prober interface {
	// Probe warms the ring at setHead, touches the candidate, re-warms the
	// ring, then times a second touch of the candidate. It reports true if
	// that touch missed to DRAM, meaning the ring evicted the candidate.
	Probe(setHead, candidate arena.NodeID) (missed bool, err error)

	// AvgAccessCycles traverses the ring at head for the given number of
	// accesses and returns the average per-access latency in cycles.
	AvgAccessCycles(head arena.NodeID, accesses uint64) float64
}

// TSCProber implements Prober on real hardware with serialized time-stamp
// counter reads. The serialization on both sides of the timed touch keeps
// out-of-order execution from folding neighboring work into the measured
// interval.
type TSCProber struct {
	arena    *arena.Arena
	warm     uint64
	overhead uint64

	implausible uint64
}

// NewTSCProber returns a prober over the given arena. The measured timer
// overhead is subtracted from every reading.
func NewTSCProber(a *arena.Arena) *TSCProber {
	return &TSCProber{
		arena:    a,
		warm:     a.Spec().ProbeWarm(),
		overhead: gotsc.TSCOverhead(),
	}
}

// Probe implements Prober.
//
// A single reading is retried until it lands in the spec's plausible band:
// context switches and interrupts occasionally produce wild values, and a
// wild value must not decide set membership. The retry loop is unbounded
// by default (noise is transient on a quiet machine) but can be capped
// through the spec for environments where a hang would be worse than a
// failed run.
func (p *TSCProber) Probe(setHead, candidate arena.NodeID) (bool, error) {
	spec := p.arena.Spec()

	for attempt := 0; ; attempt++ {
		if cap := spec.ProbeRetryCap; cap > 0 && attempt >= cap {
			return false, fmt.Errorf(
				"%w: %d readings outside [%d, %d] cycles",
				ErrProbeNoisy, attempt, spec.PlausibleMin, spec.PlausibleMax)
		}

		// Flush unrelated lines, install the candidate, then let the ring
		// contend with it. One pass over the ring is not enough: the
		// replacement policy may evict a ring member instead of the
		// candidate, so the ring is walked many times over.
		p.arena.Chase(setHead, p.warm)
		p.arena.Touch(candidate)
		p.arena.Chase(setHead, p.warm)

		start := gotsc.BenchStart()
		p.arena.Touch(candidate)
		end := gotsc.BenchEnd()

		if end-start <= p.overhead {
			p.implausible++
			continue
		}

		t := end - start - p.overhead
		if t < spec.PlausibleMin || t > spec.PlausibleMax {
			p.implausible++
			continue
		}

		return t > spec.MissThreshold, nil
	}
}

// AvgAccessCycles implements Prober.
func (p *TSCProber) AvgAccessCycles(head arena.NodeID, accesses uint64) float64 {
	start := gotsc.BenchStart()
	p.arena.Chase(head, accesses)
	end := gotsc.BenchEnd()

	return float64(end-start-p.overhead) / float64(accesses)
}

// ImplausibleReadings returns how many probe readings fell outside the
// plausible band and were retried.
func (p *TSCProber) ImplausibleReadings() uint64 { return p.implausible }
