package evict

import (
	"fmt"

	"github.com/sarchlab/llcprobe/arena"
)

// A Set is one eviction set: a circular sublist of arena nodes that all
// map to the same bank at the family's set index. Which physical bank that
// is remains unknown; membership as a group is what construction
// guarantees. Sets are immutable once returned.
type Set struct {
	Head arena.NodeID
}

// Members returns the set's nodes in ring order.
func (s Set) Members(a *arena.Arena) []arena.NodeID {
	return a.Ring(s.Head)
}

// Size returns the number of nodes in the set.
func (s Set) Size(a *arena.Arena) uint64 {
	return a.RingLen(s.Head)
}

// A Family is the result of one construction: the arena the nodes live in
// and one eviction set per bank, pairwise disjoint, jointly covering the
// conflict set. The family owns the arena; Close releases it and
// invalidates every set.
type Family struct {
	Arena    *arena.Arena
	SetIndex uint64
	Sets     []Set
}

// Close releases the family's arena.
func (f *Family) Close() error { return f.Arena.Close() }

// Verify re-checks the partition invariants: per-set size, pairwise
// disjointness, union size, and the per-set latency gate. The latency
// band here is wider than the conflict-set band because each set now sits
// in a single bank and banks differ in distance from the measuring core.
func (f *Family) Verify(p Prober) error {
	spec := f.Arena.Spec()

	seen := make(map[arena.NodeID]bool, spec.ConflictSetSize())
	for i, set := range f.Sets {
		members := set.Members(f.Arena)

		if uint64(len(members)) != spec.WaysPerBank {
			return fmt.Errorf("%w: set %d has %d members, want %d",
				ErrVerification, i, len(members), spec.WaysPerBank)
		}

		for _, m := range members {
			if seen[m] {
				return fmt.Errorf("%w: node %d appears in more than one set",
					ErrVerification, m)
			}
			seen[m] = true
		}
	}

	if uint64(len(seen)) != spec.ConflictSetSize() {
		return fmt.Errorf("%w: union covers %d nodes, want %d",
			ErrVerification, len(seen), spec.ConflictSetSize())
	}

	for i, set := range f.Sets {
		avg := p.AvgAccessCycles(set.Head, spec.VerifyGate())
		if !spec.VerifyBand.Contains(avg) {
			return fmt.Errorf(
				"%w: set %d averaged %.1f cycles, want within [%.0f, %.0f]",
				ErrVerification, i, avg, spec.VerifyBand.Lo, spec.VerifyBand.Hi)
		}
	}

	return nil
}
