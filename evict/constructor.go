package evict

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/llcprobe/arena"
	"github.com/sarchlab/llcprobe/cachespec"
)

// warmupProbes is the number of untimed probes issued before any probe
// result is trusted, letting the caches and branch predictors settle.
const warmupProbes = 10

// A Builder builds Constructors.
type Builder struct {
	spec          cachespec.Spec
	proberFactory func(*arena.Arena) Prober
	seed          int64
	quiet         bool
}

// MakeBuilder creates a builder with the reference spec and the hardware
// prober.
func MakeBuilder() Builder {
	return Builder{
		spec:          cachespec.XeonE5V4(),
		proberFactory: func(a *arena.Arena) Prober { return NewTSCProber(a) },
	}
}

// WithSpec sets the cache spec to construct against.
func (b Builder) WithSpec(spec cachespec.Spec) Builder {
	b.spec = spec
	return b
}

// WithProberFactory sets the prober used for every measurement. The
// factory runs once, after the arena is allocated.
func (b Builder) WithProberFactory(f func(*arena.Arena) Prober) Builder {
	b.proberFactory = f
	return b
}

// WithShuffleSeed sets the seed of the candidate permutation.
func (b Builder) WithShuffleSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithQuiet suppresses progress output.
func (b Builder) WithQuiet() Builder {
	b.quiet = true
	return b
}

// Build builds the constructor.
func (b Builder) Build() *Constructor {
	if b.proberFactory == nil {
		panic("evict: prober factory is not given")
	}

	return &Constructor{
		spec:          b.spec,
		proberFactory: b.proberFactory,
		rng:           rand.New(rand.NewSource(b.seed)),
		quiet:         b.quiet,
	}
}

// A Constructor discovers, from timing measurements alone, the partition
// of one cache set's lines into per-bank eviction sets. Each Constructor
// allocates and then owns exactly one arena; Construct can run once.
type Constructor struct {
	spec          cachespec.Spec
	proberFactory func(*arena.Arena) Prober
	rng           *rand.Rand
	quiet         bool

	family *Family
}

// Construct builds one eviction-set family for the given set index. On
// success the returned family owns the freshly allocated arena. Any error
// means the run cannot be trusted and should be aborted.
func (c *Constructor) Construct(setIndex uint64) (*Family, error) {
	if c.family != nil {
		return nil, ErrArenaAllocated
	}

	if setIndex >= c.spec.SetsPerBank {
		return nil, fmt.Errorf("%w: index %d, %d sets per bank",
			ErrSetIndexRange, setIndex, c.spec.SetsPerBank)
	}

	a, err := arena.New(c.spec)
	if err != nil {
		return nil, err
	}

	family, err := c.construct(a, c.proberFactory(a), setIndex)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	c.family = family
	return family, nil
}

func (c *Constructor) construct(
	a *arena.Arena,
	p Prober,
	setIndex uint64,
) (*Family, error) {
	spec := c.spec

	// Phase 1: candidate discovery. The arena sizing rule (at least twice
	// the LLC) already guarantees this bound for every set index; the
	// check restates it where the count is about to be relied on.
	candidates := a.CandidatesFor(setIndex)
	if uint64(len(candidates)) < 2*spec.ConflictSetSize() {
		return nil, fmt.Errorf("%w: %d candidates for set %d, need %d",
			ErrTooFewCandidates, len(candidates), setIndex,
			2*spec.ConflictSetSize())
	}

	a.Shuffle(candidates, c.rng)
	candHead := candidates[0]

	if got := a.RingLen(candHead); got != uint64(len(candidates)) {
		panic(fmt.Sprintf("evict: candidate ring length %d, want %d",
			got, len(candidates)))
	}

	c.logf("set %d: %d candidates", setIndex, len(candidates))

	// Phase 2: calibration. The full candidate list is far larger than
	// the LLC slice for its set index, so traversing it must average to
	// the DRAM band; anything else means the timing source or the set
	// mapping is broken.
	avg := p.AvgAccessCycles(candHead, spec.CandidateGate())
	if !spec.CandidateBand.Contains(avg) {
		return nil, fmt.Errorf(
			"%w: candidate traversal averaged %.1f cycles, want [%.0f, %.0f]",
			ErrCalibration, avg, spec.CandidateBand.Lo, spec.CandidateBand.Hi)
	}

	c.logf("set %d: candidates average %.1f cycles (DRAM band ok)", setIndex, avg)

	// Phase 3: conflict-set growth. Seed with a way-group's worth of
	// nodes; one more line in any of their banks over-fills that bank.
	conflictHead := candHead
	candHead = a.SplitAfter(conflictHead, spec.WaysPerBank)

	candHead, err := c.grow(a, p, candHead, conflictHead)
	if err != nil {
		return nil, err
	}

	avg = p.AvgAccessCycles(conflictHead, spec.ConflictGate())
	if !spec.ConflictBand.Contains(avg) {
		return nil, fmt.Errorf(
			"%w: conflict set averaged %.1f cycles, want [%.0f, %.0f]",
			ErrCalibration, avg, spec.ConflictBand.Lo, spec.ConflictBand.Hi)
	}

	c.logf("set %d: conflict set complete, averages %.1f cycles (LLC band ok)",
		setIndex, avg)

	// Phase 4: bank separation.
	sets, err := c.separate(a, p, candHead, conflictHead)
	if err != nil {
		return nil, err
	}

	family := &Family{Arena: a, SetIndex: setIndex, Sets: sets}
	if err := family.Verify(p); err != nil {
		return nil, err
	}

	c.logf("set %d: %d eviction sets verified", setIndex, len(sets))

	return family, nil
}

// grow moves candidates into the conflict ring until it holds exactly one
// full way-group per bank. A candidate that survives the ring (probe
// hits) belongs to a bank whose group is not yet full and is moved in; a
// candidate the ring evicts (probe misses) is redundant for now and is
// left in the pool for the separation phase. The node candHead points at
// usually ends up in the conflict ring, so grow returns a node still in
// the pool as its new head.
func (c *Constructor) grow(
	a *arena.Arena,
	p Prober,
	candHead arena.NodeID,
	conflictHead arena.NodeID,
) (arena.NodeID, error) {
	spec := c.spec
	target := spec.ConflictSetSize()
	count := spec.WaysPerBank
	cand := candHead

	for i := 0; i < warmupProbes; i++ {
		if _, err := p.Probe(conflictHead, cand); err != nil {
			return 0, err
		}
	}

	remaining := a.RingLen(cand)
	sinceAdded := uint64(0)

	for count < target {
		if sinceAdded > remaining*uint64(spec.GrowthPassCap) {
			return 0, fmt.Errorf(
				"%w: no addition in %d probes with %d of %d nodes collected",
				ErrCandidatesExhausted, sinceAdded, count, target)
		}

		missed, err := p.Probe(conflictHead, cand)
		if err != nil {
			return 0, err
		}

		if missed {
			cand = a.Next(cand)
			sinceAdded++
			continue
		}

		next := a.Next(cand)
		if next == cand {
			return 0, fmt.Errorf("%w: growth consumed the whole pool",
				ErrCandidatesExhausted)
		}

		a.Unlink(cand)
		a.InsertBefore(cand, conflictHead)
		count++
		cand = next
		remaining--
		sinceAdded = 0
	}

	return cand, nil
}

// separate carves the conflict ring into per-bank eviction sets. Each
// round confirms a pool candidate that reliably misses against the full
// conflict ring, then removes conflict nodes one at a time: when removing
// a node flips the candidate's probe from miss to hit, that node shares
// the candidate's bank. After banks-1 rounds the leftover ring is the
// last bank's set by elimination.
func (c *Constructor) separate(
	a *arena.Arena,
	p Prober,
	candHead arena.NodeID,
	conflictHead arena.NodeID,
) ([]Set, error) {
	spec := c.spec
	sets := make([]Set, 0, spec.Banks)
	cand := candHead

	for uint64(len(sets)) < spec.Banks-1 {
		confirmed, err := c.confirmCandidate(a, p, conflictHead, cand)
		if err != nil {
			return nil, err
		}
		cand = confirmed

		order, err := c.collectSameBank(a, p, conflictHead, cand)
		if err != nil {
			return nil, err
		}

		// Move the collected nodes out into their own ring.
		head := order[0]
		if head == conflictHead {
			conflictHead = a.Next(conflictHead)
		}
		a.Unlink(head)
		a.SelfLink(head)

		for _, id := range order[1:] {
			if id == conflictHead {
				conflictHead = a.Next(conflictHead)
			}
			a.Unlink(id)
			a.InsertBefore(id, head)
		}

		sets = append(sets, Set{Head: head})
		c.logf("eviction set %d of %d found", len(sets), spec.Banks)

		// The confirmed candidate has served its purpose; retire it.
		next := a.Next(cand)
		if next == cand {
			return nil, fmt.Errorf("%w: separation consumed the whole pool",
				ErrCandidatesExhausted)
		}
		a.Unlink(cand)
		cand = next
	}

	sets = append(sets, Set{Head: conflictHead})
	c.logf("remaining conflict nodes form eviction set %d of %d",
		len(sets), spec.Banks)

	return sets, nil
}

// confirmCandidate finds a pool candidate that misses against the full
// conflict ring across many repeated probes. A single miss reading can be
// noise; only a candidate that never hits during the confirmation run is
// trusted. Candidates that hit are dropped from the pool outright — a hit
// may itself be noise, but group membership rather than individual
// identity is what the final partition guarantees, so the bias is
// accepted and documented rather than corrected.
func (c *Constructor) confirmCandidate(
	a *arena.Arena,
	p Prober,
	conflictHead arena.NodeID,
	cand arena.NodeID,
) (arena.NodeID, error) {
	discard := func() (arena.NodeID, error) {
		next := a.Next(cand)
		if next == cand {
			return 0, fmt.Errorf("%w: discarded the last candidate",
				ErrCandidatesExhausted)
		}
		a.Unlink(cand)
		return next, nil
	}

	for {
		missed, err := p.Probe(conflictHead, cand)
		if err != nil {
			return 0, err
		}

		for !missed {
			cand, err = discard()
			if err != nil {
				return 0, err
			}

			missed, err = p.Probe(conflictHead, cand)
			if err != nil {
				return 0, err
			}
		}

		confirmed := true
		for i := 0; i < c.spec.SeparationConfirms; i++ {
			missed, err = p.Probe(conflictHead, cand)
			if err != nil {
				return 0, err
			}

			if !missed {
				cand, err = discard()
				if err != nil {
					return 0, err
				}
				confirmed = false
				break
			}
		}

		if confirmed {
			return cand, nil
		}
	}
}

// collectSameBank runs the leave-one-out sweep over the conflict ring for
// one confirmed candidate.
func (c *Constructor) collectSameBank(
	a *arena.Arena,
	p Prober,
	conflictHead arena.NodeID,
	cand arena.NodeID,
) ([]arena.NodeID, error) {
	spec := c.spec
	members := make(map[arena.NodeID]bool, spec.WaysPerBank)
	order := make([]arena.NodeID, 0, spec.WaysPerBank)

	budget := a.RingLen(conflictHead) * uint64(spec.GrowthPassCap)
	probes := uint64(0)

	test := conflictHead
	for uint64(len(order)) < spec.WaysPerBank {
		if probes > budget {
			return nil, fmt.Errorf(
				"%w: %d members after %d probes, want %d",
				ErrSeparationStalled, len(order), probes, spec.WaysPerBank)
		}

		if members[test] {
			test = a.Next(test)
			continue
		}

		// Temporarily pull the test node out. The ring is probed from the
		// node after it, which is guaranteed to still be a member.
		after := a.Next(test)
		a.Unlink(test)

		missed, err := p.Probe(after, cand)

		a.Relink(test)

		if err != nil {
			return nil, err
		}

		probes++
		if !missed {
			members[test] = true
			order = append(order, test)
		}

		test = a.Next(test)
	}

	return order, nil
}

func (c *Constructor) logf(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "evict: "+format+"\n", args...)
}
