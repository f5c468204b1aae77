package cachespec

import (
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// An Experiment holds the run parameters of one contention measurement
// sweep: which set indices the two eviction-set families target, how many
// victim threads to sweep over, and the iteration budgets of every phase.
type Experiment struct {
	// AttackerSetIndex and VictimSetIndex are arbitrary but must differ so
	// the two families never share a cache set.
	AttackerSetIndex uint64
	VictimSetIndex   uint64

	// MaxVictimThreads is the upper bound of the sweep; the harness runs
	// once for every victim count from 0 up to and including this value.
	MaxVictimThreads int

	// Attacker budgets. Each timed iteration performs AccessesPerSample
	// pointer chases between two serialized timestamp reads.
	WarmupAccesses    uint64
	TimedIterations   uint64
	AccessesPerSample uint64

	// VictimAccesses is the length of one victim thread's flood of a bank.
	VictimAccesses uint64

	// ProfileAccesses is the traversal length used to find the bank
	// closest to the attacker core.
	ProfileAccesses uint64

	// WarmupDelay is how long the main thread waits after starting the
	// attacker before any victim activity, guaranteeing the attacker is
	// past its warmup and into timed sampling. SettleDelay is the pause
	// before each bank's flood window.
	WarmupDelay time.Duration
	SettleDelay time.Duration

	// CoreIDs lists the logical cores the run may pin threads to, all on
	// one socket. Entry 0 is the attacker core; victims use the rest.
	CoreIDs []int

	// ResultsDir receives the per-sweep output files.
	ResultsDir string

	// ShuffleSeed seeds the candidate-list permutation. Runs with the
	// same seed on the same mapping visit candidates in the same order.
	ShuffleSeed int64

	// Monitor settings. A zero port picks a random free port.
	MonitorOn   bool
	MonitorPort int
}

// DefaultExperiment returns the reference sweep configuration used against
// the Xeon E5-2650 v4: cores 0-11 and their sibling range 24-35 are the
// first socket on that machine.
func DefaultExperiment() Experiment {
	cores := make([]int, 0, 24)
	for c := 0; c < 12; c++ {
		cores = append(cores, c)
	}
	for c := 24; c < 36; c++ {
		cores = append(cores, c)
	}

	return Experiment{
		AttackerSetIndex: 27,
		VictimSetIndex:   1898,

		MaxVictimThreads: 10,

		WarmupAccesses:    50000000,
		TimedIterations:   5000000,
		AccessesPerSample: 100,

		VictimAccesses:  5000000,
		ProfileAccesses: 10000000,

		WarmupDelay: time.Second,
		SettleDelay: 300 * time.Millisecond,

		CoreIDs:    cores,
		ResultsDir: "results",
	}
}

// Experiment validation errors.
var (
	ErrSetIndexOutOfRange = errors.New("cachespec: set index out of range")
	ErrSameSetIndex       = errors.New("cachespec: attacker and victim set indices must differ")
	ErrNotEnoughCores     = errors.New("cachespec: not enough cores for the victim sweep")
)

// Validate checks the experiment against the cache spec and, when core
// information is available, against the machine it runs on.
func (e Experiment) Validate(s Spec) error {
	if e.AttackerSetIndex >= s.SetsPerBank {
		return fmt.Errorf("%w: attacker index %d, %d sets per bank",
			ErrSetIndexOutOfRange, e.AttackerSetIndex, s.SetsPerBank)
	}

	if e.VictimSetIndex >= s.SetsPerBank {
		return fmt.Errorf("%w: victim index %d, %d sets per bank",
			ErrSetIndexOutOfRange, e.VictimSetIndex, s.SetsPerBank)
	}

	if e.AttackerSetIndex == e.VictimSetIndex {
		return ErrSameSetIndex
	}

	if len(e.CoreIDs) < e.MaxVictimThreads+1 {
		return fmt.Errorf("%w: %d cores for %d victims plus the attacker",
			ErrNotEnoughCores, len(e.CoreIDs), e.MaxVictimThreads)
	}

	if e.TimedIterations < 2 {
		return fmt.Errorf("%w: need at least 2 timed iterations",
			ErrBadGeometry)
	}

	if n, err := cpu.Counts(true); err == nil {
		for _, c := range e.CoreIDs {
			if c < 0 || c >= n {
				return fmt.Errorf("%w: core %d not present (%d logical cores)",
					ErrNotEnoughCores, c, n)
			}
		}
	}

	return nil
}
