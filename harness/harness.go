package harness

import (
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/llcprobe/cachespec"
	"github.com/sarchlab/llcprobe/evict"
)

// A Result is the outcome of one sweep step: the attacker's latency
// series for one victim-thread count, plus its per-bank partition when
// victims ran.
type Result struct {
	VictimThreads int
	ClosestBank   int

	// Timestamps is the raw sample series; Deltas its consecutive
	// differences. Buckets is nil when VictimThreads is zero.
	Timestamps []uint64
	Deltas     []uint64
	Buckets    [][]uint64
	Windows    []Window
}

// A ResultSink consumes one Result per sweep step.
type ResultSink interface {
	Record(r Result) error
}

// A ProgressSink observes the harness's phases; the monitor implements
// it. All methods may be called from the main harness goroutine only.
type ProgressSink interface {
	Phase(name string)
	SweepStarted(victimThreads int)
	BankFlooded(bank int)
}

type noProgress struct{}

func (noProgress) Phase(string)     {}
func (noProgress) SweepStarted(int) {}
func (noProgress) BankFlooded(int)  {}

// A Builder builds a Harness.
type Builder struct {
	experiment cachespec.Experiment
	attacker   *evict.Family
	victim     *evict.Family
	platform   Platform
	sinks      []ResultSink
	progress   ProgressSink
}

// MakeBuilder creates a builder with the default experiment on the
// hardware platform.
func MakeBuilder() Builder {
	return Builder{
		experiment: cachespec.DefaultExperiment(),
		platform:   NewHWPlatform(),
		progress:   noProgress{},
	}
}

// WithExperiment sets the sweep parameters.
func (b Builder) WithExperiment(e cachespec.Experiment) Builder {
	b.experiment = e
	return b
}

// WithAttackerFamily sets the eviction-set family the attacker samples.
func (b Builder) WithAttackerFamily(f *evict.Family) Builder {
	b.attacker = f
	return b
}

// WithVictimFamily sets the eviction-set family victim threads flood.
func (b Builder) WithVictimFamily(f *evict.Family) Builder {
	b.victim = f
	return b
}

// WithPlatform sets the platform the harness runs on.
func (b Builder) WithPlatform(p Platform) Builder {
	b.platform = p
	return b
}

// WithResultSink adds a sink; sinks run in registration order.
func (b Builder) WithResultSink(s ResultSink) Builder {
	b.sinks = append(b.sinks, s)
	return b
}

// WithProgressSink sets the progress observer.
func (b Builder) WithProgressSink(s ProgressSink) Builder {
	b.progress = s
	return b
}

// Build builds the harness.
func (b Builder) Build() *Harness {
	if b.attacker == nil || b.victim == nil {
		panic("harness: attacker or victim family is not given")
	}

	if b.attacker.SetIndex == b.victim.SetIndex {
		panic("harness: attacker and victim families share a set index")
	}

	if len(b.experiment.CoreIDs) < b.experiment.MaxVictimThreads+1 {
		panic("harness: not enough cores for the victim sweep")
	}

	return &Harness{
		experiment: b.experiment,
		attacker:   b.attacker,
		victim:     b.victim,
		platform:   b.platform,
		sinks:      b.sinks,
		progress:   b.progress,
	}
}

// A Harness runs the contention measurement protocol: one attacker thread
// continuously samples its closest bank's eviction set while victim
// threads flood the victim family's banks one at a time, and the
// attacker's latency series is afterwards partitioned by flood window.
type Harness struct {
	experiment cachespec.Experiment
	attacker   *evict.Family
	victim     *evict.Family
	platform   Platform
	sinks      []ResultSink
	progress   ProgressSink

	closestBank int
}

// ClosestBank returns the attacker-side bank chosen by profiling. Only
// valid after Run.
func (h *Harness) ClosestBank() int { return h.closestBank }

// Run executes the full sweep: profile once, then one step per victim
// count from zero through the configured maximum. Sinks receive each
// step's result as soon as it is complete.
func (h *Harness) Run() error {
	h.progress.Phase("profiling")

	closest, err := h.profileClosestBank()
	if err != nil {
		return err
	}
	h.closestBank = closest

	for k := 0; k <= h.experiment.MaxVictimThreads; k++ {
		h.progress.Phase("sweep")
		h.progress.SweepStarted(k)

		result, err := h.runStep(k)
		if err != nil {
			return fmt.Errorf("harness: sweep with %d victims: %w", k, err)
		}

		for _, sink := range h.sinks {
			if err := sink.Record(result); err != nil {
				return err
			}
		}

		fmt.Fprintf(os.Stderr, "harness: finished sweep with %d victim threads\n", k)
	}

	h.progress.Phase("done")
	return nil
}

// profileClosestBank measures each attacker eviction set's traversal time
// from the attacker core and picks the fastest. Contention against the
// nearest bank shows the largest latency swing, so the attacker samples
// that one for the whole run. Runs on a transient pinned goroutine so the
// affinity does not stick to the caller.
func (h *Harness) profileClosestBank() (int, error) {
	type outcome struct {
		bank int
		err  error
	}

	ch := make(chan outcome, 1)

	go func() {
		if err := h.platform.Pin(h.experiment.CoreIDs[0]); err != nil {
			ch <- outcome{err: err}
			return
		}

		best := -1
		bestElapsed := ^uint64(0)

		for bank, set := range h.attacker.Sets {
			start := h.platform.Timestamp()
			h.platform.Chase(h.attacker.Arena, set.Head, h.experiment.ProfileAccesses)
			elapsed := h.platform.Timestamp() - start

			if elapsed < bestElapsed {
				bestElapsed = elapsed
				best = bank
			}
		}

		fmt.Fprintf(os.Stderr,
			"harness: closest attacker bank %d, %.1f cycles per access\n",
			best, float64(bestElapsed)/float64(h.experiment.ProfileAccesses))

		ch <- outcome{bank: best}
	}()

	o := <-ch
	return o.bank, o.err
}

// runStep performs one sweep step with k victim threads.
func (h *Harness) runStep(k int) (Result, error) {
	exp := h.experiment
	banks := len(h.victim.Sets)

	// The sample buffer is owned by this call and written only by the
	// attacker goroutine until its done signal.
	samples := make([]uint64, exp.TimedIterations)

	attackerDone := make(chan error, 1)
	go h.attack(samples, attackerDone)

	// The attacker must be past warmup and sampling before any victim
	// traffic starts, or the windows would cover warmup accesses.
	h.platform.Sleep(exp.WarmupDelay)

	var windows []Window
	if k > 0 {
		for bank := 0; bank < banks; bank++ {
			h.platform.Sleep(exp.SettleDelay)

			window, err := h.floodBank(bank, k)
			if err != nil {
				return Result{}, err
			}

			windows = append(windows, window)
			h.progress.BankFlooded(bank)
		}
	}

	if err := <-attackerDone; err != nil {
		return Result{}, err
	}

	result := Result{
		VictimThreads: k,
		ClosestBank:   h.closestBank,
		Timestamps:    samples,
		Deltas:        Deltas(samples),
		Windows:       windows,
	}

	if k > 0 {
		buckets, err := Bucketize(samples, windows)
		if err != nil {
			return Result{}, err
		}
		result.Buckets = buckets
	}

	return result, nil
}

// attack warms up untimed, then records one serialized timestamp per
// fixed block of accesses into the caller's buffer.
func (h *Harness) attack(samples []uint64, done chan<- error) {
	exp := h.experiment

	if err := h.platform.Pin(exp.CoreIDs[0]); err != nil {
		done <- err
		return
	}

	a := h.attacker.Arena
	head := h.attacker.Sets[h.closestBank].Head

	h.platform.Chase(a, head, exp.WarmupAccesses)

	for i := range samples {
		h.platform.Chase(a, head, exp.AccessesPerSample)
		samples[i] = h.platform.Timestamp()
	}

	done <- nil
}

// floodBank runs k victim threads over one victim eviction set and
// returns the flood's timestamp window. The window closes only after
// every victim has joined, so victim activity never leaks past it.
func (h *Harness) floodBank(bank, k int) (Window, error) {
	exp := h.experiment
	head := h.victim.Sets[bank].Head

	start := h.platform.Timestamp()

	var wg sync.WaitGroup
	errs := make(chan error, k)

	for v := 0; v < k; v++ {
		core := exp.CoreIDs[1+v]

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := h.platform.Pin(core); err != nil {
				errs <- err
				return
			}

			h.platform.Chase(h.victim.Arena, head, exp.VictimAccesses)
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return Window{}, err
		}
	}

	end := h.platform.Timestamp()

	return Window{Bank: bank, Start: start, End: end}, nil
}
