package harness_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/llcprobe/arena"
	"github.com/sarchlab/llcprobe/cachespec"
	"github.com/sarchlab/llcprobe/evict"
	"github.com/sarchlab/llcprobe/harness"
	"github.com/sarchlab/llcprobe/simllc"
)

func simSpec() cachespec.Spec {
	s := cachespec.XeonE5V4()
	s.Banks = 4
	s.WaysPerBank = 4
	s.SetsPerBank = 8
	s.ArenaBytes = 2 * s.LLCBytes()

	s.SeparationConfirms = 5
	s.CandidateGateAccesses = 2000
	s.ConflictGateAccesses = 2000
	s.VerifyGateAccesses = 400
	s.ProbeWarmAccesses = 64

	return s
}

// simExperiment keeps the virtual run short while leaving the attacker a
// large sampling headroom over the victim floods.
func simExperiment() cachespec.Experiment {
	return cachespec.Experiment{
		AttackerSetIndex: 3,
		VictimSetIndex:   5,

		MaxVictimThreads: 2,

		WarmupAccesses:    2000,
		TimedIterations:   100000,
		AccessesPerSample: 10,

		VictimAccesses:  500,
		ProfileAccesses: 1000,

		WarmupDelay: 5 * time.Millisecond,
		SettleDelay: time.Millisecond,

		CoreIDs: []int{0, 1, 2},
	}
}

type collectingSink struct {
	results []harness.Result
}

func (s *collectingSink) Record(r harness.Result) error {
	s.results = append(s.results, r)
	return nil
}

func buildFamily(
	spec cachespec.Spec,
	model *simllc.Model,
	setIndex uint64,
) *evict.Family {
	c := evict.MakeBuilder().
		WithSpec(spec).
		WithProberFactory(func(a *arena.Arena) evict.Prober {
			return simllc.NewProber(model, a)
		}).
		WithQuiet().
		Build()

	family, err := c.Construct(setIndex)
	Expect(err).ToNot(HaveOccurred())

	return family
}

var _ = Describe("Harness", func() {
	Context("builder", func() {
		It("should panic without families", func() {
			Expect(func() {
				harness.MakeBuilder().Build()
			}).To(Panic())
		})
	})

	Context("on a simulated platform", func() {
		var (
			exp      cachespec.Experiment
			attacker *evict.Family
			victim   *evict.Family
			sink     *collectingSink
			h        *harness.Harness
		)

		BeforeEach(func() {
			spec := simSpec()
			exp = simExperiment()

			model := simllc.NewModel(simllc.DefaultConfig(spec))
			attacker = buildFamily(spec, model, exp.AttackerSetIndex)
			victim = buildFamily(spec, model, exp.VictimSetIndex)

			sink = &collectingSink{}

			h = harness.MakeBuilder().
				WithExperiment(exp).
				WithAttackerFamily(attacker).
				WithVictimFamily(victim).
				WithPlatform(simllc.NewPlatform(model)).
				WithResultSink(sink).
				Build()
		})

		AfterEach(func() {
			attacker.Close()
			victim.Close()
		})

		It("should run one sweep step per victim count", func() {
			Expect(h.Run()).To(Succeed())

			Expect(sink.results).To(HaveLen(exp.MaxVictimThreads + 1))
			for k, r := range sink.results {
				Expect(r.VictimThreads).To(Equal(k))
			}
		})

		It("should record a full latency series for every step", func() {
			Expect(h.Run()).To(Succeed())

			for _, r := range sink.results {
				Expect(r.Timestamps).To(HaveLen(int(exp.TimedIterations)))
				Expect(r.Deltas).To(HaveLen(int(exp.TimedIterations) - 1))

				for i := 1; i < len(r.Timestamps); i++ {
					Expect(r.Timestamps[i]).
						To(BeNumerically(">", r.Timestamps[i-1]))
				}
			}
		})

		It("should not partition the victim-free step", func() {
			Expect(h.Run()).To(Succeed())

			base := sink.results[0]
			Expect(base.Buckets).To(BeNil())
			Expect(base.Windows).To(BeEmpty())
		})

		It("should partition contended steps by victim bank", func() {
			Expect(h.Run()).To(Succeed())

			banks := len(victim.Sets)
			for _, r := range sink.results[1:] {
				Expect(r.Windows).To(HaveLen(banks))
				Expect(r.Buckets).To(HaveLen(banks))

				for b := 1; b < banks; b++ {
					Expect(r.Windows[b].Start).
						To(BeNumerically(">=", r.Windows[b-1].End))
				}

				bucketed := 0
				for _, bucket := range r.Buckets {
					bucketed += len(bucket)
				}
				Expect(bucketed).To(BeNumerically("<=", len(r.Deltas)))
			}
		})

		It("should close every flood window inside the sample series", func() {
			Expect(h.Run()).To(Succeed())

			for _, r := range sink.results[1:] {
				first := r.Timestamps[0]
				last := r.Timestamps[len(r.Timestamps)-1]

				for _, w := range r.Windows {
					Expect(w.Start).To(BeNumerically(">=", first))
					Expect(w.End).To(BeNumerically("<=", last))
				}
			}
		})

		It("should pick the same closest bank for every step", func() {
			Expect(h.Run()).To(Succeed())

			closest := h.ClosestBank()
			Expect(closest).To(SatisfyAll(
				BeNumerically(">=", 0),
				BeNumerically("<", len(attacker.Sets))))

			for _, r := range sink.results {
				Expect(r.ClosestBank).To(Equal(closest))
			}
		})
	})
})
