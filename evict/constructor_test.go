package evict_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/llcprobe/arena"
	"github.com/sarchlab/llcprobe/cachespec"
	"github.com/sarchlab/llcprobe/evict"
	"github.com/sarchlab/llcprobe/simllc"
)

// simSpec is a shrunken geometry that a cache model can ground-truth:
// 4 banks, 4 ways, 8 sets. The gate traversals are shortened so the model
// does not spend millions of simulated accesses per gate.
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

var _ = Describe("Constructor", func() {
	Context("against a simulated cache", func() {
		var (
			spec   cachespec.Spec
			model  *simllc.Model
			prober evict.Prober
			c      *evict.Constructor
		)

		BeforeEach(func() {
			spec = simSpec()

			factory := func(a *arena.Arena) evict.Prober {
				model = simllc.NewModel(simllc.DefaultConfig(spec))
				prober = simllc.NewProber(model, a)
				return prober
			}

			c = evict.MakeBuilder().
				WithSpec(spec).
				WithProberFactory(factory).
				WithQuiet().
				Build()
		})

		It("should recover the model's bank partition exactly", func() {
			family, err := c.Construct(5)
			Expect(err).ToNot(HaveOccurred())
			defer family.Close()

			Expect(family.Sets).To(HaveLen(int(spec.Banks)))

			banksSeen := map[uint64]bool{}
			for _, set := range family.Sets {
				members := set.Members(family.Arena)
				Expect(uint64(len(members))).To(Equal(spec.WaysPerBank))

				bank := model.BankOf(family.Arena.Address(members[0]))
				for _, m := range members {
					Expect(model.BankOf(family.Arena.Address(m))).To(Equal(bank))
				}

				Expect(banksSeen[bank]).To(BeFalse(),
					"two eviction sets landed in bank %d", bank)
				banksSeen[bank] = true
			}
		})

		It("should produce a partition that verifies again", func() {
			family, err := c.Construct(2)
			Expect(err).ToNot(HaveOccurred())
			defer family.Close()

			Expect(family.Verify(prober)).To(Succeed())
		})

		It("should construct under any candidate permutation", func() {
			for seed := int64(0); seed < 4; seed++ {
				seeded := evict.MakeBuilder().
					WithSpec(spec).
					WithProberFactory(func(a *arena.Arena) evict.Prober {
						m := simllc.NewModel(simllc.DefaultConfig(spec))
						return simllc.NewProber(m, a)
					}).
					WithShuffleSeed(seed).
					WithQuiet().
					Build()

				family, err := seeded.Construct(4)
				Expect(err).ToNot(HaveOccurred(), "shuffle seed %d", seed)

				for _, set := range family.Sets {
					members := set.Members(family.Arena)
					Expect(uint64(len(members))).To(Equal(spec.WaysPerBank))
				}

				family.Close()
			}
		})

		It("should classify lines consistently against the partition", func() {
			family, err := c.Construct(6)
			Expect(err).ToNot(HaveOccurred())
			defer family.Close()

			inFamily := map[arena.NodeID]bool{}
			for _, set := range family.Sets {
				for _, m := range set.Members(family.Arena) {
					inFamily[m] = true
				}
			}

			for _, set := range family.Sets {
				members := set.Members(family.Arena)
				setBank := model.BankOf(family.Arena.Address(members[0]))

				// A member probed against its own set is always resident.
				for _, m := range members {
					missed, err := prober.Probe(set.Head, m)
					Expect(err).ToNot(HaveOccurred())
					Expect(missed).To(BeFalse(),
						"member evicted by its own bank-%d set", setBank)
				}

				// An outside line misses exactly when it shares the bank.
				for _, out := range family.Arena.CandidatesFor(6) {
					if inFamily[out] {
						continue
					}

					missed, err := prober.Probe(set.Head, out)
					Expect(err).ToNot(HaveOccurred())

					sameBank := model.BankOf(family.Arena.Address(out)) == setBank
					Expect(missed).To(Equal(sameBank))
				}
			}
		})

		It("should refuse a second construction", func() {
			family, err := c.Construct(1)
			Expect(err).ToNot(HaveOccurred())
			defer family.Close()

			_, err = c.Construct(2)
			Expect(err).To(MatchError(evict.ErrArenaAllocated))
		})

		It("should reject a set index beyond the geometry", func() {
			_, err := c.Construct(spec.SetsPerBank)
			Expect(err).To(MatchError(evict.ErrSetIndexRange))
		})
	})

	Context("with a scripted prober", func() {
		var (
			ctrl   *gomock.Controller
			prober *MockProber
			c      *evict.Constructor
		)

		BeforeEach(func() {
			ctrl = gomock.NewController(GinkgoT())
			prober = NewMockProber(ctrl)

			c = evict.MakeBuilder().
				WithSpec(simSpec()).
				WithProberFactory(func(*arena.Arena) evict.Prober { return prober }).
				WithQuiet().
				Build()
		})

		It("should fail calibration when candidates do not miss to DRAM",
			func() {
				prober.EXPECT().
					AvgAccessCycles(gomock.Any(), gomock.Any()).
					Return(100.0)

				_, err := c.Construct(0)
				Expect(err).To(MatchError(evict.ErrCalibration))
			})

		It("should propagate a probe failure", func() {
			prober.EXPECT().
				AvgAccessCycles(gomock.Any(), gomock.Any()).
				Return(175.0)
			prober.EXPECT().
				Probe(gomock.Any(), gomock.Any()).
				Return(false, evict.ErrProbeNoisy)

			_, err := c.Construct(0)
			Expect(err).To(MatchError(evict.ErrProbeNoisy))
		})

		It("should give up when growth stops converging", func() {
			prober.EXPECT().
				AvgAccessCycles(gomock.Any(), gomock.Any()).
				Return(175.0)
			prober.EXPECT().
				Probe(gomock.Any(), gomock.Any()).
				Return(true, nil).
				AnyTimes()

			_, err := c.Construct(0)
			Expect(err).To(MatchError(evict.ErrCandidatesExhausted))
		})
	})
})
