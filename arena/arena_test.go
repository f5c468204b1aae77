package arena_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/llcprobe/arena"
	"github.com/sarchlab/llcprobe/cachespec"
)

func testSpec() cachespec.Spec {
	s := cachespec.XeonE5V4()
	s.Banks = 4
	s.WaysPerBank = 4
	s.SetsPerBank = 8
	s.ArenaBytes = 2 * s.LLCBytes()
	return s
}

var _ = Describe("Arena", func() {
	var (
		a    *arena.Arena
		spec cachespec.Spec
	)

	BeforeEach(func() {
		spec = testSpec()

		var err error
		a, err = arena.New(spec)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(a.Close()).To(Succeed())
	})

	It("should hold one node per cache line", func() {
		Expect(a.Entries()).To(Equal(spec.ArenaEntries()))
	})

	It("should give every node a line-aligned address", func() {
		for id := arena.NodeID(0); id < arena.NodeID(a.Entries()); id++ {
			Expect(uint64(a.Address(id)) % spec.LineSize).To(BeZero())
		}
	})

	It("should reject a spec whose line size does not fit a node", func() {
		bad := testSpec()
		bad.LineSize = 128
		bad.ArenaBytes = 2 * bad.LLCBytes()

		_, err := arena.New(bad)
		Expect(err).To(MatchError(arena.ErrNodeSize))
	})

	Describe("candidate discovery", func() {
		It("should find only nodes of the requested set index", func() {
			mask := spec.SetIndexMask()
			want := uint64(3) << spec.LineOffsetBits()

			ids := a.CandidatesFor(3)
			for _, id := range ids {
				Expect(uint64(a.Address(id)) & mask).To(Equal(want))
			}
		})

		It("should split the arena evenly across set indices", func() {
			total := uint64(0)
			for s := uint64(0); s < spec.SetsPerBank; s++ {
				ids := a.CandidatesFor(s)
				Expect(uint64(len(ids))).
					To(Equal(spec.ArenaEntries() / spec.SetsPerBank))
				total += uint64(len(ids))
			}

			Expect(total).To(Equal(a.Entries()))
		})
	})

	Describe("ring surgery", func() {
		var ids []arena.NodeID

		BeforeEach(func() {
			ids = a.CandidatesFor(0)[:8]
			a.Link(ids)
		})

		It("should link nodes into one ring in slice order", func() {
			Expect(a.RingLen(ids[0])).To(Equal(uint64(8)))
			Expect(a.Ring(ids[0])).To(Equal(ids))
		})

		It("should walk the ring both ways", func() {
			Expect(a.Next(ids[2])).To(Equal(ids[3]))
			Expect(a.Prev(ids[3])).To(Equal(ids[2]))
			Expect(a.Prev(ids[0])).To(Equal(ids[7]))
		})

		It("should shuffle into a permutation of the same nodes", func() {
			rng := rand.New(rand.NewSource(42))
			a.Shuffle(ids, rng)

			ring := a.Ring(ids[0])
			Expect(ring).To(HaveLen(8))
			Expect(ring).To(ConsistOf(ids))
		})

		It("should stay a permutation at every candidate-set size", func() {
			all := a.CandidatesFor(0)
			for n := int(spec.WaysPerBank) + 1; n <= len(all); n++ {
				sub := all[:n]
				a.Link(sub)
				a.Shuffle(sub, rand.New(rand.NewSource(int64(n))))

				ring := a.Ring(sub[0])
				Expect(ring).To(HaveLen(n))
				Expect(ring).To(ConsistOf(sub))
			}
		})

		It("should produce the same permutation for the same seed", func() {
			a.Shuffle(ids, rand.New(rand.NewSource(7)))
			first := a.Ring(ids[0])

			a.Shuffle(ids, rand.New(rand.NewSource(7)))
			Expect(a.Ring(ids[0])).To(Equal(first))
		})

		It("should unlink a node and relink it in place", func() {
			a.Unlink(ids[4])
			Expect(a.RingLen(ids[0])).To(Equal(uint64(7)))
			Expect(a.Next(ids[3])).To(Equal(ids[5]))

			a.Relink(ids[4])
			Expect(a.RingLen(ids[0])).To(Equal(uint64(8)))
			Expect(a.Ring(ids[0])).To(Equal(ids))
		})

		It("should make a singleton ring with SelfLink", func() {
			a.Unlink(ids[1])
			a.SelfLink(ids[1])

			Expect(a.RingLen(ids[1])).To(Equal(uint64(1)))
			Expect(a.Next(ids[1])).To(Equal(ids[1]))
		})

		It("should insert a node at the back of a ring", func() {
			a.Unlink(ids[6])
			a.InsertBefore(ids[6], ids[0])

			ring := a.Ring(ids[0])
			Expect(ring[len(ring)-1]).To(Equal(ids[6]))
			Expect(a.RingLen(ids[0])).To(Equal(uint64(8)))
		})

		It("should split a ring into two rings", func() {
			rest := a.SplitAfter(ids[0], 3)

			Expect(rest).To(Equal(ids[3]))
			Expect(a.Ring(ids[0])).To(Equal(ids[:3]))
			Expect(a.Ring(rest)).To(Equal(ids[3:]))
		})
	})

	Describe("traversal", func() {
		It("should land where the access count says", func() {
			ids := a.CandidatesFor(1)[:5]
			a.Link(ids)

			Expect(a.Chase(ids[0], 1)).To(Equal(ids[1]))
			Expect(a.Chase(ids[0], 5)).To(Equal(ids[0]))
			Expect(a.Chase(ids[0], 7)).To(Equal(ids[2]))
		})
	})
})
