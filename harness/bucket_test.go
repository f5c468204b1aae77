package harness_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/llcprobe/harness"
)

var _ = Describe("Deltas", func() {
	It("should difference consecutive timestamps", func() {
		Expect(harness.Deltas([]uint64{10, 25, 27, 100})).
			To(Equal([]uint64{15, 2, 73}))
	})

	It("should return nothing for fewer than two samples", func() {
		Expect(harness.Deltas(nil)).To(BeNil())
		Expect(harness.Deltas([]uint64{42})).To(BeNil())
	})
})

var _ = Describe("Bucketize", func() {
	ts := func(n int, step uint64) []uint64 {
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(i) * step
		}
		return out
	}

	It("should assign samples whose timestamps fall inside the window",
		func() {
			samples := ts(11, 10) // 0, 10, ..., 100

			buckets, err := harness.Bucketize(samples, []harness.Window{
				{Bank: 0, Start: 25, End: 55},
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(buckets).To(HaveLen(1))
			Expect(buckets[0]).To(Equal([]uint64{10, 10, 10}))
		})

	It("should treat window bounds as inclusive", func() {
		samples := ts(11, 10)

		buckets, err := harness.Bucketize(samples, []harness.Window{
			{Bank: 0, Start: 20, End: 50},
		})

		Expect(err).ToNot(HaveOccurred())
		Expect(buckets[0]).To(HaveLen(4))
	})

	It("should split samples across sequential windows", func() {
		samples := ts(21, 10) // 0 .. 200

		buckets, err := harness.Bucketize(samples, []harness.Window{
			{Bank: 0, Start: 5, End: 45},
			{Bank: 1, Start: 95, End: 125},
			{Bank: 2, Start: 150, End: 195},
		})

		Expect(err).ToNot(HaveOccurred())
		Expect(buckets[0]).To(HaveLen(4))
		Expect(buckets[1]).To(HaveLen(3))
		Expect(buckets[2]).To(HaveLen(5))
	})

	It("should leave gap samples in no bucket", func() {
		samples := ts(21, 10)

		buckets, err := harness.Bucketize(samples, []harness.Window{
			{Bank: 0, Start: 5, End: 45},
			{Bank: 1, Start: 150, End: 195},
		})

		Expect(err).ToNot(HaveOccurred())

		total := len(buckets[0]) + len(buckets[1])
		Expect(total).To(BeNumerically("<", len(samples)-1))
	})

	It("should give an empty bucket to a window inside a sample gap",
		func() {
			samples := []uint64{0, 10, 500, 510}

			buckets, err := harness.Bucketize(samples, []harness.Window{
				{Bank: 0, Start: 100, End: 200},
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(buckets[0]).To(BeEmpty())
		})

	It("should fail when no sample reaches a window", func() {
		samples := ts(5, 10) // 0 .. 40

		_, err := harness.Bucketize(samples, []harness.Window{
			{Bank: 3, Start: 100, End: 200},
		})

		Expect(err).To(MatchError(harness.ErrSamplesExhausted))
	})

	It("should fail when samples end inside a window", func() {
		samples := ts(6, 10) // 0 .. 50

		_, err := harness.Bucketize(samples, []harness.Window{
			{Bank: 1, Start: 35, End: 80},
		})

		Expect(err).To(MatchError(harness.ErrSamplesExhausted))
	})
})
