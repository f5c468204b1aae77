package record

import (
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/llcprobe/harness"
)

// A SweepStep is one row of the sweep_steps table: summary statistics for
// one victim-thread count's full latency series.
type SweepStep struct {
	RunID         string
	VictimThreads int
	ClosestBank   int
	Samples       int
	MeanCycles    float64
	MinCycles     uint64
	MaxCycles     uint64
}

// A BankSummary is one row of the bank_summaries table: summary
// statistics for the attacker samples that fell inside one bank's victim
// flood window.
type BankSummary struct {
	RunID         string
	VictimThreads int
	Bank          int
	Samples       int
	MeanCycles    float64
	MinCycles     uint64
	MaxCycles     uint64
	WindowStart   uint64
	WindowEnd     uint64
}

// A DBSink summarizes each sweep step into an SQLite database through a
// DataRecorder. The raw series goes to text files through SeriesWriter;
// the database holds the condensed view for queries across runs.
type DBSink struct {
	recorder DataRecorder
	runID    string
}

// NewDBSink creates a sink on the given recorder and registers its
// tables. Each sink gets a fresh run id, so several runs can share one
// database.
func NewDBSink(recorder DataRecorder) *DBSink {
	s := &DBSink{
		recorder: recorder,
		runID:    xid.New().String(),
	}

	s.recorder.CreateTable("runs", runRow{})
	s.recorder.CreateTable("sweep_steps", SweepStep{})
	s.recorder.CreateTable("bank_summaries", BankSummary{})

	s.recorder.InsertData("runs", runRow{
		RunID:     s.runID,
		StartedAt: time.Now().Unix(),
	})

	return s
}

type runRow struct {
	RunID     string
	StartedAt int64
}

// RunID returns this sink's run identifier.
func (s *DBSink) RunID() string { return s.runID }

// Record implements harness.ResultSink.
func (s *DBSink) Record(r harness.Result) error {
	s.recorder.InsertData("sweep_steps", SweepStep{
		RunID:         s.runID,
		VictimThreads: r.VictimThreads,
		ClosestBank:   r.ClosestBank,
		Samples:       len(r.Deltas),
		MeanCycles:    mean(r.Deltas),
		MinCycles:     minOf(r.Deltas),
		MaxCycles:     maxOf(r.Deltas),
	})

	for bank, bucket := range r.Buckets {
		s.recorder.InsertData("bank_summaries", BankSummary{
			RunID:         s.runID,
			VictimThreads: r.VictimThreads,
			Bank:          bank,
			Samples:       len(bucket),
			MeanCycles:    mean(bucket),
			MinCycles:     minOf(bucket),
			MaxCycles:     maxOf(bucket),
			WindowStart:   r.Windows[bank].Start,
			WindowEnd:     r.Windows[bank].End,
		})
	}

	s.recorder.Flush()

	return nil
}

func mean(vs []uint64) float64 {
	if len(vs) == 0 {
		return 0
	}

	var sum float64
	for _, v := range vs {
		sum += float64(v)
	}

	return sum / float64(len(vs))
}

func minOf(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}

	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}

	return m
}

func maxOf(vs []uint64) uint64 {
	var m uint64
	for _, v := range vs {
		if v > m {
			m = v
		}
	}

	return m
}
