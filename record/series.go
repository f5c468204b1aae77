// Package record persists measurement results, both as the plain-text
// series files the analysis scripts consume and as an SQLite database for
// ad-hoc queries.
package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sarchlab/llcprobe/harness"
)

// A SeriesWriter writes each sweep step's latency series to text files in
// a results directory. Two files per step: one holding the full series
// and one holding the series partitioned by victim bank. Each series is a
// count line followed by that many latency lines, and the per-bank file
// concatenates one such block per bank. With zero victims there is no
// partition, so the per-bank file holds the full series instead.
type SeriesWriter struct {
	dir string
}

// NewSeriesWriter creates a writer rooted at dir, creating it if needed.
func NewSeriesWriter(dir string) (*SeriesWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: cannot create results dir: %w", err)
	}

	return &SeriesWriter{dir: dir}, nil
}

// Record implements harness.ResultSink.
func (w *SeriesWriter) Record(r harness.Result) error {
	constant := filepath.Join(w.dir,
		fmt.Sprintf("constant_access_times_%d_threads.txt", r.VictimThreads))
	perBank := filepath.Join(w.dir,
		fmt.Sprintf("per_bank_access_times_%d_threads.txt", r.VictimThreads))

	if err := writeBlocks(constant, [][]uint64{r.Deltas}); err != nil {
		return err
	}

	blocks := r.Buckets
	if r.VictimThreads == 0 {
		blocks = [][]uint64{r.Deltas}
	}

	return writeBlocks(perBank, blocks)
}

func writeBlocks(path string, blocks [][]uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	buf := bufio.NewWriter(f)
	for _, block := range blocks {
		fmt.Fprintln(buf, len(block))
		for _, v := range block {
			buf.WriteString(strconv.FormatUint(v, 10))
			buf.WriteByte('\n')
		}
	}

	if err := buf.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("record: %w", err)
	}

	return f.Close()
}
