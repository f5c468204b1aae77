package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sarchlab/llcprobe/cachespec"
	"github.com/sarchlab/llcprobe/evict"
	"github.com/sarchlab/llcprobe/harness"
	"github.com/sarchlab/llcprobe/monitoring"
	"github.com/sarchlab/llcprobe/record"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Construct both eviction-set families and run the full sweep.",
	RunE:  runMeasurement,

	SilenceUsage: true,
}

func init() {
	f := runCmd.Flags()
	f.String("env-file", "", "load configuration overrides from this .env file")
	f.String("results-dir", "", "directory for the per-sweep series files")
	f.String("db", "", "record run summaries into this SQLite database")
	f.Uint64("attacker-set", 0, "set index the attacker family targets")
	f.Uint64("victim-set", 0, "set index the victim family targets")
	f.Int("max-victims", 0, "upper bound of the victim-thread sweep")
	f.Int64("seed", 0, "candidate shuffle seed")
	f.Bool("monitor", false, "serve run state over HTTP")
	f.Int("monitor-port", 0, "monitor port, 0 picks a free one")
	f.Bool("open-browser", false, "open the monitor status page on start")
	f.Bool("quiet", false, "suppress construction progress output")

	rootCmd.AddCommand(runCmd)
}

func runMeasurement(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()

	envFile, _ := f.GetString("env-file")
	spec, exp, err := cachespec.Load(envFile)
	if err != nil {
		return err
	}

	if f.Changed("results-dir") {
		exp.ResultsDir, _ = f.GetString("results-dir")
	}
	if f.Changed("attacker-set") {
		exp.AttackerSetIndex, _ = f.GetUint64("attacker-set")
	}
	if f.Changed("victim-set") {
		exp.VictimSetIndex, _ = f.GetUint64("victim-set")
	}
	if f.Changed("max-victims") {
		exp.MaxVictimThreads, _ = f.GetInt("max-victims")
	}
	if f.Changed("seed") {
		exp.ShuffleSeed, _ = f.GetInt64("seed")
	}
	if f.Changed("monitor") {
		exp.MonitorOn, _ = f.GetBool("monitor")
	}
	if f.Changed("monitor-port") {
		exp.MonitorPort, _ = f.GetInt("monitor-port")
	}

	if err := spec.Validate(); err != nil {
		return err
	}

	if err := exp.Validate(spec); err != nil {
		return err
	}

	for _, w := range spec.CrossCheckHost() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	var monitor *monitoring.Monitor
	if exp.MonitorOn {
		monitor = monitoring.NewMonitor().
			WithPortNumber(exp.MonitorPort).
			WithSweepShape(exp.MaxVictimThreads+1, int(spec.Banks))

		if open, _ := f.GetBool("open-browser"); open {
			monitor = monitor.WithBrowserLaunch()
		}

		monitor.RegisterTarget("spec", &spec)
		monitor.RegisterTarget("experiment", &exp)
		monitor.StartServer()
	}

	quiet, _ := f.GetBool("quiet")

	// The two constructions never overlap. Concurrent pointer chases
	// would contend for the very cache banks being measured and break
	// every calibration gate.
	attacker, err := constructFamily(spec, exp, exp.AttackerSetIndex, quiet)
	if err != nil {
		return fmt.Errorf("attacker family: %w", err)
	}
	defer attacker.Close()

	victim, err := constructFamily(spec, exp, exp.VictimSetIndex, quiet)
	if err != nil {
		return fmt.Errorf("victim family: %w", err)
	}
	defer victim.Close()

	series, err := record.NewSeriesWriter(exp.ResultsDir)
	if err != nil {
		return err
	}

	hb := harness.MakeBuilder().
		WithExperiment(exp).
		WithAttackerFamily(attacker).
		WithVictimFamily(victim).
		WithResultSink(series)

	if db, _ := f.GetString("db"); db != "" {
		recorder := record.NewDataRecorder(dbName(db))
		hb = hb.WithResultSink(record.NewDBSink(recorder))
	}

	if monitor != nil {
		hb = hb.WithProgressSink(monitor)
	}

	h := hb.Build()

	if monitor != nil {
		monitor.RegisterTarget("harness", h)
	}

	return h.Run()
}

func constructFamily(
	spec cachespec.Spec,
	exp cachespec.Experiment,
	setIndex uint64,
	quiet bool,
) (*evict.Family, error) {
	b := evict.MakeBuilder().
		WithSpec(spec).
		WithShuffleSeed(exp.ShuffleSeed)

	if quiet {
		b = b.WithQuiet()
	}

	return b.Build().Construct(setIndex)
}

// dbName strips a trailing .sqlite3 so the recorder, which appends the
// extension, does not double it.
func dbName(path string) string {
	ext := filepath.Ext(path)
	if ext == ".sqlite3" {
		return path[:len(path)-len(ext)]
	}

	return path
}
