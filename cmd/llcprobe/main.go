// llcprobe measures last-level-cache bank contention. It first partitions
// the cache lines of two set indices into per-bank eviction sets using
// timing alone, then runs an attacker thread against sweeps of victim
// threads and records the attacker's latency series.
package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var rootCmd = &cobra.Command{
	Use:   "llcprobe",
	Short: "Measure last-level-cache bank contention through eviction sets.",
	Long: `llcprobe builds per-bank eviction sets for two cache set indices ` +
		`from timing measurements alone, then measures how victim threads ` +
		`flooding one family's banks slow an attacker thread sampling the ` +
		`other, producing one latency series per victim-thread count.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
