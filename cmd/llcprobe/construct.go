package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/llcprobe/cachespec"
)

var constructCmd = &cobra.Command{
	Use:   "construct",
	Short: "Construct one eviction-set family and report its shape.",
	Long: `construct builds the per-bank eviction sets for a single set ` +
		`index and prints each set's size. Useful for checking that the ` +
		`machine's timing is clean enough before committing to a full run.`,
	RunE: runConstruct,

	SilenceUsage: true,
}

func init() {
	f := constructCmd.Flags()
	f.String("env-file", "", "load configuration overrides from this .env file")
	f.Uint64("set", 27, "set index to partition")
	f.Int64("seed", 0, "candidate shuffle seed")
	f.Bool("quiet", false, "suppress construction progress output")

	rootCmd.AddCommand(constructCmd)
}

func runConstruct(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()

	envFile, _ := f.GetString("env-file")
	spec, exp, err := cachespec.Load(envFile)
	if err != nil {
		return err
	}

	if err := spec.Validate(); err != nil {
		return err
	}

	for _, w := range spec.CrossCheckHost() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	setIndex, _ := f.GetUint64("set")
	if f.Changed("seed") {
		exp.ShuffleSeed, _ = f.GetInt64("seed")
	}

	quiet, _ := f.GetBool("quiet")
	family, err := constructFamily(spec, exp, setIndex, quiet)
	if err != nil {
		return err
	}
	defer family.Close()

	fmt.Printf("Partitioned set index %d into %d eviction sets:\n",
		setIndex, len(family.Sets))
	for bank, set := range family.Sets {
		fmt.Printf("  bank %2d: %d lines\n", bank, set.Size(family.Arena))
	}

	return nil
}
