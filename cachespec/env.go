package cachespec

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load returns the reference spec and experiment with any overrides found
// in the environment applied on top. If envFile is non-empty it is loaded
// first (missing file is an error); otherwise a ".env" in the working
// directory is loaded when present.
//
// Recognized keys all carry the LLCPROBE_ prefix, e.g. LLCPROBE_BANKS,
// LLCPROBE_WAYS, LLCPROBE_ATTACKER_SET, LLCPROBE_CORES=0,1,2.
func Load(envFile string) (Spec, Experiment, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Spec{}, Experiment{}, fmt.Errorf("cachespec: %w", err)
		}
	} else {
		// Best effort; a missing default .env just means no overrides.
		_ = godotenv.Load()
	}

	s := XeonE5V4()
	e := DefaultExperiment()

	var err error
	overrideUint(&s.Banks, "LLCPROBE_BANKS", &err)
	overrideUint(&s.WaysPerBank, "LLCPROBE_WAYS", &err)
	overrideUint(&s.SetsPerBank, "LLCPROBE_SETS", &err)
	overrideUint(&s.LineSize, "LLCPROBE_LINE_SIZE", &err)
	overrideUint(&s.ArenaBytes, "LLCPROBE_ARENA_BYTES", &err)
	overrideUint(&s.MissThreshold, "LLCPROBE_MISS_THRESHOLD", &err)

	overrideUint(&e.AttackerSetIndex, "LLCPROBE_ATTACKER_SET", &err)
	overrideUint(&e.VictimSetIndex, "LLCPROBE_VICTIM_SET", &err)
	overrideInt(&e.MaxVictimThreads, "LLCPROBE_MAX_VICTIMS", &err)
	overrideUint(&e.WarmupAccesses, "LLCPROBE_WARMUP_ACCESSES", &err)
	overrideUint(&e.TimedIterations, "LLCPROBE_TIMED_ITERATIONS", &err)
	overrideUint(&e.AccessesPerSample, "LLCPROBE_ACCESSES_PER_SAMPLE", &err)
	overrideUint(&e.VictimAccesses, "LLCPROBE_VICTIM_ACCESSES", &err)
	overrideDuration(&e.WarmupDelay, "LLCPROBE_WARMUP_DELAY", &err)
	overrideDuration(&e.SettleDelay, "LLCPROBE_SETTLE_DELAY", &err)
	overrideString(&e.ResultsDir, "LLCPROBE_RESULTS_DIR")
	overrideCores(&e.CoreIDs, "LLCPROBE_CORES", &err)

	if err != nil {
		return Spec{}, Experiment{}, err
	}

	if err := s.Validate(); err != nil {
		return Spec{}, Experiment{}, err
	}

	if err := e.Validate(s); err != nil {
		return Spec{}, Experiment{}, err
	}

	return s, e, nil
}

func overrideUint(dst *uint64, key string, err *error) {
	v, ok := os.LookupEnv(key)
	if !ok || *err != nil {
		return
	}

	parsed, parseErr := strconv.ParseUint(v, 10, 64)
	if parseErr != nil {
		*err = fmt.Errorf("cachespec: %s=%q: %w", key, v, parseErr)
		return
	}

	*dst = parsed
}

func overrideInt(dst *int, key string, err *error) {
	v, ok := os.LookupEnv(key)
	if !ok || *err != nil {
		return
	}

	parsed, parseErr := strconv.Atoi(v)
	if parseErr != nil {
		*err = fmt.Errorf("cachespec: %s=%q: %w", key, v, parseErr)
		return
	}

	*dst = parsed
}

func overrideDuration(dst *time.Duration, key string, err *error) {
	v, ok := os.LookupEnv(key)
	if !ok || *err != nil {
		return
	}

	parsed, parseErr := time.ParseDuration(v)
	if parseErr != nil {
		*err = fmt.Errorf("cachespec: %s=%q: %w", key, v, parseErr)
		return
	}

	*dst = parsed
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func overrideCores(dst *[]int, key string, err *error) {
	v, ok := os.LookupEnv(key)
	if !ok || *err != nil {
		return
	}

	var cores []int
	for _, part := range strings.Split(v, ",") {
		c, parseErr := strconv.Atoi(strings.TrimSpace(part))
		if parseErr != nil {
			*err = fmt.Errorf("cachespec: %s=%q: %w", key, v, parseErr)
			return
		}
		cores = append(cores, c)
	}

	*dst = cores
}
