package cachespec

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// CrossCheckHost compares the spec against what CPUID reports for the
// machine the process runs on and returns one warning per disagreement.
// Disagreements do not fail the run: CPUID is unreliable under
// virtualization and reports line size and total capacity but not bank
// count, so this is advisory only.
func (s Spec) CrossCheckHost() []string {
	var warnings []string

	host := cpuid.CPU

	if host.CacheLine > 0 && uint64(host.CacheLine) != s.LineSize {
		warnings = append(warnings, fmt.Sprintf(
			"spec line size %d B, host reports %d B",
			s.LineSize, host.CacheLine))
	}

	if host.Cache.L3 > 0 && uint64(host.Cache.L3) != s.LLCBytes() {
		warnings = append(warnings, fmt.Sprintf(
			"spec LLC %d B, host reports %d B",
			s.LLCBytes(), host.Cache.L3))
	}

	return warnings
}
