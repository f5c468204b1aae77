//go:build linux

package harness

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin implements Platform. The goroutine is locked to its OS thread
// first; without that the scheduler could migrate the goroutine to a
// thread outside the affinity mask.
func (p *HWPlatform) Pin(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("harness: pinning to core %d: %w", core, err)
	}

	return nil
}
