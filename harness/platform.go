package harness

import (
	"time"

	"github.com/dterei/gotsc"

	"github.com/sarchlab/llcprobe/arena"
)

// A Platform abstracts what the harness needs from the machine: pinning
// the calling goroutine's thread to a core, a monotonic cycle timestamp,
// and the pointer-chase loop. The hardware platform is the real thing; a
// model-backed platform lets the whole protocol run deterministically in
// tests.
type Platform interface {
	// Pin binds the calling goroutine to its OS thread and that thread to
	// the given logical core. It stays in effect for the goroutine's
	// lifetime.
	Pin(core int) error

	// Timestamp returns a serialized cycle-counter reading. All
	// timestamps of one run share this domain, which is what makes
	// post-hoc window bucketing sound.
	Timestamp() uint64

	// Chase follows the ring at head for the given number of accesses.
	Chase(a *arena.Arena, head arena.NodeID, accesses uint64)

	// Sleep paces the protocol between phases. On hardware this is a
	// wall-clock sleep; a model-backed platform waits on measurement
	// progress instead, so pacing never depends on how fast the host
	// happens to run the goroutines.
	Sleep(d time.Duration)
}

// HWPlatform is the real-hardware platform: TSC timestamps and
// scheduler-level core affinity.
type HWPlatform struct{}

// NewHWPlatform returns the hardware platform.
func NewHWPlatform() *HWPlatform { return &HWPlatform{} }

// Timestamp implements Platform with a serialized TSC read.
func (p *HWPlatform) Timestamp() uint64 { return gotsc.BenchEnd() }

// Chase implements Platform by chasing real memory.
func (p *HWPlatform) Chase(a *arena.Arena, head arena.NodeID, accesses uint64) {
	a.Chase(head, accesses)
}

// Sleep implements Platform with a wall-clock sleep.
func (p *HWPlatform) Sleep(d time.Duration) { time.Sleep(d) }
