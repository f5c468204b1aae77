package simllc

import (
	"sync"
	"time"

	"github.com/sarchlab/llcprobe/arena"
)

// sleepStamps is how many timestamp readings one millisecond of requested
// delay translates to.
const sleepStamps = 16

// A Platform lets the contention harness run entirely against the model:
// traversal advances the model's virtual clock, timestamps read it, and
// pinning is a no-op. It satisfies the harness's Platform interface.
type Platform struct {
	model *Model

	mu       sync.Mutex
	progress *sync.Cond
	stamps   uint64
}

// NewPlatform returns a platform over the model.
func NewPlatform(m *Model) *Platform {
	p := &Platform{model: m}
	p.progress = sync.NewCond(&p.mu)
	return p
}

// Pin is a no-op; the model has no cores.
func (p *Platform) Pin(core int) error { return nil }

// Timestamp reads the virtual cycle clock and counts as one unit of
// measurement progress for Sleep.
func (p *Platform) Timestamp() uint64 {
	now := p.model.Now()

	p.mu.Lock()
	p.stamps++
	p.progress.Broadcast()
	p.mu.Unlock()

	return now
}

// Chase follows the ring for the given number of accesses, pushing each
// one through the model.
func (p *Platform) Chase(a *arena.Arena, head arena.NodeID, accesses uint64) {
	cur := head
	for i := uint64(0); i < accesses; i++ {
		cur = a.Next(cur)
		p.model.Access(a.Address(cur))
	}
}

// Sleep paces the protocol against measurement progress instead of wall
// time: it blocks until further timestamps have been taken, in proportion
// to the requested delay. A sampling thread that must stay ahead of the
// sleeper therefore always is, however fast or slow the host runs the
// goroutines.
func (p *Platform) Sleep(d time.Duration) {
	quota := uint64(d.Milliseconds()) * sleepStamps
	if quota == 0 {
		quota = sleepStamps
	}

	p.mu.Lock()
	target := p.stamps + quota
	for p.stamps < target {
		p.progress.Wait()
	}
	p.mu.Unlock()
}
