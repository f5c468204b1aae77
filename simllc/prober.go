package simllc

import "github.com/sarchlab/llcprobe/arena"

// A Prober drives the probe protocol through the model instead of real
// memory. It satisfies the constructor's Prober interface. Readings are
// deterministic when the model's jitter is zero, so there is no
// retry-until-plausible loop here.
type Prober struct {
	model *Model
	arena *arena.Arena
}

// NewProber returns a prober that resolves the arena's node addresses
// against the model.
func NewProber(m *Model, a *arena.Arena) *Prober {
	return &Prober{model: m, arena: a}
}

// Probe mirrors the hardware probe: warm the ring, install the candidate,
// re-warm, then classify the candidate's next access latency.
func (p *Prober) Probe(setHead, candidate arena.NodeID) (bool, error) {
	spec := p.arena.Spec()
	warm := spec.ProbeWarm()

	p.chase(setHead, warm)
	p.model.Access(p.arena.Address(candidate))
	p.chase(setHead, warm)

	t := p.model.Access(p.arena.Address(candidate))
	return t > spec.MissThreshold, nil
}

// AvgAccessCycles traverses the ring through the model and averages the
// simulated latencies.
func (p *Prober) AvgAccessCycles(head arena.NodeID, accesses uint64) float64 {
	var total uint64
	cur := head
	for i := uint64(0); i < accesses; i++ {
		cur = p.arena.Next(cur)
		total += p.model.Access(p.arena.Address(cur))
	}

	return float64(total) / float64(accesses)
}

func (p *Prober) chase(head arena.NodeID, accesses uint64) {
	cur := head
	for i := uint64(0); i < accesses; i++ {
		cur = p.arena.Next(cur)
		p.model.Access(p.arena.Address(cur))
	}
}
