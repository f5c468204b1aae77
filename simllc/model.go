// Package simllc models a banked, set-associative last-level cache with
// deterministic address-to-bank mapping and configurable hit/miss
// latencies. It stands in for the real memory hierarchy in tests: the
// construction algorithm must recover this model's ground-truth partition
// exactly, and the harness can run against its virtual cycle clock.
package simllc

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/sarchlab/llcprobe/cachespec"
)

// A Config parameterizes the model.
type Config struct {
	Spec cachespec.Spec

	// HitCycles and MissCycles are the base access latencies.
	HitCycles  uint64
	MissCycles uint64

	// BankSkew is added to a hit latency once per bank index, modeling
	// banks sitting at different distances from the measuring core. Bank
	// zero is the closest.
	BankSkew uint64

	// JitterCycles adds uniform noise in [0, JitterCycles] to every
	// access when nonzero.
	JitterCycles uint64
	Seed         int64
}

// DefaultConfig returns latencies matching the bands of the given spec:
// hits in the LLC band, misses in the DRAM band.
func DefaultConfig(spec cachespec.Spec) Config {
	return Config{
		Spec:       spec,
		HitCycles:  40,
		MissCycles: 175,
		BankSkew:   1,
	}
}

// A Model is the simulated cache. Every way-group is an LRU over line
// addresses with exactly ways-per-bank capacity, so inserting into a full
// group evicts its least recently used line, which is the behavior the
// probe protocol exploits.
type Model struct {
	cfg    Config
	groups [][]*simplelru.LRU[uint64, struct{}]

	mu  sync.Mutex
	rng *rand.Rand

	clock  atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewModel builds a model with one LRU per (bank, set) pair.
func NewModel(cfg Config) *Model {
	spec := cfg.Spec

	m := &Model{
		cfg:    cfg,
		groups: make([][]*simplelru.LRU[uint64, struct{}], spec.Banks),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	for b := uint64(0); b < spec.Banks; b++ {
		m.groups[b] = make([]*simplelru.LRU[uint64, struct{}], spec.SetsPerBank)
		for s := uint64(0); s < spec.SetsPerBank; s++ {
			lru, err := simplelru.NewLRU[uint64, struct{}](
				int(spec.WaysPerBank), nil)
			if err != nil {
				panic(fmt.Sprintf("simllc: %v", err))
			}
			m.groups[b][s] = lru
		}
	}

	return m
}

// SetOf returns the set index an address maps to.
func (m *Model) SetOf(addr uintptr) uint64 {
	spec := m.cfg.Spec
	return (uint64(addr) & spec.SetIndexMask()) >> spec.LineOffsetBits()
}

// BankOf returns the bank an address maps to. Banks are selected by the
// address bits directly above the set-index field, which is stable,
// uniform over a large arena, and easy for tests to recompute.
func (m *Model) BankOf(addr uintptr) uint64 {
	spec := m.cfg.Spec
	shift := m.cfg.Spec.LineOffsetBits() + spec.SetIndexBits()
	return (uint64(addr) >> shift) % spec.Banks
}

// Access simulates one load of the line containing addr and returns its
// latency in cycles. The virtual clock advances by the same amount.
func (m *Model) Access(addr uintptr) uint64 {
	spec := m.cfg.Spec
	line := uint64(addr) &^ (spec.LineSize - 1)
	bank := m.BankOf(addr)
	set := m.SetOf(addr)

	m.mu.Lock()

	group := m.groups[bank][set]
	var latency uint64
	if _, ok := group.Get(line); ok {
		latency = m.cfg.HitCycles + bank*m.cfg.BankSkew
		m.hits.Add(1)
	} else {
		latency = m.cfg.MissCycles
		m.misses.Add(1)
	}
	group.Add(line, struct{}{})

	if m.cfg.JitterCycles > 0 {
		latency += uint64(m.rng.Int63n(int64(m.cfg.JitterCycles) + 1))
	}

	m.mu.Unlock()

	m.clock.Add(latency)
	return latency
}

// Now returns the virtual cycle clock, which advances only through
// Access.
func (m *Model) Now() uint64 { return m.clock.Load() }

// Hits returns the cumulative hit count.
func (m *Model) Hits() uint64 { return m.hits.Load() }

// Misses returns the cumulative miss count.
func (m *Model) Misses() uint64 { return m.misses.Load() }
