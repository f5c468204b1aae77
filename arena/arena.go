// Package arena manages the memory all probing runs over: a single
// line-aligned allocation partitioned into line-sized nodes that link into
// circular lists. Links are node indices rather than raw pointers, so list
// surgery is testable without touching the underlying memory, while
// traversal still reads the actual cache line of every visited node.
package arena

import (
	"errors"
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/sarchlab/llcprobe/cachespec"
)

// A NodeID indexes a node within its arena.
type NodeID uint64

// A Node occupies exactly one cache line. The padding is never read by
// list surgery; it exists so that touching a node pulls in the full line
// and so traversal cannot be reduced to pointer-width loads.
type Node struct {
	Next NodeID
	Prev NodeID
	pad  [6]uint64
}

// NodeBytes is the fixed node footprint. The spec's line size must match
// it exactly.
const NodeBytes = uint64(unsafe.Sizeof(Node{}))

// Allocation errors.
var (
	ErrNodeSize = errors.New("arena: node size does not equal the cache line size")
	ErrAlloc    = errors.New("arena: allocation failed")
)

// sink defeats dead-code elimination of traversal loops. Every access path
// folds something it read into this variable.
var sink uint64

// An Arena owns one contiguous node allocation. It is not safe for
// concurrent mutation; once lists are built, concurrent read-only
// traversal is fine.
type Arena struct {
	spec  cachespec.Spec
	raw   []byte
	nodes []Node
	base  uintptr
	huge  bool
}

// New allocates an arena for the given spec. On Linux it first attempts a
// huge-page backing so that virtual addresses map stably onto physical
// set indices; without huge pages the set-index bits above the page offset
// are not trustworthy and New says so on stderr.
func New(spec cachespec.Spec) (*Arena, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if spec.LineSize != NodeBytes {
		return nil, fmt.Errorf("%w: node %d B, line %d B",
			ErrNodeSize, NodeBytes, spec.LineSize)
	}

	raw, huge, err := allocate(spec.ArenaBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	if base%uintptr(spec.LineSize) != 0 {
		panic(fmt.Sprintf("arena: base %#x not line aligned", base))
	}

	a := &Arena{
		spec:  spec,
		raw:   raw,
		nodes: unsafe.Slice((*Node)(unsafe.Pointer(&raw[0])), spec.ArenaEntries()),
		base:  base,
		huge:  huge,
	}

	return a, nil
}

// Close releases the backing memory. All NodeIDs become invalid.
func (a *Arena) Close() error {
	err := release(a.raw)
	a.raw = nil
	a.nodes = nil
	return err
}

// Spec returns the spec the arena was allocated for.
func (a *Arena) Spec() cachespec.Spec { return a.spec }

// Entries returns the number of nodes in the arena.
func (a *Arena) Entries() uint64 { return uint64(len(a.nodes)) }

// HugePages reports whether the backing is huge-page mapped.
func (a *Arena) HugePages() bool { return a.huge }

// Address returns the virtual address of a node's cache line.
func (a *Arena) Address(id NodeID) uintptr {
	return a.base + uintptr(id)*uintptr(a.spec.LineSize)
}

// CandidatesFor returns every node whose address maps to the given set
// index under the spec's indexing scheme, in arena order.
func (a *Arena) CandidatesFor(setIndex uint64) []NodeID {
	mask := a.spec.SetIndexMask()
	want := setIndex << a.spec.LineOffsetBits()

	var ids []NodeID
	for i := NodeID(0); i < NodeID(len(a.nodes)); i++ {
		if uint64(a.Address(i))&mask == want {
			ids = append(ids, i)
		}
	}

	return ids
}

// Next returns the ring successor of id.
func (a *Arena) Next(id NodeID) NodeID { return a.nodes[id].Next }

// Prev returns the ring predecessor of id.
func (a *Arena) Prev(id NodeID) NodeID { return a.nodes[id].Prev }

// RingLen walks the ring containing id and returns its length.
func (a *Arena) RingLen(id NodeID) uint64 {
	n := uint64(1)
	for cur := a.nodes[id].Next; cur != id; cur = a.nodes[cur].Next {
		n++
	}
	return n
}

// Ring returns the members of the ring containing id, starting at id.
func (a *Arena) Ring(id NodeID) []NodeID {
	ids := []NodeID{id}
	for cur := a.nodes[id].Next; cur != id; cur = a.nodes[cur].Next {
		ids = append(ids, cur)
	}
	return ids
}

// Link connects the given nodes into one circular list in slice order.
func (a *Arena) Link(ids []NodeID) {
	for i, id := range ids {
		next := ids[(i+1)%len(ids)]
		a.nodes[id].Next = next
		a.nodes[next].Prev = id
	}
}

// Shuffle connects the given nodes into one circular list in uniformly
// random order. Random order is what keeps sequential traversal from
// triggering the streaming prefetcher, which would otherwise hide misses.
func (a *Arena) Shuffle(ids []NodeID, rng *rand.Rand) {
	perm := make([]NodeID, len(ids))
	copy(perm, ids)

	for i := len(perm) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	a.Link(perm)
}

// Unlink detaches id from its ring. The neighbors are joined to each
// other; id keeps its own link fields so Relink can restore it.
func (a *Arena) Unlink(id NodeID) {
	next := a.nodes[id].Next
	prev := a.nodes[id].Prev
	a.nodes[prev].Next = next
	a.nodes[next].Prev = prev
}

// Relink reinserts a node previously removed with Unlink between the same
// two neighbors. Only valid while those neighbors are still adjacent.
func (a *Arena) Relink(id NodeID) {
	next := a.nodes[id].Next
	prev := a.nodes[id].Prev
	a.nodes[prev].Next = id
	a.nodes[next].Prev = id
}

// SelfLink turns id into a singleton ring.
func (a *Arena) SelfLink(id NodeID) {
	a.nodes[id].Next = id
	a.nodes[id].Prev = id
}

// InsertBefore links id into head's ring as head's predecessor, i.e. at
// the back of the ring when head is read as the front. id must not
// currently be a member of any ring that matters.
func (a *Arena) InsertBefore(id, head NodeID) {
	tail := a.nodes[head].Prev
	a.nodes[id].Next = head
	a.nodes[id].Prev = tail
	a.nodes[tail].Next = id
	a.nodes[head].Prev = id
}

// SplitAfter cuts the first n nodes (starting at head) out of head's ring
// into their own ring and returns the head of the remainder. The caller
// must leave at least one node on each side.
func (a *Arena) SplitAfter(head NodeID, n uint64) NodeID {
	rest := head
	for i := uint64(0); i < n; i++ {
		rest = a.nodes[rest].Next
	}

	firstTail := a.nodes[rest].Prev
	restTail := a.nodes[head].Prev

	a.nodes[rest].Prev = restTail
	a.nodes[restTail].Next = rest
	a.nodes[head].Prev = firstTail
	a.nodes[firstTail].Next = head

	return rest
}

// Chase performs the pointer-chase loop: follow Next for the given number
// of accesses. Every step loads the cache line of the node it stands on.
// Returns the node it ends on.
func (a *Arena) Chase(head NodeID, accesses uint64) NodeID {
	nodes := a.nodes
	cur := head
	for i := uint64(0); i < accesses; i++ {
		cur = nodes[cur].Next
	}

	sink += uint64(cur)
	return cur
}

// Touch reads one node's full cache line.
func (a *Arena) Touch(id NodeID) {
	sink += a.nodes[id].pad[0] + uint64(a.nodes[id].Next)
}
