//go:build !linux

package arena

import "unsafe"

// heapRefs keeps fallback allocations reachable for the lifetime of the
// process; arenas are allocated a handful of times per run, so this never
// grows meaningfully.
var heapRefs [][]byte

// allocate reserves a line-aligned region on the heap. There is no
// huge-page control here, so the mapping stability the construction
// algorithm relies on is not guaranteed off Linux; the simulated-cache
// paths are unaffected.
func allocate(size uint64) ([]byte, bool, error) {
	const align = 4096

	buf := make([]byte, size+align)
	heapRefs = append(heapRefs, buf)

	off := uintptr(unsafe.Pointer(&buf[0])) % align
	if off != 0 {
		off = align - off
	}

	return buf[off : uintptr(size)+off], false, nil
}

func release(raw []byte) error { return nil }
