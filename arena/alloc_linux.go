//go:build linux

package arena

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// allocate maps an anonymous region for the arena. Huge pages are tried
// first: with them the virtual-to-physical mapping of the set-index bits
// is stable for the lifetime of the mapping, which candidate discovery
// depends on. The plain-page fallback keeps the tool usable on machines
// without reserved huge pages, at the cost of untrustworthy set indexing.
func allocate(size uint64) ([]byte, bool, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE

	b, err := unix.Mmap(-1, 0, int(size),
		prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err == nil {
		return b, true, nil
	}

	fmt.Fprintf(os.Stderr,
		"arena: huge-page map failed (%v), falling back to normal pages; "+
			"set-index mapping may be unstable\n", err)

	b, err = unix.Mmap(-1, 0, int(size),
		prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, err
	}

	return b, false, nil
}

func release(raw []byte) error {
	if raw == nil {
		return nil
	}
	return unix.Munmap(raw)
}
