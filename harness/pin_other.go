//go:build !linux

package harness

import "errors"

// Pin implements Platform. Only Linux exposes the per-thread affinity
// call the measurement protocol needs.
func (p *HWPlatform) Pin(core int) error {
	return errors.New("harness: core pinning requires linux")
}
