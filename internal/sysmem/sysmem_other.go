//go:build !linux

package sysmem

import "errors"

// ErrUnsupported is returned on platforms without a memory probe.
var ErrUnsupported = errors.New("sysmem: unsupported platform")

// Read is not implemented on this platform.
func Read() (Stats, error) {
	return Stats{}, ErrUnsupported
}
