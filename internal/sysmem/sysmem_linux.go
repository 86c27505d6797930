//go:build linux

package sysmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Read returns the host memory reported by sysinfo(2).
func Read() (Stats, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Stats{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return Stats{
		Total:     int64(uint64(info.Totalram) * unit),
		Available: int64((uint64(info.Freeram) + uint64(info.Bufferram)) * unit),
	}, nil
}
