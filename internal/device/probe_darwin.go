//go:build darwin

package device

import "golang.org/x/sys/unix"

// probeMPS checks the hardware rather than GOARCH so that an amd64 binary
// running under Rosetta still reports Apple silicon.
func probeMPS() bool {
	v, err := unix.SysctlUint32("hw.optional.arm64")
	return err == nil && v == 1
}

func probeCUDA() bool {
	return false
}
