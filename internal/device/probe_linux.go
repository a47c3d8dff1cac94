//go:build linux

package device

import "golang.org/x/sys/unix"

var cudaNodes = []string{
	"/dev/nvidiactl",
	"/dev/nvidia0",
	"/dev/dxg", // WSL2 GPU paravirtualisation
}

func probeCUDA() bool {
	for _, path := range cudaNodes {
		if unix.Access(path, unix.F_OK) == nil {
			return true
		}
	}
	return false
}

func probeMPS() bool {
	return false
}
