//go:build !linux && !darwin

package device

func probeCUDA() bool { return false }
func probeMPS() bool  { return false }
