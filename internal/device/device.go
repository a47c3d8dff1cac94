package device

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	MPS  = "mps"
)

// Platform reports which accelerators the engine can use on this machine.
type Platform interface {
	HasMPS() bool
	HasCUDA() bool
}

// Static is a Platform with fixed capabilities.
type Static struct {
	MPS  bool
	CUDA bool
}

func (s Static) HasMPS() bool  { return s.MPS }
func (s Static) HasCUDA() bool { return s.CUDA }

// Resolve picks the device for a run. Sources are consulted from highest to
// lowest priority: the --device flag, the --gpu index, the device named in
// the run configuration, and finally whatever the platform offers. A source
// that names an unknown or unavailable device is skipped, so Resolve never
// fails and always returns cpu, mps, cuda or cuda:<n>.
func Resolve(configDevice string, gpu *int, cliDevice string, p Platform) string {
	if cliDevice != "" {
		if d, ok := pick(cliDevice, p); ok {
			return d
		}
	}

	if gpu != nil {
		switch {
		case *gpu < 0:
			return CPU
		case p.HasCUDA():
			return CUDA + ":" + strconv.Itoa(*gpu)
		}
	}

	if configDevice != "" {
		// Normalised to lower case, so CUDA:1 resolves to cuda:1.
		if d, ok := pick(strings.ToLower(configDevice), p); ok {
			return d
		}
	}

	return Auto(p)
}

// Auto returns the preferred device when nothing was requested explicitly.
func Auto(p Platform) string {
	switch {
	case p.HasMPS():
		return MPS
	case p.HasCUDA():
		return CUDA
	default:
		return CPU
	}
}

func pick(name string, p Platform) (string, bool) {
	switch {
	case name == MPS:
		return MPS, p.HasMPS()
	case name == CPU:
		return CPU, true
	case isCUDA(name):
		return name, p.HasCUDA()
	default:
		return "", false
	}
}

// isCUDA accepts "cuda" and "cuda:<index>".
func isCUDA(name string) bool {
	if name == CUDA {
		return true
	}
	idx, ok := strings.CutPrefix(name, CUDA+":")
	if !ok || idx == "" {
		return false
	}
	n, err := strconv.Atoi(idx)
	return err == nil && n >= 0 && strconv.Itoa(n) == idx
}

// ValidChoice checks a user supplied --device value.
func ValidChoice(name string) error {
	if name == CPU || name == MPS || isCUDA(name) {
		return nil
	}
	return fmt.Errorf("unknown device %q (expected cpu, cuda, cuda:<index> or mps)", name)
}
