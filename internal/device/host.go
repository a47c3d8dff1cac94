package device

import (
	"os"
	"strings"
	"sync"
)

var (
	hostOnce sync.Once
	host     Static
)

// Host returns the capabilities of the current machine. Probing happens on
// first use only.
func Host() Platform {
	hostOnce.Do(func() {
		host = Static{
			MPS:  probeMPS(),
			CUDA: probeCUDA() && !cudaHidden(),
		}
	})
	return host
}

// cudaHidden reports whether CUDA_VISIBLE_DEVICES masks every GPU.
func cudaHidden() bool {
	v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES")
	if !ok {
		return false
	}
	v = strings.TrimSpace(v)
	return v == "" || v == "-1"
}
