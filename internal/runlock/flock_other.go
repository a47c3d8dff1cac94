//go:build !unix

package runlock

// Non-unix builds do not lock run directories.
func acquire(string, bool) (Release, error) {
	return Nop{}.Acquire("", false)
}
