//go:build !(linux || darwin || freebsd)

package backend

func statfsFree(string) (uint64, error) {
	return 0, errStatfsUnsupported
}
