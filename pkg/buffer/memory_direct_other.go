//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package buffer

func mapDirect(size int) ([]byte, error) { return nil, ErrDirectUnsupported }

func unmapDirect(b []byte) error { return nil }
