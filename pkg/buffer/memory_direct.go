//go:build linux || darwin || freebsd || netbsd || openbsd

package buffer

import "golang.org/x/sys/unix"

// mapDirect allocates size bytes outside the Go heap with an anonymous
// private mapping. The mapping must be released with unmapDirect.
func mapDirect(size int) ([]byte, error) {
    if size == 0 { return []byte{}, nil }
    return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapDirect(b []byte) error {
    if len(b) == 0 { return nil }
    return unix.Munmap(b)
}
