//go:build linux || darwin

package heap

import "golang.org/x/sys/unix"

// posixPlatform backs the arena with an anonymous mmap, exactly as
// OME_memory_allocate/OME_memory_free do under OME_PLATFORM_POSIX, using
// golang.org/x/sys/unix instead of raw syscall numbers.
type posixPlatform struct{}

func init() {
	defaultPlatform = posixPlatform{}
}

func (posixPlatform) reserve(size uintptr) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (posixPlatform) release(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}
