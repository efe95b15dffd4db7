package gpu

import "golang.org/x/sys/unix"

// closeFD closes a DMA-BUF fd a Texture owned, best-effort.
func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
