package gpu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Signaled does a zero-timeout poll of the fence fd. A readable fd means
// the fence has signaled (spec §4.3 "Acquire-fence handling": "fd becomes
// readable").
func (f *Fence) Signaled() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false, fmt.Errorf("gpu: poll fence fd: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("gpu: fence fd reported an error")
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

// Close releases the fence fd without waiting for it to signal, used when
// a fence waiter is aborted (spec §5 "Cancellation").
func (f *Fence) Close() error {
	return closeFD(f.fd)
}
