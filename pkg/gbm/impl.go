package gbm

// deviceImpl and bufferImpl are implemented once in gbm_cgo.go (behind
// cgo, against real libgbm) and once in gbm_nocgo.go (a stub returning
// ErrCGORequired), mirroring pkg/gpu's split.
type deviceImpl interface {
	allocate(width, height uint32, fourcc string) (bufferImpl, int, uint32, error)
	close() error
}

type bufferImpl interface {
	destroy() error
}

func openDeviceImpl(path string) (deviceImpl, error) {
	return newDeviceImpl(path)
}
