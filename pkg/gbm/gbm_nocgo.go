//go:build !cgo

package gbm

import "errors"

// ErrCGORequired is returned by every device/buffer operation when the
// binary was built with CGO_ENABLED=0: libgbm bindings are unavailable.
var ErrCGORequired = errors.New("gbm: libgbm support requires cgo")

type noCGODevice struct{}
type noCGOBuffer struct{}

func newDeviceImpl(path string) (deviceImpl, error) { return nil, ErrCGORequired }

func (noCGODevice) allocate(width, height uint32, fourcc string) (bufferImpl, int, uint32, error) {
	return nil, -1, 0, ErrCGORequired
}
func (noCGODevice) close() error { return ErrCGORequired }

func (noCGOBuffer) destroy() error { return ErrCGORequired }
