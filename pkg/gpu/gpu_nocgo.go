//go:build !cgo

package gpu

import "errors"

// ErrCGORequired is returned by every context/texture operation when the
// binary was built with CGO_ENABLED=0: EGL/GLES2 bindings are unavailable.
var ErrCGORequired = errors.New("gpu: EGL/GLES2 support requires cgo")

type noCGOContext struct{}
type noCGOTexture struct{}

func newContextImpl(drmFD int) (contextImpl, error) { return nil, ErrCGORequired }

func (noCGOContext) makeCurrent() error { return ErrCGORequired }
func (noCGOContext) clear() error       { return ErrCGORequired }
func (noCGOContext) importDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (textureImpl, error) {
	return nil, ErrCGORequired
}
func (noCGOContext) draw(tex textureImpl, viewport Rect) error                        { return ErrCGORequired }
func (noCGOContext) drawBlend(tex textureImpl, viewport Rect, opacity float64) error { return ErrCGORequired }
func (noCGOContext) flush() error                                                    { return ErrCGORequired }
func (noCGOContext) destroy() error                                                  { return ErrCGORequired }
func (noCGOContext) createScanoutTarget(width, height uint32, fourcc string) (int, uint32, uint32, error) {
	return -1, 0, 0, ErrCGORequired
}

func (noCGOTexture) destroy() error { return ErrCGORequired }
