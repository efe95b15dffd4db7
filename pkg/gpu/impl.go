package gpu

// contextImpl and textureImpl are implemented once in gpu_cgo.go (behind
// cgo, against real EGL/GLES2) and once in gpu_nocgo.go (a stub that
// always fails with ErrCGORequired), so the exported Context/Texture types
// above stay identical regardless of build configuration.
type contextImpl interface {
	makeCurrent() error
	clear() error
	importDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (textureImpl, error)
	draw(tex textureImpl, viewport Rect) error
	drawBlend(tex textureImpl, viewport Rect, opacity float64) error
	flush() error
	destroy() error
	createScanoutTarget(width, height uint32, fourcc string) (fd int, stride, offset uint32, err error)
}

type textureImpl interface {
	destroy() error
}
