// Package gbm is the client-side GBM collaborator named in spec §6: it
// allocates linear scanout+render DMA-BUFs of a chosen FourCC for a client
// to hand to the compositor over FRAMEBUFFER_LINK. shift's own daemon
// never calls this package; it exists for client implementations built
// against this module.
//
// As with pkg/gpu, the real implementation requires cgo against libgbm;
// gbm_nocgo.go provides the same surface returning ErrCGORequired.
package gbm

import "fmt"

// Buffer is one allocated DMA-BUF-backed scanout buffer object.
type Buffer struct {
	FD     int
	Stride uint32
	Width  uint32
	Height uint32
	FourCC string

	impl bufferImpl
}

// Device owns a GBM device created from a DRM render-node fd.
type Device struct {
	impl deviceImpl
}

// Open creates a GBM device over the DRM render node at path (e.g.
// /dev/dri/renderD128).
func Open(path string) (*Device, error) {
	impl, err := openDeviceImpl(path)
	if err != nil {
		return nil, fmt.Errorf("gbm: open %s: %w", path, err)
	}
	return &Device{impl: impl}, nil
}

// Close destroys the GBM device.
func (d *Device) Close() error {
	if err := d.impl.close(); err != nil {
		return fmt.Errorf("gbm: close: %w", err)
	}
	return nil
}

// Allocate creates a linear DMA-BUF of the given dimensions and FourCC,
// usable for both GPU rendering and DRM scanout.
func (d *Device) Allocate(width, height uint32, fourcc string) (*Buffer, error) {
	impl, fd, stride, err := d.impl.allocate(width, height, fourcc)
	if err != nil {
		return nil, fmt.Errorf("gbm: allocate %dx%d %s: %w", width, height, fourcc, err)
	}
	return &Buffer{FD: fd, Stride: stride, Width: width, Height: height, FourCC: fourcc, impl: impl}, nil
}

// Destroy releases the buffer object. It does not close Buffer.FD: that
// DMA-BUF fd belongs to the caller, who closes it or transfers it (e.g.
// over FRAMEBUFFER_LINK).
func (b *Buffer) Destroy() error {
	if err := b.impl.destroy(); err != nil {
		return fmt.Errorf("gbm: destroy buffer: %w", err)
	}
	return nil
}
