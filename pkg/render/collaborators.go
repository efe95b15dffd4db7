package render

import (
	"fmt"

	"github.com/hyprside/shift/pkg/drmkms"
	"github.com/hyprside/shift/pkg/gpu"
)

// drmDevice is the subset of *drmkms.Device the Render Loop depends on.
// *drmkms.Device already satisfies it; tests substitute a fake so the
// loop's orchestration logic can be exercised without real DRM hardware.
type drmDevice interface {
	Enumerate() ([]drmkms.MonitorInfo, error)
	ImportScanoutFB(width, height, stride, offset uint32, fourcc string, dmabufFD int) (uint32, error)
	RemoveFB(fbID uint32) error
	SetCrtc(monitor drmkms.MonitorInfo, fbID uint32) error
	RequestPageFlip(monitor drmkms.MonitorInfo, fbID uint32) error
	EventFD() int
	ReadPageFlipEvents() ([]uint32, error)
	Close() error
}

// gpuContext is the subset of *gpu.Context the Render Loop depends on,
// with ImportDMABUF/Draw/DrawBlend narrowed to the Texture interface so a
// fake GPU collaborator can be used in tests.
type gpuContext interface {
	MakeCurrent() error
	Clear() error
	ImportDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (Texture, error)
	Draw(tex Texture, viewport gpu.Rect) error
	DrawBlend(tex Texture, viewport gpu.Rect, opacity float64) error
	Flush() error
	Destroy() error
	CreateScanoutTarget(width, height uint32, fourcc string) (fd int, stride, offset uint32, err error)
}

// realGPUContext adapts *gpu.Context to gpuContext. MakeCurrent, Clear,
// Flush, Destroy, and CreateScanoutTarget are promoted directly from the
// embedded *gpu.Context; only the three methods touching *gpu.Texture need
// a narrowing wrapper.
type realGPUContext struct {
	*gpu.Context
}

func (c realGPUContext) ImportDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (Texture, error) {
	return c.Context.ImportDMABUF(width, height, stride, offset, fourcc, fd)
}

func (c realGPUContext) Draw(tex Texture, viewport gpu.Rect) error {
	t, ok := tex.(*gpu.Texture)
	if !ok {
		return fmt.Errorf("render: texture from a different GPU collaborator implementation")
	}
	return c.Context.Draw(t, viewport)
}

func (c realGPUContext) DrawBlend(tex Texture, viewport gpu.Rect, opacity float64) error {
	t, ok := tex.(*gpu.Texture)
	if !ok {
		return fmt.Errorf("render: texture from a different GPU collaborator implementation")
	}
	return c.Context.DrawBlend(t, viewport, opacity)
}
