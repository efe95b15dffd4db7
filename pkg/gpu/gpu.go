// Package gpu is the GPU/EGL collaborator named in spec §6: it imports
// DMA-BUF layouts as EGL images bound to GL textures, draws a textured
// quad into a monitor's render surface, and creates/waits on GPU fences.
//
// The real implementation (gpu_cgo.go) requires cgo to call into EGL and
// GLES2; gpu_nocgo.go provides the same surface returning ErrCGORequired
// so the package still builds (and its Go-level orchestration logic still
// tests) without a cgo toolchain or EGL headers available.
package gpu

import "fmt"

// Rect is a monitor viewport in pixels.
type Rect struct {
	X, Y, Width, Height uint32
}

// Context owns one monitor's EGL display/context/surface triple. It is
// only ever touched by the Render Loop's single task (spec §5).
type Context struct {
	impl contextImpl
}

// Texture owns one imported DMA-BUF's GL texture name, EGL image handle,
// and DMA-BUF fd. Destroy releases all three, in that order, per spec §9's
// "GPU resource lifetime" design note — callers must not rely on
// finalizers for this.
type Texture struct {
	impl textureImpl
}

// Fence wraps a GPU acquire-fence fd. Signaled is a non-blocking, one-shot
// poll of fd readability; it never blocks the caller's event loop.
type Fence struct {
	fd int
}

// NewFence takes ownership of fd.
func NewFence(fd int) *Fence { return &Fence{fd: fd} }

// FD returns the fence's underlying fd, for registration with a poller.
func (f *Fence) FD() int { return f.fd }

// NewContext creates an EGL display/context pair bound to drmFD, one per
// monitor (spec §4.3 "make a monitor's GL/EGL context current").
func NewContext(drmFD int) (*Context, error) {
	impl, err := newContextImpl(drmFD)
	if err != nil {
		return nil, fmt.Errorf("gpu: new context: %w", err)
	}
	return &Context{impl: impl}, nil
}

// MakeCurrent binds this context's EGL surface to the calling thread.
func (c *Context) MakeCurrent() error {
	if err := c.impl.makeCurrent(); err != nil {
		return fmt.Errorf("gpu: make current: %w", err)
	}
	return nil
}

// Clear clears the current render surface.
func (c *Context) Clear() error {
	if err := c.impl.clear(); err != nil {
		return fmt.Errorf("gpu: clear: %w", err)
	}
	return nil
}

// ImportDMABUF builds an EGL image from the DMA-BUF layout and binds it to
// a new GL texture with LINEAR filtering and CLAMP_TO_EDGE wrapping (spec
// §4.3 "DMA-BUF import"). The Context must be current.
func (c *Context) ImportDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (*Texture, error) {
	impl, err := c.impl.importDMABUF(width, height, stride, offset, fourcc, fd)
	if err != nil {
		return nil, fmt.Errorf("gpu: import dma-buf: %w", err)
	}
	return &Texture{impl: impl}, nil
}

// Draw renders tex scaled into viewport. The Context must be current.
func (c *Context) Draw(tex *Texture, viewport Rect) error {
	if err := c.impl.draw(tex.impl, viewport); err != nil {
		return fmt.Errorf("gpu: draw: %w", err)
	}
	return nil
}

// DrawBlend draws tex into viewport blended with the previous contents at
// the given opacity in [0,1], used for the session cross-fade transition.
func (c *Context) DrawBlend(tex *Texture, viewport Rect, opacity float64) error {
	if err := c.impl.drawBlend(tex.impl, viewport, opacity); err != nil {
		return fmt.Errorf("gpu: draw blend: %w", err)
	}
	return nil
}

// CreateScanoutTarget allocates the monitor's persistent render target — a
// linear DMA-BUF-backed framebuffer object the Context renders into — and
// returns its layout so the caller can register it with the DRM/KMS
// collaborator as a scanout framebuffer (spec §6 DRM/KMS collaborator
// "swap the back buffer"). This models the target as one persistent
// buffer rather than a multi-buffer swapchain; see DESIGN.md.
func (c *Context) CreateScanoutTarget(width, height uint32, fourcc string) (fd int, stride, offset uint32, err error) {
	fd, stride, offset, err = c.impl.createScanoutTarget(width, height, fourcc)
	if err != nil {
		return -1, 0, 0, fmt.Errorf("gpu: create scanout target: %w", err)
	}
	return fd, stride, offset, nil
}

// Flush blocks until the submitted GL work has finished, so the scanout
// target's contents are complete before it is scanned out. It creates no
// EGL sync fence and swaps no buffers: the Context renders into one
// persistent target (see CreateScanoutTarget).
func (c *Context) Flush() error {
	if err := c.impl.flush(); err != nil {
		return fmt.Errorf("gpu: flush: %w", err)
	}
	return nil
}

// Destroy releases the EGL context/display pair.
func (c *Context) Destroy() error {
	if err := c.impl.destroy(); err != nil {
		return fmt.Errorf("gpu: destroy context: %w", err)
	}
	return nil
}

// Destroy releases the GL texture, the EGL image, and the DMA-BUF fd, in
// that order.
func (t *Texture) Destroy() error {
	if err := t.impl.destroy(); err != nil {
		return fmt.Errorf("gpu: destroy texture: %w", err)
	}
	return nil
}
