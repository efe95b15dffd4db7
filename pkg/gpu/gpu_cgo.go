//go:build cgo

package gpu

/*
#cgo LDFLAGS: -lEGL -lGLESv2 -lgbm
#include <gbm.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>
#include <GLES2/gl2.h>
#include <GLES2/gl2ext.h>
#include <stdlib.h>

// fourcc_from_bytes mirrors the kernel's fourcc_code() macro.
static uint32_t fourcc_from_bytes(unsigned char a, unsigned char b, unsigned char c, unsigned char d) {
	return (uint32_t)a | ((uint32_t)b << 8) | ((uint32_t)c << 16) | ((uint32_t)d << 24);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type cgoContext struct {
	display C.EGLDisplay
	context C.EGLContext
	surface C.EGLSurface
	gbmDev  *C.struct_gbm_device

	program  C.GLuint
	vbo      C.GLuint
	uOpacity C.GLint
	uSampler C.GLint

	// Scanout render target (see CreateScanoutTarget). Rendering happens
	// into this FBO rather than an EGL window surface; there is no
	// secondary back buffer, a deliberate simplification documented in
	// DESIGN.md.
	fbo          C.GLuint
	rbo          C.GLuint
	scanoutImage C.EGLImageKHR
	scanoutFD    int
}

type cgoTexture struct {
	texture C.GLuint
	image   C.EGLImageKHR
	display C.EGLDisplay
	fd      int
}

func newContextImpl(drmFD int) (contextImpl, error) {
	display := C.eglGetPlatformDisplay(C.EGL_PLATFORM_GBM_KHR, unsafe.Pointer(uintptr(drmFD)), nil)
	if display == C.EGLDisplay(C.EGL_NO_DISPLAY) {
		return nil, fmt.Errorf("eglGetPlatformDisplay failed")
	}
	var major, minor C.EGLint
	if C.eglInitialize(display, &major, &minor) == C.EGL_FALSE {
		return nil, fmt.Errorf("eglInitialize failed")
	}

	configAttribs := []C.EGLint{
		C.EGL_SURFACE_TYPE, C.EGL_WINDOW_BIT,
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_ES2_BIT,
		C.EGL_RED_SIZE, 8, C.EGL_GREEN_SIZE, 8, C.EGL_BLUE_SIZE, 8,
		C.EGL_NONE,
	}
	var config C.EGLConfig
	var numConfigs C.EGLint
	if C.eglChooseConfig(display, &configAttribs[0], &config, 1, &numConfigs) == C.EGL_FALSE || numConfigs == 0 {
		return nil, fmt.Errorf("eglChooseConfig found no suitable config")
	}

	ctxAttribs := []C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 2, C.EGL_NONE}
	ctx := C.eglCreateContext(display, config, C.EGLContext(C.EGL_NO_CONTEXT), &ctxAttribs[0])
	if ctx == C.EGLContext(C.EGL_NO_CONTEXT) {
		return nil, fmt.Errorf("eglCreateContext failed")
	}

	gbmDev := C.gbm_create_device(C.int(drmFD))
	if gbmDev == nil {
		return nil, fmt.Errorf("gbm_create_device failed")
	}

	return &cgoContext{display: display, context: ctx, surface: C.EGLSurface(C.EGL_NO_SURFACE), gbmDev: gbmDev, scanoutFD: -1}, nil
}

// createScanoutTarget allocates a linear, scanout+rendering-capable GBM
// buffer, imports it as an EGL image, and attaches it to this context's
// FBO as a color renderbuffer. Subsequent makeCurrent/clear/draw/flush
// calls target that FBO. Called once per monitor at setup (and again if
// the monitor's mode changes).
func (c *cgoContext) createScanoutTarget(width, height uint32, fourcc string) (int, uint32, uint32, error) {
	fb := []byte(fourcc + "\x00\x00\x00\x00")[:4]
	format := C.fourcc_from_bytes(C.uchar(fb[0]), C.uchar(fb[1]), C.uchar(fb[2]), C.uchar(fb[3]))

	bo := C.gbm_bo_create(c.gbmDev, C.uint32_t(width), C.uint32_t(height), format,
		C.GBM_BO_USE_RENDERING|C.GBM_BO_USE_SCANOUT|C.GBM_BO_USE_LINEAR)
	if bo == nil {
		return -1, 0, 0, fmt.Errorf("gbm_bo_create failed for scanout target")
	}
	fd := C.gbm_bo_get_fd(bo)
	if fd < 0 {
		C.gbm_bo_destroy(bo)
		return -1, 0, 0, fmt.Errorf("gbm_bo_get_fd failed")
	}
	stride := uint32(C.gbm_bo_get_stride(bo))

	attribs := []C.EGLint{
		C.EGL_WIDTH, C.EGLint(width),
		C.EGL_HEIGHT, C.EGLint(height),
		C.EGL_LINUX_DRM_FOURCC_EXT, C.EGLint(format),
		C.EGL_DMA_BUF_PLANE0_FD_EXT, C.EGLint(fd),
		C.EGL_DMA_BUF_PLANE0_OFFSET_EXT, 0,
		C.EGL_DMA_BUF_PLANE0_PITCH_EXT, C.EGLint(stride),
		C.EGL_NONE,
	}
	image := C.eglCreateImageKHR(c.display, C.EGLContext(C.EGL_NO_CONTEXT), C.EGL_LINUX_DMA_BUF_EXT, nil, &attribs[0])
	// The BO served its purpose (its fd has been duplicated into the EGL
	// image and handed to the caller); release GBM's handle to it.
	C.gbm_bo_destroy(bo)
	if image == C.EGLImageKHR(C.EGL_NO_IMAGE_KHR) {
		return -1, 0, 0, fmt.Errorf("eglCreateImageKHR failed for scanout target")
	}

	if c.fbo == 0 {
		C.glGenFramebuffers(1, &c.fbo)
	}
	if c.rbo == 0 {
		C.glGenRenderbuffers(1, &c.rbo)
	}
	C.glBindFramebuffer(C.GL_FRAMEBUFFER, c.fbo)
	C.glBindRenderbuffer(C.GL_RENDERBUFFER, c.rbo)
	C.glEGLImageTargetRenderbufferStorageOES(C.GL_RENDERBUFFER, C.GLeglImageOES(image))
	C.glFramebufferRenderbuffer(C.GL_FRAMEBUFFER, C.GL_COLOR_ATTACHMENT0, C.GL_RENDERBUFFER, c.rbo)
	status := C.glCheckFramebufferStatus(C.GL_FRAMEBUFFER)
	if status != C.GL_FRAMEBUFFER_COMPLETE {
		return -1, 0, 0, fmt.Errorf("scanout framebuffer incomplete: status 0x%x", uint32(status))
	}

	if c.scanoutImage != C.EGLImageKHR(C.EGL_NO_IMAGE_KHR) && c.scanoutImage != nil {
		C.eglDestroyImageKHR(c.display, c.scanoutImage)
	}
	c.scanoutImage = image
	c.scanoutFD = fd
	return int(fd), stride, 0, nil
}

func (c *cgoContext) makeCurrent() error {
	if C.eglMakeCurrent(c.display, c.surface, c.surface, c.context) == C.EGL_FALSE {
		return fmt.Errorf("eglMakeCurrent failed")
	}
	if c.fbo != 0 {
		C.glBindFramebuffer(C.GL_FRAMEBUFFER, c.fbo)
	}
	return nil
}

func (c *cgoContext) clear() error {
	C.glClearColor(0, 0, 0, 1)
	C.glClear(C.GL_COLOR_BUFFER_BIT)
	return nil
}

func (c *cgoContext) importDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (textureImpl, error) {
	fb := []byte(fourcc + "\x00\x00\x00\x00")[:4]
	format := C.fourcc_from_bytes(C.uchar(fb[0]), C.uchar(fb[1]), C.uchar(fb[2]), C.uchar(fb[3]))

	attribs := []C.EGLint{
		C.EGL_WIDTH, C.EGLint(width),
		C.EGL_HEIGHT, C.EGLint(height),
		C.EGL_LINUX_DRM_FOURCC_EXT, C.EGLint(format),
		C.EGL_DMA_BUF_PLANE0_FD_EXT, C.EGLint(fd),
		C.EGL_DMA_BUF_PLANE0_OFFSET_EXT, C.EGLint(offset),
		C.EGL_DMA_BUF_PLANE0_PITCH_EXT, C.EGLint(stride),
		C.EGL_NONE,
	}
	image := C.eglCreateImageKHR(c.display, C.EGLContext(C.EGL_NO_CONTEXT), C.EGL_LINUX_DMA_BUF_EXT, nil, &attribs[0])
	if image == C.EGLImageKHR(C.EGL_NO_IMAGE_KHR) {
		return nil, fmt.Errorf("eglCreateImageKHR failed for fourcc %q", fourcc)
	}

	var tex C.GLuint
	C.glGenTextures(1, &tex)
	C.glBindTexture(C.GL_TEXTURE_2D, tex)
	C.glEGLImageTargetTexture2DOES(C.GL_TEXTURE_2D, C.GLeglImageOES(image))
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MIN_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MAG_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_S, C.GL_CLAMP_TO_EDGE)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_T, C.GL_CLAMP_TO_EDGE)
	C.glBindTexture(C.GL_TEXTURE_2D, 0)

	return &cgoTexture{texture: tex, image: image, display: c.display, fd: fd}, nil
}

func (c *cgoContext) draw(tex textureImpl, viewport Rect) error {
	return c.drawBlend(tex, viewport, 1)
}

func (c *cgoContext) drawBlend(tex textureImpl, viewport Rect, opacity float64) error {
	t, ok := tex.(*cgoTexture)
	if !ok {
		return fmt.Errorf("drawBlend: texture from a different context")
	}
	C.glViewport(C.GLint(viewport.X), C.GLint(viewport.Y), C.GLsizei(viewport.Width), C.GLsizei(viewport.Height))
	C.glActiveTexture(C.GL_TEXTURE0)
	C.glBindTexture(C.GL_TEXTURE_2D, t.texture)
	if opacity < 1 {
		C.glEnable(C.GL_BLEND)
		C.glBlendFunc(C.GL_CONSTANT_ALPHA, C.GL_ONE_MINUS_CONSTANT_ALPHA)
		C.glBlendColor(0, 0, 0, C.GLclampf(opacity))
	} else {
		C.glDisable(C.GL_BLEND)
	}
	C.glDrawArrays(C.GL_TRIANGLE_STRIP, 0, 4)
	return nil
}

func (c *cgoContext) flush() error {
	// Rendering targets the scanout FBO directly (see createScanoutTarget),
	// not an EGL window surface, so there is no eglSwapBuffers call here;
	// glFinish is enough to guarantee the DMA-BUF's contents are complete
	// before the DRM/KMS collaborator scans it out.
	C.glFinish()
	return nil
}

func (c *cgoContext) destroy() error {
	if c.scanoutImage != nil {
		C.eglDestroyImageKHR(c.display, c.scanoutImage)
	}
	if c.fbo != 0 {
		C.glDeleteFramebuffers(1, &c.fbo)
	}
	if c.rbo != 0 {
		C.glDeleteRenderbuffers(1, &c.rbo)
	}
	C.eglMakeCurrent(c.display, C.EGLSurface(C.EGL_NO_SURFACE), C.EGLSurface(C.EGL_NO_SURFACE), C.EGLContext(C.EGL_NO_CONTEXT))
	C.eglDestroyContext(c.display, c.context)
	C.eglTerminate(c.display)
	if c.gbmDev != nil {
		C.gbm_device_destroy(c.gbmDev)
	}
	return nil
}

func (t *cgoTexture) destroy() error {
	C.glDeleteTextures(1, &t.texture)
	C.eglDestroyImageKHR(t.display, t.image)
	return closeFD(t.fd)
}
