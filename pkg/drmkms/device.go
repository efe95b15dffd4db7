// Package drmkms is the DRM/KMS collaborator named in spec §6: it
// enumerates connectors/CRTCs, imports a DMA-BUF as a scanout framebuffer,
// drives modesets and page-flips, and surfaces the DRM fd so the Render
// Loop can await page-flip-complete events cooperatively.
//
// The raw ioctl plumbing lives in device_linux.go (adapted from the
// teacher's DRM lease manager) behind a Linux build tag; device_other.go
// provides the same surface with a sentinel error everywhere else.
package drmkms

import "fmt"

// MonitorInfo is one connected, usable output.
type MonitorInfo struct {
	ID         uint32
	CrtcID     uint32
	Width      uint32
	Height     uint32
	RefreshMHz uint32
	Name       string
}

// Device owns one open DRM master file descriptor.
type Device struct {
	f fder
}

// fder is the minimal *os.File surface device_linux.go/device_other.go
// need; kept as an interface so stub builds don't import os for nothing.
type fder interface {
	Fd() uintptr
	Close() error
}

// Open acquires DRM master on the device at path (default /dev/dri/card0).
func Open(path string) (*Device, error) {
	f, err := openDevice(path)
	if err != nil {
		return nil, fmt.Errorf("drmkms: open %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Close drops DRM master and closes the device.
func (d *Device) Close() error {
	return closeDevice(d.f)
}

// Enumerate lists every connected, modeset-capable output.
func (d *Device) Enumerate() ([]MonitorInfo, error) {
	monitors, err := enumerate(d.f)
	if err != nil {
		return nil, fmt.Errorf("drmkms: enumerate: %w", err)
	}
	return monitors, nil
}

// ImportScanoutFB wraps a DMA-BUF as a DRM framebuffer object ready for
// SetCrtc/RequestPageFlip. The caller retains ownership of dmabufFD; DRM's
// PRIME import takes its own reference.
func (d *Device) ImportScanoutFB(width, height, stride, offset uint32, fourcc string, dmabufFD int) (fbID uint32, err error) {
	fbID, err = importScanoutFB(d.f, width, height, stride, offset, fourcc, dmabufFD)
	if err != nil {
		return 0, fmt.Errorf("drmkms: import scanout fb: %w", err)
	}
	return fbID, nil
}

// RemoveFB destroys a framebuffer object created by ImportScanoutFB.
func (d *Device) RemoveFB(fbID uint32) error {
	if err := removeFB(d.f, fbID); err != nil {
		return fmt.Errorf("drmkms: remove fb %d: %w", fbID, err)
	}
	return nil
}

// SetCrtc performs the initial modeset binding fbID to monitor's CRTC. Only
// needed once per monitor before the first page-flip.
func (d *Device) SetCrtc(monitor MonitorInfo, fbID uint32) error {
	if err := setCrtc(d.f, monitor, fbID); err != nil {
		return fmt.Errorf("drmkms: set crtc %d: %w", monitor.CrtcID, err)
	}
	return nil
}

// RequestPageFlip schedules fbID to become monitor's scanout buffer on the
// next vblank, with DRM_MODE_PAGE_FLIP_EVENT set so the flip completion
// shows up in ReadPageFlipEvents.
func (d *Device) RequestPageFlip(monitor MonitorInfo, fbID uint32) error {
	if err := requestPageFlip(d.f, monitor, fbID); err != nil {
		return fmt.Errorf("drmkms: request page flip crtc %d: %w", monitor.CrtcID, err)
	}
	return nil
}

// EventFD is the DRM device fd itself; it becomes readable when a
// page-flip-complete (or other DRM) event is pending.
func (d *Device) EventFD() int {
	return int(d.f.Fd())
}

// ReadPageFlipEvents drains pending DRM events from the device fd and
// returns the CRTC ids that completed a page flip.
func (d *Device) ReadPageFlipEvents() ([]uint32, error) {
	crtcIDs, err := readPageFlipEvents(d.f)
	if err != nil {
		return nil, fmt.Errorf("drmkms: read page flip events: %w", err)
	}
	return crtcIDs, nil
}
