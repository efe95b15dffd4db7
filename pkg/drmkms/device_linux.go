//go:build linux

package drmkms

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl numbers, adapted from the standard Linux ioctl encoding used
// throughout drm.h. Sizes below are for the 64-bit ABI.
const (
	ioctlSetMaster         = 0x641e
	ioctlDropMaster        = 0x641f
	ioctlSetClientCap      = 0x4010640d
	ioctlModeGetResources  = 0xc04064a0
	ioctlModeGetConnector  = 0xc05064a7
	ioctlModeGetCrtc       = 0xc06864a1
	ioctlModeSetCrtc       = 0xc06864a2
	ioctlModePageFlip = 0xc01864b0
	// DRM_IOCTL_MODE_ADDFB2 = _IOWR('d', 0xb8, struct drm_mode_fb_cmd2); the
	// struct is 104 bytes on the 64-bit ABI (68 bytes of u32 fields, padded
	// to 72 before the 8-byte-aligned u64 modifier array).
	ioctlModeAddFB2      = 0xc06864b8
	ioctlModeRmFB        = 0xc00464af
	ioctlPrimeFDToHandle = 0xc00c642e
)

const (
	connectorStatusConnected = 1

	drmClientCapUniversalPlanes = 2

	pageFlipEvent = 0x01 // DRM_MODE_PAGE_FLIP_EVENT

	eventTypeFlipComplete = 0x03 // DRM_EVENT_FLIP_COMPLETE
)

type drmModeCardRes struct {
	FbIDPtr, CrtcIDPtr, ConnectorIDPtr, EncoderIDPtr uint64
	CountFbs, CountCrtcs, CountConnectors, CountEncoders,
	MinWidth, MaxWidth, MinHeight, MaxHeight uint32
}

type drmModeModeInfo struct {
	Clock                                                     uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew             uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan             uint16
	Vrefresh                                                  uint32
	Flags, Type                                               uint32
	Name                                                      [32]byte
}

type drmModeGetConnector struct {
	EncodersPtr, ModesPtr, PropsPtr, PropValuesPtr                       uint64
	CountModes, CountProps, CountEncoders                                uint32
	EncoderID, ConnectorID, ConnectorType, ConnectorTypeID, Connection   uint32
	MmWidth, MmHeight, Subpixel, Pad                                     uint32
}

type drmSetClientCap struct{ Capability, Value uint64 }

type drmModeCrtc struct {
	SetConnectorsPtr                                       uint64
	CountConnectors, CrtcID, FbID, X, Y, GammaSize, ModeValid uint32
	Mode                                                   drmModeModeInfo
}

type drmModePageFlip struct {
	CrtcID, FbID, Flags, Reserved uint32
	UserData                      uint64
}

// drmModeFbCmd2 mirrors struct drm_mode_fb_cmd2: up to 4 planes of
// handle/pitch/offset/modifier, enough for the single-plane formats (XR24,
// AR24 etc.) this compositor imports.
type drmModeFbCmd2 struct {
	FbID, Width, Height, PixelFormat, Flags uint32
	Handles                                 [4]uint32
	Pitches                                 [4]uint32
	Offsets                                 [4]uint32
	Modifier                                [4]uint64
}

type drmPrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func openDevice(path string) (fder, error) {
	if path == "" {
		path = "/dev/dri/card0"
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := ioctl(f.Fd(), ioctlSetMaster, nil); err != nil {
		f.Close()
		return nil, fmt.Errorf("SET_MASTER: %w", err)
	}
	cap := drmSetClientCap{Capability: drmClientCapUniversalPlanes, Value: 1}
	if err := ioctl(f.Fd(), ioctlSetClientCap, unsafe.Pointer(&cap)); err != nil {
		f.Close()
		return nil, fmt.Errorf("SET_CLIENT_CAP universal planes: %w", err)
	}
	return f, nil
}

func closeDevice(f fder) error {
	ioctl(f.Fd(), ioctlDropMaster, nil) // best-effort
	return f.Close()
}

func enumerate(f fder) ([]MonitorInfo, error) {
	var res drmModeCardRes
	if err := ioctl(f.Fd(), ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("GETRESOURCES (count): %w", err)
	}
	if res.CountConnectors == 0 {
		return nil, nil
	}

	connectorIDs := make([]uint32, res.CountConnectors)
	crtcIDs := make([]uint32, res.CountCrtcs)
	res2 := drmModeCardRes{
		ConnectorIDPtr:  uint64(uintptr(unsafe.Pointer(&connectorIDs[0]))),
		CountConnectors: res.CountConnectors,
	}
	if res.CountCrtcs > 0 {
		res2.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcIDs[0])))
		res2.CountCrtcs = res.CountCrtcs
	}
	if err := ioctl(f.Fd(), ioctlModeGetResources, unsafe.Pointer(&res2)); err != nil {
		return nil, fmt.Errorf("GETRESOURCES (fill): %w", err)
	}

	var monitors []MonitorInfo
	for i, connID := range connectorIDs {
		conn := drmModeGetConnector{ConnectorID: connID}
		if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
			continue // a single bad connector shouldn't fail the whole enumeration
		}
		if conn.Connection != connectorStatusConnected || conn.CountModes == 0 {
			continue
		}
		modes := make([]drmModeModeInfo, conn.CountModes)
		conn2 := drmModeGetConnector{
			ConnectorID: connID,
			ModesPtr:    uint64(uintptr(unsafe.Pointer(&modes[0]))),
			CountModes:  conn.CountModes,
		}
		if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn2)); err != nil {
			continue
		}
		mode := modes[0]
		crtcID := uint32(0)
		if i < len(crtcIDs) {
			crtcID = crtcIDs[i]
		}
		monitors = append(monitors, MonitorInfo{
			ID:         connID,
			CrtcID:     crtcID,
			Width:      uint32(mode.Hdisplay),
			Height:     uint32(mode.Vdisplay),
			RefreshMHz: mode.Vrefresh * 1000,
			Name:       fmt.Sprintf("connector-%d", connID),
		})
	}
	return monitors, nil
}

func importScanoutFB(f fder, width, height, stride, offset uint32, fourcc string, dmabufFD int) (uint32, error) {
	prime := drmPrimeHandle{FD: int32(dmabufFD)}
	if err := ioctl(f.Fd(), ioctlPrimeFDToHandle, unsafe.Pointer(&prime)); err != nil {
		return 0, fmt.Errorf("PRIME_FD_TO_HANDLE: %w", err)
	}

	fb := drmModeFbCmd2{
		Width:       width,
		Height:      height,
		PixelFormat: fourCCCode(fourcc),
	}
	fb.Handles[0] = prime.Handle
	fb.Pitches[0] = stride
	fb.Offsets[0] = offset

	if err := ioctl(f.Fd(), ioctlModeAddFB2, unsafe.Pointer(&fb)); err != nil {
		return 0, fmt.Errorf("ADDFB2: %w", err)
	}
	return fb.FbID, nil
}

func removeFB(f fder, fbID uint32) error {
	return ioctl(f.Fd(), ioctlModeRmFB, unsafe.Pointer(&fbID))
}

func setCrtc(f fder, monitor MonitorInfo, fbID uint32) error {
	conn := drmModeGetConnector{ConnectorID: monitor.ID}
	if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return fmt.Errorf("GETCONNECTOR count: %w", err)
	}
	if conn.CountModes == 0 {
		return fmt.Errorf("connector %d has no modes", monitor.ID)
	}
	modes := make([]drmModeModeInfo, conn.CountModes)
	conn2 := drmModeGetConnector{
		ConnectorID: monitor.ID,
		ModesPtr:    uint64(uintptr(unsafe.Pointer(&modes[0]))),
		CountModes:  conn.CountModes,
	}
	if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn2)); err != nil {
		return fmt.Errorf("GETCONNECTOR modes: %w", err)
	}
	mode := modes[0]
	for _, m := range modes {
		if uint32(m.Hdisplay) == monitor.Width && uint32(m.Vdisplay) == monitor.Height {
			mode = m
			break
		}
	}

	connectors := []uint32{monitor.ID}
	crtc := drmModeCrtc{
		CrtcID:           monitor.CrtcID,
		FbID:             fbID,
		SetConnectorsPtr: uint64(uintptr(unsafe.Pointer(&connectors[0]))),
		CountConnectors:  1,
		ModeValid:        1,
		Mode:             mode,
	}
	return ioctl(f.Fd(), ioctlModeSetCrtc, unsafe.Pointer(&crtc))
}

func requestPageFlip(f fder, monitor MonitorInfo, fbID uint32) error {
	flip := drmModePageFlip{CrtcID: monitor.CrtcID, FbID: fbID, Flags: pageFlipEvent}
	return ioctl(f.Fd(), ioctlModePageFlip, unsafe.Pointer(&flip))
}

// drmEventHeader mirrors struct drm_event: a generic {type, length} header
// followed by a type-specific payload.
type drmEventHeader struct {
	Type   uint32
	Length uint32
}

// drmEventVblank mirrors struct drm_event_vblank, the payload of a
// DRM_EVENT_FLIP_COMPLETE event.
type drmEventVblank struct {
	Header             drmEventHeader
	UserData           uint64
	TvSec, TvUsec      uint32
	SequenceNum        uint32
	CrtcID             uint32
}

func readPageFlipEvents(f fder) ([]uint32, error) {
	file, ok := f.(*os.File)
	if !ok {
		return nil, fmt.Errorf("drmkms: fd is not a readable *os.File")
	}
	buf := make([]byte, 4096)
	n, err := file.Read(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[:n]

	var crtcIDs []uint32
	for len(buf) >= 8 {
		hdr := drmEventHeader{
			Type:   binary.LittleEndian.Uint32(buf[0:4]),
			Length: binary.LittleEndian.Uint32(buf[4:8]),
		}
		if hdr.Length == 0 || int(hdr.Length) > len(buf) {
			break
		}
		if hdr.Type == eventTypeFlipComplete && hdr.Length >= uint32(unsafe.Sizeof(drmEventVblank{})) {
			ev := (*drmEventVblank)(unsafe.Pointer(&buf[0]))
			crtcIDs = append(crtcIDs, ev.CrtcID)
		}
		buf = buf[hdr.Length:]
	}
	return crtcIDs, nil
}

// fourCCCode converts a 4-character format name (e.g. "XR24") into a DRM
// FourCC code the same way the kernel's drm_fourcc.h macro does.
func fourCCCode(fourcc string) uint32 {
	var b [4]byte
	copy(b[:], fourcc)
	return binary.LittleEndian.Uint32(b[:])
}
