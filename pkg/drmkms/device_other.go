//go:build !linux

package drmkms

import "fmt"

var errLinuxOnly = fmt.Errorf("drmkms: DRM ioctls only supported on Linux")

func openDevice(path string) (fder, error)                            { return nil, errLinuxOnly }
func closeDevice(f fder) error                                        { return errLinuxOnly }
func enumerate(f fder) ([]MonitorInfo, error)                         { return nil, errLinuxOnly }
func importScanoutFB(f fder, width, height, stride, offset uint32, fourcc string, dmabufFD int) (uint32, error) {
	return 0, errLinuxOnly
}
func removeFB(f fder, fbID uint32) error                              { return errLinuxOnly }
func setCrtc(f fder, monitor MonitorInfo, fbID uint32) error          { return errLinuxOnly }
func requestPageFlip(f fder, monitor MonitorInfo, fbID uint32) error  { return errLinuxOnly }
func readPageFlipEvents(f fder) ([]uint32, error)                     { return nil, errLinuxOnly }
