//go:build cgo

package gbm

/*
#cgo LDFLAGS: -lgbm
#include <gbm.h>
#include <fcntl.h>
#include <unistd.h>
#include <stdlib.h>

static uint32_t shift_fourcc(unsigned char a, unsigned char b, unsigned char c, unsigned char d) {
	return (uint32_t)a | ((uint32_t)b << 8) | ((uint32_t)c << 16) | ((uint32_t)d << 24);
}
*/
import "C"

import (
	"fmt"
	"os"
)

type cgoDevice struct {
	fd  *os.File
	gbm *C.struct_gbm_device
}

type cgoBuffer struct {
	bo *C.struct_gbm_bo
}

func newDeviceImpl(path string) (deviceImpl, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	dev := C.gbm_create_device(C.int(f.Fd()))
	if dev == nil {
		f.Close()
		return nil, fmt.Errorf("gbm_create_device failed")
	}
	return &cgoDevice{fd: f, gbm: dev}, nil
}

func (d *cgoDevice) allocate(width, height uint32, fourcc string) (bufferImpl, int, uint32, error) {
	fb := []byte(fourcc + "\x00\x00\x00\x00")[:4]
	format := C.shift_fourcc(C.uchar(fb[0]), C.uchar(fb[1]), C.uchar(fb[2]), C.uchar(fb[3]))

	bo := C.gbm_bo_create(d.gbm, C.uint32_t(width), C.uint32_t(height), format,
		C.GBM_BO_USE_RENDERING|C.GBM_BO_USE_SCANOUT|C.GBM_BO_USE_LINEAR)
	if bo == nil {
		return nil, -1, 0, fmt.Errorf("gbm_bo_create failed")
	}

	fd := C.gbm_bo_get_fd(bo)
	if fd < 0 {
		C.gbm_bo_destroy(bo)
		return nil, -1, 0, fmt.Errorf("gbm_bo_get_fd failed")
	}
	stride := uint32(C.gbm_bo_get_stride(bo))
	return &cgoBuffer{bo: bo}, int(fd), stride, nil
}

func (d *cgoDevice) close() error {
	C.gbm_device_destroy(d.gbm)
	return d.fd.Close()
}

func (b *cgoBuffer) destroy() error {
	C.gbm_bo_destroy(b.bo)
	return nil
}
