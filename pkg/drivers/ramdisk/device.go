package ramdisk

import (
	"context"
	"os"
	"sync"

	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/module"
)

// store is the disk memory.
type store struct {
	mu   sync.RWMutex
	data []byte
}

func newStore(size int64) *store {
	return &store{data: make([]byte, size)}
}

func (s *store) size() int64 { return int64(len(s.data)) }

func (s *store) readAt(buf []byte, pos int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= s.size() {
		return 0
	}
	return copy(buf, s.data[pos:])
}

func (s *store) writeAt(buf []byte, pos int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= s.size() {
		return 0
	}
	return copy(s.data[pos:], buf)
}

// trim zeroes the parts of the ranges inside the disk and returns the
// number of bytes cleared.
func (s *store) trim(ranges []device.Range) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trimmed uint64
	size := uint64(s.size())
	for _, r := range ranges {
		if r.Offset >= size {
			continue
		}
		end := min(r.Offset+r.Size, size)
		if end < r.Offset {
			end = size
		}
		clear(s.data[r.Offset:end])
		trimmed += end - r.Offset
	}
	return trimmed
}

// deviceModule implements the published raw disk.
type deviceModule struct{}

type handle struct {
	disk *disk
	mode int
}

func (deviceModule) InitDevice(_ context.Context, driverCookie any) (any, error) {
	dk, ok := driverCookie.(*disk)
	if !ok {
		return nil, device.ErrNoDevice
	}
	return dk, nil
}

func (deviceModule) UninitDevice(context.Context, any) {}

func (deviceModule) Open(cookie any, _ string, mode int) (device.Cookie, error) {
	return &handle{disk: cookie.(*disk), mode: mode}, nil
}

func (deviceModule) Close(device.Cookie) error { return nil }

func (deviceModule) Free(device.Cookie) error { return nil }

func (deviceModule) Read(c device.Cookie, pos int64, buf []byte) (int, error) {
	h := c.(*handle)
	return h.disk.data.readAt(buf, pos), nil
}

func (deviceModule) Write(c device.Cookie, pos int64, buf []byte) (int, error) {
	h := c.(*handle)
	if h.mode&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, device.ErrNotAllowed
	}
	return h.disk.data.writeAt(buf, pos), nil
}

func (deviceModule) Control(c device.Cookie, op uint32, arg any) error {
	h := c.(*handle)
	data := h.disk.data

	switch op {
	case device.GetGeometry:
		g, ok := arg.(*device.Geometry)
		if !ok {
			return device.ErrBadValue
		}
		*g = device.Geometry{BytesPerPhysicalSector: BlockSize}
		g.SetBlocks(uint64(data.size()/BlockSize), BlockSize)
		return nil

	case device.GetDeviceSize:
		size, ok := arg.(*int64)
		if !ok {
			return device.ErrBadValue
		}
		*size = data.size()
		return nil

	case device.FlushDriveCache:
		return nil

	case device.Trim:
		td, ok := arg.(*device.TrimData)
		if !ok {
			return device.ErrBadValue
		}
		td.TrimmedSize += data.trim(td.Ranges)
		return nil
	}
	return device.ErrBadValue
}

var (
	_ module.DeviceModule = deviceModule{}
	_ module.Reader       = deviceModule{}
	_ module.Writer       = deviceModule{}
	_ module.Controller   = deviceModule{}
)
