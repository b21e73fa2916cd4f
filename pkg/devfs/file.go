package devfs

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/haiku/devmgr/pkg/device"
)

// DevicePrefix is the mount point GetPathForDevice reports paths under.
const DevicePrefix = "/dev/"

// File is an open device.
type File struct {
	fs     *FS
	v      *vnode
	path   string
	mode   int
	cookie device.Cookie

	closed atomic.Bool
	freed  atomic.Bool
}

// Open opens the device or partition at path. The device is initialized
// on the first open.
func (f *FS) Open(ctx context.Context, path string, mode int) (*File, error) {
	v, err := f.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	switch v.kind {
	case kindDir:
		return nil, ErrIsDir
	case kindSymlink:
		return nil, fmt.Errorf("%w: %s is a file device link", ErrNotDevice, path)
	}

	f.mu.Lock()
	path = f.pathOfLocked(v)
	f.mu.Unlock()

	node := v.dev
	if node.gone.Load() {
		return nil, fmt.Errorf("%w: %s", device.ErrNoDevice, path)
	}
	if err := node.state.acquire(ctx); err != nil {
		f.logError(path, "init device", err)
		return nil, err
	}
	if node.gone.Load() {
		node.state.release(ctx)
		return nil, fmt.Errorf("%w: %s", device.ErrNoDevice, path)
	}

	cookie, err := node.state.dev.Open(path, mode)
	if err != nil {
		node.state.release(ctx)
		return nil, err
	}
	f.debugLog("device opened", "path", path, "mode", mode)
	return &File{fs: f, v: v, path: path, mode: mode, cookie: cookie}, nil
}

// Path returns the path the file was opened under.
func (fl *File) Path() string { return fl.path }

func (fl *File) dev() device.Device { return fl.v.dev.state.dev }

// Capabilities returns the capabilities of the underlying device.
func (fl *File) Capabilities() device.Capability { return fl.dev().Capabilities() }

// usable reports why the file cannot be used for I/O, if at all.
func (fl *File) usable() error {
	if fl.freed.Load() {
		return ErrClosed
	}
	node := fl.v.dev
	if node.disconnected.Load() {
		return device.ErrDisconnected
	}
	if node.part != nil && node.part.raw.dev.disconnected.Load() {
		return device.ErrDisconnected
	}
	return nil
}

// translate validates an access of length bytes at pos and maps it onto
// the raw device.
func (fl *File) translate(pos int64, length int) (int64, int, error) {
	if pos < 0 {
		return 0, 0, fmt.Errorf("%w: negative offset", device.ErrBadValue)
	}
	p := fl.v.dev.part
	if p == nil {
		return pos, length, nil
	}
	if pos >= p.size {
		return 0, 0, fmt.Errorf("%w: offset %d beyond partition end", device.ErrBadValue, pos)
	}
	if remain := p.size - pos; int64(length) > remain {
		length = int(remain)
	}
	return pos + p.offset, length, nil
}

// Read reads from the device at pos.
func (fl *File) Read(pos int64, buf []byte) (int, error) {
	if err := fl.usable(); err != nil {
		return 0, err
	}
	pos, n, err := fl.translate(pos, len(buf))
	if err != nil || n == 0 {
		return 0, err
	}
	return fl.dev().Read(fl.cookie, pos, buf[:n])
}

// Write writes to the device at pos.
func (fl *File) Write(pos int64, buf []byte) (int, error) {
	if err := fl.usable(); err != nil {
		return 0, err
	}
	pos, n, err := fl.translate(pos, len(buf))
	if err != nil || n == 0 {
		return 0, err
	}
	return fl.dev().Write(fl.cookie, pos, buf[:n])
}

// ReadV reads into vecs starting at pos.
func (fl *File) ReadV(pos int64, vecs [][]byte) (int, error) {
	req := &device.Request{Offset: pos, Vecs: vecs}
	err := fl.IO(req)
	return req.Transferred, err
}

// WriteV writes vecs starting at pos.
func (fl *File) WriteV(pos int64, vecs [][]byte) (int, error) {
	req := &device.Request{Write: true, Offset: pos, Vecs: vecs}
	err := fl.IO(req)
	return req.Transferred, err
}

// IO runs a vectored request. Devices with the IO capability get it in one
// call; for the others one Read or Write is issued per vector, stopping
// after the first short transfer. An error after some bytes moved is not
// reported.
func (fl *File) IO(req *device.Request) error {
	if err := fl.usable(); err != nil {
		return err
	}
	pos, n, err := fl.translate(req.Offset, req.Length())
	if err != nil {
		return err
	}
	req.Transferred = 0
	if n == 0 {
		return nil
	}

	sub := &device.Request{Write: req.Write, Offset: pos, Vecs: clampVecs(req.Vecs, n)}
	if fl.Capabilities().Has(device.HasIO) {
		err = fl.dev().IO(fl.cookie, sub)
		req.Transferred = sub.Transferred
		return err
	}

	for _, vec := range sub.Vecs {
		var done int
		if req.Write {
			done, err = fl.dev().Write(fl.cookie, pos, vec)
		} else {
			done, err = fl.dev().Read(fl.cookie, pos, vec)
		}
		req.Transferred += done
		pos += int64(done)
		if err != nil {
			if req.Transferred > 0 {
				return nil
			}
			return err
		}
		if done < len(vec) {
			break
		}
	}
	return nil
}

// clampVecs returns vecs cut down to n bytes in total.
func clampVecs(vecs [][]byte, n int) [][]byte {
	out := make([][]byte, 0, len(vecs))
	for _, v := range vecs {
		if n == 0 {
			break
		}
		if len(v) > n {
			v = v[:n]
		}
		out = append(out, v)
		n -= len(v)
	}
	return out
}

// CanPage reports whether ReadPages and WritePages are available.
func (fl *File) CanPage() bool {
	return fl.Capabilities()&(device.HasIO|device.HasRead) != 0
}

// ReadPages reads page vectors at pos.
func (fl *File) ReadPages(pos int64, vecs [][]byte) (int, error) {
	if !fl.CanPage() {
		return 0, device.ErrNotAllowed
	}
	return fl.ReadV(pos, vecs)
}

// WritePages writes page vectors at pos.
func (fl *File) WritePages(pos int64, vecs [][]byte) (int, error) {
	if !fl.CanPage() {
		return 0, device.ErrNotAllowed
	}
	return fl.WriteV(pos, vecs)
}

// Control runs a control operation. Partition geometry, partition info
// and device paths are answered by devfs; trim ranges on partitions are
// mapped onto the raw device.
func (fl *File) Control(op uint32, arg any) error {
	if err := fl.usable(); err != nil {
		return err
	}
	p := fl.v.dev.part

	switch op {
	case device.GetGeometry:
		if p == nil {
			break
		}
		g, ok := arg.(*device.Geometry)
		if !ok {
			return device.ErrBadValue
		}
		if err := fl.dev().Control(fl.cookie, op, g); err != nil {
			return err
		}
		if g.BytesPerSector == 0 {
			g.BytesPerSector = 512
		}
		g.SetBlocks(uint64(p.size)/uint64(g.BytesPerSector), g.BytesPerSector)
		return nil

	case device.GetDeviceSize:
		if p == nil {
			break
		}
		size, ok := arg.(*int64)
		if !ok {
			return device.ErrBadValue
		}
		*size = p.size
		return nil

	case device.GetPartitionInfo:
		info, ok := arg.(*device.PartitionInfo)
		if p == nil || !ok {
			return device.ErrBadValue
		}
		fl.fs.mu.Lock()
		*info = device.PartitionInfo{
			Offset:           p.offset,
			Size:             p.size,
			LogicalBlockSize: 512,
			Partition:        p.index,
			Device:           DevicePrefix + fl.fs.pathOfLocked(p.raw),
		}
		fl.fs.mu.Unlock()
		return nil

	case device.SetPartition:
		return device.ErrNotAllowed

	case device.GetPathForDevice:
		out, ok := arg.(*string)
		if !ok {
			return device.ErrBadValue
		}
		fl.fs.mu.Lock()
		*out = DevicePrefix + fl.fs.pathOfLocked(fl.v)
		fl.fs.mu.Unlock()
		return nil

	case device.GetNextOpenDevice, device.AddFixedDriver, device.RemoveFixedDriver:
		fl.fs.debugLog("unsupported legacy control", "path", fl.path, "op", op)
		return device.ErrNotSupported

	case device.Trim:
		if p == nil {
			break
		}
		td, ok := arg.(*device.TrimData)
		if !ok {
			return device.ErrBadValue
		}
		return fl.trimPartition(p, td)
	}

	return fl.dev().Control(fl.cookie, op, arg)
}

// trimPartition clamps the ranges of td to p and shifts them onto the raw
// device.
func (fl *File) trimPartition(p *partition, td *device.TrimData) error {
	raw := &device.TrimData{Ranges: make([]device.Range, 0, len(td.Ranges))}
	for _, r := range td.Ranges {
		if r.Offset > uint64(p.size) {
			return fmt.Errorf("%w: trim offset %d beyond partition end", device.ErrBadValue, r.Offset)
		}
		size := min(r.Size, uint64(p.size)-r.Offset)
		if size == 0 {
			continue
		}
		raw.Ranges = append(raw.Ranges, device.Range{Offset: r.Offset + uint64(p.offset), Size: size})
	}
	if len(raw.Ranges) == 0 {
		return nil
	}
	err := fl.dev().Control(fl.cookie, device.Trim, raw)
	td.TrimmedSize += raw.TrimmedSize
	return err
}

// Select waits for event. Devices without select support are reported
// ready at once for every event that can be waited for.
func (fl *File) Select(event uint8, sync device.SelectSync) error {
	if err := fl.usable(); err != nil {
		return err
	}
	if !fl.Capabilities().Has(device.HasSelect) {
		if device.OutputOnly(event) {
			return nil
		}
		return sync.Notify(event)
	}
	return fl.dev().Select(fl.cookie, event, sync)
}

// Deselect cancels a Select.
func (fl *File) Deselect(event uint8, sync device.SelectSync) error {
	if !fl.Capabilities().Has(device.HasDeselect) {
		return nil
	}
	return fl.dev().Deselect(fl.cookie, event, sync)
}

// Stat returns the stat of the open entry. Raw devices report the size
// their geometry describes.
func (fl *File) Stat() Stat {
	fl.fs.mu.Lock()
	st := fl.fs.statLocked(fl.v)
	fl.fs.mu.Unlock()

	if st.Size == 0 && fl.usable() == nil {
		var g device.Geometry
		if err := fl.dev().Control(fl.cookie, device.GetGeometry, &g); err == nil && g.Size() > 0 {
			st.Size = g.Size()
			st.Mode = blockMode(st.Mode)
		}
	}
	return st
}

// Close calls the device's close hook. The device stays initialized until
// Free.
func (fl *File) Close() error {
	if !fl.closed.CompareAndSwap(false, true) {
		return nil
	}
	return fl.dev().Close(fl.cookie)
}

// Free releases the open reference, closing the file first if needed. The
// last Free of a device uninitializes it outside of any caller context, so
// a registry callback must not free the last open of one of its devices.
func (fl *File) Free() error {
	if !fl.freed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	err := fl.Close()
	if ferr := fl.dev().Free(fl.cookie); err == nil {
		err = ferr
	}
	fl.v.dev.state.release(context.Background())
	fl.fs.debugLog("device freed", "path", fl.path)
	return err
}
