package devfs

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/device"
)

// memDevice is a device over a byte slice. Reads and writes are clamped to
// the slice.
type memDevice struct {
	device.Base

	caps    device.Capability
	initErr error

	mu      sync.Mutex
	data    []byte
	inits   int
	uninits int
	removed int
	opened  []string
	trims   []device.Range
	selects []uint8
	ios     int
}

func newMemDevice(size int) *memDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return &memDevice{caps: device.HasRead | device.HasWrite, data: data}
}

func (d *memDevice) Capabilities() device.Capability { return d.caps }

func (d *memDevice) InitDevice(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initErr != nil {
		return d.initErr
	}
	d.inits++
	return nil
}

func (d *memDevice) UninitDevice(context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uninits++
}

func (d *memDevice) Open(path string, _ int) (device.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, path)
	return path, nil
}

func (d *memDevice) Read(_ device.Cookie, pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos >= int64(len(d.data)) {
		return 0, nil
	}
	return copy(buf, d.data[pos:]), nil
}

func (d *memDevice) Write(_ device.Cookie, pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos >= int64(len(d.data)) {
		return 0, nil
	}
	return copy(d.data[pos:], buf), nil
}

func (d *memDevice) IO(c device.Cookie, req *device.Request) error {
	d.mu.Lock()
	d.ios++
	d.mu.Unlock()

	pos := req.Offset
	for _, v := range req.Vecs {
		var n int
		if req.Write {
			n, _ = d.Write(c, pos, v)
		} else {
			n, _ = d.Read(c, pos, v)
		}
		req.Transferred += n
		pos += int64(n)
	}
	return nil
}

func (d *memDevice) Control(_ device.Cookie, op uint32, arg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch op {
	case device.GetGeometry:
		g := arg.(*device.Geometry)
		*g = device.Geometry{}
		g.SetBlocks(uint64(len(d.data))/512, 512)
		return nil
	case device.Trim:
		td := arg.(*device.TrimData)
		for _, r := range td.Ranges {
			d.trims = append(d.trims, r)
			td.TrimmedSize += r.Size
		}
		return nil
	}
	return device.ErrBadValue
}

func (d *memDevice) Select(_ device.Cookie, event uint8, _ device.SelectSync) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selects = append(d.selects, event)
	return nil
}

func (d *memDevice) Removed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed++
}

func (d *memDevice) counts() (inits, uninits, removed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits, d.uninits, d.removed
}

// shortDevice transfers at most limit bytes per call.
type shortDevice struct {
	*memDevice
	limit int
	calls int
}

func (d *shortDevice) Read(c device.Cookie, pos int64, buf []byte) (int, error) {
	d.calls++
	if len(buf) > d.limit {
		buf = buf[:d.limit]
	}
	return d.memDevice.Read(c, pos, buf)
}

type syncRecorder struct {
	events []uint8
}

func (s *syncRecorder) Notify(event uint8) error {
	s.events = append(s.events, event)
	return nil
}

// noteRecorder records notifications as strings.
type noteRecorder struct {
	mu    sync.Mutex
	notes []string
}

func (r *noteRecorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

func (r *noteRecorder) EntryCreated(dir uint64, name string, _ uint64) {
	r.add("created %d/%s", dir, name)
}

func (r *noteRecorder) EntryRemoved(dir uint64, name string, _ uint64) {
	r.add("removed %d/%s", dir, name)
}

func (r *noteRecorder) EntryMoved(fromDir uint64, fromName string, toDir uint64, toName string, _ uint64) {
	r.add("moved %d/%s -> %d/%s", fromDir, fromName, toDir, toName)
}

func (r *noteRecorder) StatChanged(id uint64, fields StatField) {
	r.add("stat %d %#x", id, uint32(fields))
}

func (r *noteRecorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notes
	r.notes = nil
	return out
}

// probeCall is one recorded Probe.
type probeCall struct {
	Path  string
	Cycle uint32
}

// fakeProber records probes and publishes devices registered for a path.
type fakeProber struct {
	fs *FS

	mu      sync.Mutex
	calls   []probeCall
	publish map[string][]string
	rescans []string
}

func (p *fakeProber) Probe(_ context.Context, path string, cycle uint32) error {
	p.mu.Lock()
	p.calls = append(p.calls, probeCall{path, cycle})
	paths := p.publish[path]
	delete(p.publish, path)
	p.mu.Unlock()

	for _, dp := range paths {
		if err := p.fs.PublishDevice(dp, newMemDevice(1024)); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProber) Rescan(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name != "known" {
		return ErrNotFound
	}
	p.rescans = append(p.rescans, name)
	return nil
}

func (p *fakeProber) probes() []probeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]probeCall(nil), p.calls...)
}

func publish(t *testing.T, f *FS, path string, d device.Device) {
	t.Helper()
	require.NoError(t, f.PublishDevice(path, d))
}

func open(t *testing.T, f *FS, path string) *File {
	t.Helper()
	fl, err := f.Open(context.Background(), path, 0)
	require.NoError(t, err)
	return fl
}

func names(entries []DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
