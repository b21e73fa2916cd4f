package legacy

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/device"
)

var locations = []string{"/user", "/common", "/system"}

// fakePublisher records the devices it holds, standing in for devfs.
type fakePublisher struct {
	mu      sync.Mutex
	devices map[string]device.Device
	history []string
	fail    map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{devices: make(map[string]device.Device), fail: make(map[string]error)}
}

func (p *fakePublisher) PublishDevice(path string, d device.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[path]; err != nil {
		return err
	}
	if _, ok := p.devices[path]; ok {
		return fmt.Errorf("%s already published", path)
	}
	p.devices[path] = d
	p.history = append(p.history, "+"+path)
	return nil
}

func (p *fakePublisher) UnpublishDevice(d device.Device, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, held := range p.devices {
		if held == d {
			delete(p.devices, path)
			p.history = append(p.history, "-"+path)
			d.Removed()
			return nil
		}
	}
	return errors.New("not published")
}

func (p *fakePublisher) get(path string) device.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[path]
}

func (p *fakePublisher) paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for path := range p.devices {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// script is a scripted driver image. Every load of the image records its
// hook calls into the shared call list.
type script struct {
	mu      sync.Mutex
	calls   []string
	paths   []string
	version int32
	hwErr   error
	initErr error
	noHW    bool
}

func newScript(paths ...string) *script {
	return &script{paths: paths, version: CurrentVersion}
}

func (s *script) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *script) took() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

func (s *script) setPaths(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = paths
}

func (s *script) image() Image {
	img := StaticImage{
		SymbolVersion: s.version,
		SymbolInitDriver: func() error {
			s.record("init driver")
			return s.initErr
		},
		SymbolUninitDriver: func() { s.record("uninit driver") },
		SymbolPublishDevices: func() []string {
			s.mu.Lock()
			defer s.mu.Unlock()
			return slices.Clone(s.paths)
		},
		SymbolFindDevice: func(name string) *Hooks {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !slices.Contains(s.paths, name) {
				return nil
			}
			return &Hooks{
				Open: func(name string, _ int) (any, error) { return name, nil },
				Read: func(cookie any, _ int64, buf []byte) (int, error) {
					return copy(buf, cookie.(string)), nil
				},
				Select: func(any, uint8, device.SelectSync) error { return nil },
			}
		},
	}
	if !s.noHW {
		img[SymbolInitHardware] = func() error {
			s.record("init hardware")
			return s.hwErr
		}
		img[SymbolUninitHardware] = func() { s.record("uninit hardware") }
	}
	return img
}

type fixture struct {
	fs        afero.Fs
	loader    *StaticLoader
	publisher *fakePublisher
	mgr       *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:        afero.NewMemMapFs(),
		loader:    NewStaticLoader(),
		publisher: newFakePublisher(),
	}
	mgr, err := NewManager(Options{
		Loader:    f.loader,
		Publisher: f.publisher,
		Fs:        f.fs,
		Locations: locations,
	})
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// install writes a driver file and registers its image.
func (f *fixture) install(t *testing.T, path string, s *script) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte("image"), 0o644))
	f.loader.Add(path, s.image)
}

// touch moves the modification time of path forward.
func (f *fixture) touch(t *testing.T, path string) {
	t.Helper()
	info, err := f.fs.Stat(path)
	require.NoError(t, err)
	mtime := info.ModTime().Add(time.Second)
	require.NoError(t, f.fs.Chtimes(path, mtime, mtime))
}

func (f *fixture) info(t *testing.T, name string) DriverInfo {
	t.Helper()
	for _, info := range f.mgr.Drivers() {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("driver %s not found", name)
	return DriverInfo{}
}
