package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
)

// Manager errors.
var (
	ErrNotFound       = errors.New("legacy driver not found")
	ErrNoPublisher    = errors.New("no device publisher")
	ErrAlreadyStarted = errors.New("manager already started")
)

// DefaultSweepInterval is the reload sweep interval used when Options
// leaves it zero.
const DefaultSweepInterval = time.Second

// Options configures a Manager.
type Options struct {
	// Loader loads driver images. Required.
	Loader Loader

	// Publisher receives the devices of loaded drivers. It can be set
	// later with SetPublisher.
	Publisher device.Publisher

	// Fs is the file system holding the driver files. Defaults to the OS
	// file system.
	Fs afero.Fs

	// Locations are the install locations in descending priority, usually
	// user, common and system. Files outside every location get the lowest
	// priority.
	Locations []string

	// SweepInterval is the period of the reload sweep.
	SweepInterval time.Duration

	// Watch enables the fsnotify watcher on Start. It only works with
	// an OS file system.
	Watch bool

	// Logger is an optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// EventLog receives structured events. If nil, none are written.
	EventLog log.Logger

	// Session tags the events.
	Session string
}

// driver is the record of one image leaf name. Records are never deleted;
// they keep their policy state while unloaded.
type driver struct {
	name     string
	path     string
	priority int
	modTime  time.Time

	image   Image
	exports *Exports

	used    int
	devices []*Device
	dirty   bool
}

func (d *driver) loaded() bool { return d.image != nil }

// DriverInfo describes a record for inspection.
type DriverInfo struct {
	Name     string
	Path     string
	Priority int
	Loaded   bool
	Version  int32
	Used     int
	Dirty    bool
	Devices  []string
}

// Manager owns the legacy driver records.
type Manager struct {
	loader    Loader
	fs        afero.Fs
	locations []string
	interval  time.Duration
	watch     bool
	logger    *slog.Logger
	eventLog  log.Logger
	session   string

	mu        sync.Mutex
	publisher device.Publisher
	drivers   map[string]*driver
	watcher   *fsnotify.Watcher
	watched   map[string]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// change queue, filled from notification context
	eventsMu   sync.Mutex
	events     []string
	watchPaths map[string]bool
	pending    atomic.Int32
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Loader == nil {
		return nil, errors.New("legacy: loader required")
	}
	m := &Manager{
		loader:     opts.Loader,
		publisher:  opts.Publisher,
		fs:         opts.Fs,
		interval:   opts.SweepInterval,
		watch:      opts.Watch,
		logger:     opts.Logger,
		eventLog:   opts.EventLog,
		session:    opts.Session,
		drivers:    make(map[string]*driver),
		watched:    make(map[string]bool),
		watchPaths: make(map[string]bool),
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.interval <= 0 {
		m.interval = DefaultSweepInterval
	}
	for _, loc := range opts.Locations {
		m.locations = append(m.locations, filepath.Clean(loc))
	}
	return m, nil
}

// SetPublisher sets the device publisher.
func (m *Manager) SetPublisher(p device.Publisher) {
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

// priorityOf returns the priority of the location holding path, -1 if
// none does.
func (m *Manager) priorityOf(path string) int {
	for i, loc := range m.locations {
		if path == loc || strings.HasPrefix(path, loc+string(filepath.Separator)) {
			return len(m.locations) - 1 - i
		}
	}
	return -1
}

// Add adds the driver at path. A known leaf name is only taken over by a
// path with higher priority.
func (m *Manager) Add(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(filepath.Clean(path))
}

func (m *Manager) addLocked(path string) error {
	info, err := m.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", device.ErrBadValue, path)
	}

	name := filepath.Base(path)
	priority := m.priorityOf(path)

	drv, ok := m.drivers[name]
	if !ok {
		drv = &driver{name: name, path: path, priority: priority, modTime: info.ModTime()}
		m.drivers[name] = drv
		m.watchLocked(drv)
		m.debugLog("legacy: new driver", "name", name, "path", path, "priority", priority)
		return m.load(drv)
	}

	if drv.path == path {
		if drv.loaded() || drv.used > 0 {
			return nil
		}
		return m.load(drv)
	}
	if priority <= drv.priority {
		m.debugLog("legacy: keeping driver", "name", name, "path", drv.path, "ignored", path)
		return nil
	}

	m.debugLog("legacy: driver replaced", "name", name, "old", drv.path, "new", path)
	drv.path = path
	drv.priority = priority
	m.watchLocked(drv)
	if !drv.loaded() {
		drv.modTime = info.ModTime()
		return m.load(drv)
	}
	if drv.used > 0 {
		drv.dirty = true
		return nil
	}
	return m.reload(drv, "replaced")
}

// AddDirectory adds every file below dir. Files that fail to load are
// skipped. A missing directory is not an error.
func (m *Manager) AddDirectory(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addDirectoryLocked(filepath.Clean(dir))
}

func (m *Manager) addDirectoryLocked(dir string) error {
	if _, err := m.fs.Stat(dir); err != nil {
		return nil
	}
	return afero.Walk(m.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			m.debugLog("legacy: walk failed", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if err := m.addLocked(path); err != nil {
			m.logError(filepath.Base(path), path, "add", err)
		}
		return nil
	})
}

// Probe adds the drivers of the devfs directory subpath from every
// install location. The update cycle is not used.
func (m *Manager) Probe(_ context.Context, subpath string, _ uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, loc := range m.locations {
		if err := m.addDirectoryLocked(filepath.Join(loc, "dev", subpath)); err != nil {
			return err
		}
	}
	return nil
}

// Rescan republishes the devices of the named driver, loading it first if
// needed.
func (m *Manager) Rescan(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv, ok := m.drivers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !drv.loaded() {
		return m.load(drv)
	}
	return m.republish(drv)
}

// Drivers returns the records sorted by name.
func (m *Manager) Drivers() []DriverInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DriverInfo, 0, len(m.drivers))
	for _, drv := range m.drivers {
		info := DriverInfo{
			Name:     drv.name,
			Path:     drv.path,
			Priority: drv.priority,
			Loaded:   drv.loaded(),
			Used:     drv.used,
			Dirty:    drv.dirty,
		}
		if drv.exports != nil {
			info.Version = drv.exports.Version
		}
		for _, d := range drv.devices {
			info.Devices = append(info.Devices, d.path)
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b DriverInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// load loads the image and runs its init hooks. On failure everything
// done so far is undone in reverse.
func (m *Manager) load(drv *driver) error {
	img, err := m.loader.Load(drv.path)
	if err != nil {
		m.logError(drv.name, drv.path, "load", err)
		return fmt.Errorf("load %s: %w", drv.path, err)
	}
	exports, err := Resolve(img)
	if err != nil {
		_ = img.Close()
		m.logError(drv.name, drv.path, "resolve", err)
		return fmt.Errorf("load %s: %w", drv.path, err)
	}

	if exports.InitHardware != nil {
		if err := exports.InitHardware(); err != nil {
			_ = img.Close()
			m.logError(drv.name, drv.path, "init hardware", err)
			return fmt.Errorf("init hardware %s: %w", drv.name, err)
		}
	}
	if exports.InitDriver != nil {
		if err := exports.InitDriver(); err != nil {
			if exports.InitHardware != nil && exports.UninitHardware != nil {
				exports.UninitHardware()
			}
			_ = img.Close()
			m.logError(drv.name, drv.path, "init driver", err)
			return fmt.Errorf("init driver %s: %w", drv.name, err)
		}
	}

	drv.image = img
	drv.exports = exports
	m.logState(drv, "unloaded", "loaded", "")
	return m.republish(drv)
}

// unload runs the uninit hooks and drops the image. Published devices
// stay; the next republish refreshes their hooks.
func (m *Manager) unload(drv *driver, reason string) {
	if !drv.loaded() {
		return
	}
	if drv.exports.UninitDriver != nil {
		drv.exports.UninitDriver()
	}
	if drv.exports.UninitHardware != nil {
		drv.exports.UninitHardware()
	}
	if err := drv.image.Close(); err != nil {
		m.debugLog("legacy: closing image failed", "name", drv.name, "error", err)
	}
	drv.image = nil
	drv.exports = nil
	m.logState(drv, "loaded", "unloaded", reason)
}

// reload unloads the image and loads the current backing file.
func (m *Manager) reload(drv *driver, reason string) error {
	m.unload(drv, reason)
	if info, err := m.fs.Stat(drv.path); err == nil {
		drv.modTime = info.ModTime()
	}
	drv.dirty = false
	return m.load(drv)
}

// republish brings the published devices in line with the paths the
// driver advertises. A driver without devices and without open devices
// is unloaded.
func (m *Manager) republish(drv *driver) error {
	if !drv.loaded() {
		return nil
	}
	if m.publisher == nil {
		return ErrNoPublisher
	}

	advertised := drv.exports.PublishDevices()
	want := make(map[string]bool, len(advertised))
	for _, p := range advertised {
		want[p] = true
	}

	kept := drv.devices[:0]
	for _, d := range drv.devices {
		if want[d.path] {
			if hooks := drv.exports.FindDevice(d.path); hooks != nil {
				d.bind(hooks, drv.exports.Version)
				kept = append(kept, d)
				delete(want, d.path)
				continue
			}
		}
		m.unpublish(drv, d)
	}
	drv.devices = kept

	for _, p := range advertised {
		if !want[p] {
			continue
		}
		delete(want, p)
		hooks := drv.exports.FindDevice(p)
		if hooks == nil {
			m.debugLog("legacy: driver has no hooks for path", "name", drv.name, "path", p)
			continue
		}
		d := newDevice(m, drv, p)
		d.bind(hooks, drv.exports.Version)
		if err := m.publisher.PublishDevice(p, d); err != nil {
			m.logError(drv.name, p, "publish", err)
			continue
		}
		drv.devices = append(drv.devices, d)
		m.logPublish(drv, p, true)
	}

	if len(drv.devices) == 0 && drv.used == 0 {
		m.unload(drv, "no devices")
	}
	return nil
}

func (m *Manager) unpublish(drv *driver, d *Device) {
	d.published = false
	if err := m.publisher.UnpublishDevice(d, true); err != nil {
		m.logError(drv.name, d.path, "unpublish", err)
		return
	}
	m.logPublish(drv, d.path, false)
}

// Close stops the background work, unpublishes every device and unloads
// every driver.
func (m *Manager) Close() {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, drv := range m.drivers {
		if m.publisher != nil {
			for _, d := range drv.devices {
				m.unpublish(drv, d)
			}
		}
		drv.devices = nil
		m.unload(drv, "shutdown")
	}
}

// debugLog logs a debug message if logging is enabled.
func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Manager) logEvent(e log.Event) {
	if m.eventLog == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Session = m.session
	e.Layer = log.LayerLegacy
	m.eventLog.Log(e)
}

func (m *Manager) logState(drv *driver, oldState, newState, reason string) {
	m.debugLog("legacy: image "+newState, "name", drv.name, "reason", reason)
	m.logEvent(log.Event{
		Category: log.CategoryState,
		Module:   drv.name,
		Path:     drv.path,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityImage,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (m *Manager) logPublish(drv *driver, path string, published bool) {
	m.logEvent(log.Event{
		Category: log.CategoryPublish,
		Module:   drv.name,
		Path:     path,
		Publish:  &log.PublishEvent{Published: published},
	})
}

func (m *Manager) logError(name, path, op string, err error) {
	m.debugLog("legacy operation failed", "name", name, "path", path, "op", op, "error", err)
	m.logEvent(log.Event{
		Category: log.CategoryError,
		Module:   name,
		Path:     path,
		Error: &log.ErrorEventData{
			Layer:   log.LayerLegacy,
			Message: err.Error(),
			Context: op,
		},
	})
}
