package devfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
)

// Devfs errors. Validation failures wrap device.ErrBadValue.
var (
	ErrNotFound    = errors.New("entry not found")
	ErrExists      = errors.New("file exists")
	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrNotDevice   = errors.New("not a device")
	ErrClosed      = errors.New("file already freed")
	ErrNoRescanner = errors.New("no prober can rescan drivers")
)

// Name is the file system name reported by GetInfo.
const Name = "devfs"

// Default permissions of new vnodes.
const (
	DirPerm     fs.FileMode = 0o755
	DevicePerm  fs.FileMode = 0o644
	SymlinkPerm fs.FileMode = 0o777
)

// Prober publishes the devices that belong under a directory. Update
// cycles start at 1 and increase with every scan.
type Prober interface {
	Probe(ctx context.Context, path string, updateCycle uint32) error
}

// Rescanner is implemented by probers that can reload a driver by name.
type Rescanner interface {
	Rescan(ctx context.Context, driverName string) error
}

// StatField selects the stat fields a change touched.
type StatField uint32

const (
	StatMode StatField = 1 << iota
	StatUID
	StatGID
	StatSize
	StatModTime
	StatCreateTime
)

// Notifier receives entry and stat change notifications. Calls are made
// after the tree lock has been released.
type Notifier interface {
	EntryCreated(dir uint64, name string, id uint64)
	EntryRemoved(dir uint64, name string, id uint64)
	EntryMoved(fromDir uint64, fromName string, toDir uint64, toName string, id uint64)
	StatChanged(id uint64, fields StatField)
}

// Options configures an FS.
type Options struct {
	// Probers fill directories on their first lookup.
	Probers []Prober

	// Notifier receives change notifications. Optional.
	Notifier Notifier

	// BootDeviceAvailable reports whether the boot device has been
	// mounted. Directories are scanned again once it returns true.
	BootDeviceAvailable func() bool

	// Logger is an optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// EventLog receives structured events. If nil, none are written.
	EventLog log.Logger

	// Session tags the events.
	Session string
}

// FS is a device file system instance.
type FS struct {
	mu       sync.Mutex
	root     *vnode
	lastID   uint64
	nodes    int
	byDevice map[device.Device]*vnode

	volumeID uuid.UUID
	mounted  time.Time

	probers   []Prober
	notifier  Notifier
	bootReady func() bool
	cycle     atomic.Uint32

	logger   *slog.Logger
	eventLog log.Logger
	session  string
}

var _ device.Publisher = (*FS)(nil)

// New creates an empty file system.
func New(opts Options) *FS {
	now := time.Now()
	f := &FS{
		byDevice:  make(map[device.Device]*vnode),
		volumeID:  uuid.New(),
		mounted:   now,
		probers:   opts.Probers,
		notifier:  opts.Notifier,
		bootReady: opts.BootDeviceAvailable,
		logger:    opts.Logger,
		eventLog:  opts.EventLog,
		session:   opts.Session,
	}
	f.root = f.newVnode("", nil, kindDir, DirPerm)
	return f
}

// VolumeInfo describes the file system.
type VolumeInfo struct {
	ID      uuid.UUID
	Name    string
	Nodes   int
	Devices int
	Mounted time.Time
}

// GetInfo returns volume information.
func (f *FS) GetInfo() VolumeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return VolumeInfo{
		ID:      f.volumeID,
		Name:    Name,
		Nodes:   f.nodes,
		Devices: len(f.byDevice),
		Mounted: f.mounted,
	}
}

// newVnode creates an unlinked vnode. Callers hold f.mu or own f
// exclusively.
func (f *FS) newVnode(name string, parent *vnode, k kind, perm fs.FileMode) *vnode {
	f.lastID++
	f.nodes++
	now := time.Now()
	v := &vnode{
		id:         f.lastID,
		name:       name,
		parent:     parent,
		kind:       k,
		perm:       perm,
		modTime:    now,
		createTime: now,
	}
	if parent != nil {
		v.gid = parent.gid
	}
	switch k {
	case kindDir:
		v.dir = &dirData{cursors: make(map[*Dir]struct{})}
	case kindSymlink:
		v.link = &linkData{}
	case kindDevice:
		v.dev = &devNode{}
	}
	return v
}

// splitPublishPath validates a path handed in by a publisher.
func splitPublishPath(p string) ([]string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", device.ErrBadValue)
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return nil, fmt.Errorf("%w: path %q", device.ErrBadValue, p)
		}
	}
	return parts, nil
}

// splitLookupPath cleans a path for lookups. The root is the empty slice.
func splitLookupPath(p string) []string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// pathOfLocked returns the path of v relative to the root.
func (f *FS) pathOfLocked(v *vnode) string {
	var parts []string
	for ; v != nil && v != f.root; v = v.parent {
		parts = append(parts, v.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// walkLocked resolves parts without scanning.
func (f *FS) walkLocked(parts []string) (*vnode, error) {
	v := f.root
	for _, part := range parts {
		if !v.isDir() {
			return nil, ErrNotDir
		}
		child := v.dir.find(part)
		if child == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(parts, "/"))
		}
		v = child
	}
	return v, nil
}

// linkLocked inserts child into dir and records the notifications.
func (f *FS) linkLocked(dir, child *vnode, n *notes) {
	dir.dir.insert(child)
	dir.modTime = time.Now()
	n.created(dir.id, child.name, child.id)
	n.stat(dir.id, StatModTime)
}

// unlinkLocked removes child from its directory.
func (f *FS) unlinkLocked(child *vnode, n *notes) {
	dir := child.parent
	dir.dir.remove(child)
	dir.modTime = time.Now()
	f.nodes--
	n.removed(dir.id, child.name, child.id)
	n.stat(dir.id, StatModTime)
}

// publishDirsLocked creates the missing directories of parts.
func (f *FS) publishDirsLocked(parts []string, n *notes) (*vnode, error) {
	dir := f.root
	for _, part := range parts {
		child := dir.dir.find(part)
		if child == nil {
			child = f.newVnode(part, dir, kindDir, DirPerm)
			f.linkLocked(dir, child, n)
		} else if !child.isDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrExists, f.pathOfLocked(child))
		}
		dir = child
	}
	return dir, nil
}

// newNodeLocked creates the parent directories of parts and an unlinked
// leaf.
func (f *FS) newNodeLocked(parts []string, k kind, perm fs.FileMode, n *notes) (*vnode, error) {
	dir, err := f.publishDirsLocked(parts[:len(parts)-1], n)
	if err != nil {
		return nil, err
	}
	leaf := parts[len(parts)-1]
	if dir.dir.find(leaf) != nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, strings.Join(parts, "/"))
	}
	return f.newVnode(leaf, dir, k, perm), nil
}

// PublishDevice makes d visible under path.
func (f *FS) PublishDevice(path string, d device.Device) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: nil device", device.ErrBadValue)
	}

	var n notes
	f.mu.Lock()
	if _, ok := f.byDevice[d]; ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: device already published", ErrExists)
	}
	v, err := f.newNodeLocked(parts, kindDevice, DevicePerm, &n)
	if err != nil {
		f.mu.Unlock()
		f.flush(n)
		return err
	}
	v.dev.state = &deviceState{dev: d}
	f.linkLocked(v.parent, v, &n)
	f.byDevice[d] = v
	f.mu.Unlock()
	f.flush(n)

	f.debugLog("device published", "path", path)
	f.logPublish(path, &log.PublishEvent{Published: true})
	return nil
}

// UnpublishDevice removes the vnode of d and every partition on it. With
// disconnect set, files still open on it fail further I/O.
func (f *FS) UnpublishDevice(d device.Device, disconnect bool) error {
	f.mu.Lock()
	v, ok := f.byDevice[d]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: device not published", ErrNotFound)
	}
	return f.unpublishLocked(v, disconnect)
}

// UnpublishDevicePath removes the device or partition at path.
func (f *FS) UnpublishDevicePath(path string, disconnect bool) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	v, err := f.walkLocked(parts)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if v.kind != kindDevice {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDevice, path)
	}
	return f.unpublishLocked(v, disconnect)
}

// unpublishLocked unlinks a device vnode and releases f.mu.
func (f *FS) unpublishLocked(v *vnode, disconnect bool) error {
	var n notes
	path := f.pathOfLocked(v)
	retired := f.removeDeviceLocked(v, disconnect, &n)
	f.mu.Unlock()
	f.flush(n)

	if retired != nil {
		retired.retire()
	}
	f.debugLog("device unpublished", "path", path, "disconnect", disconnect)
	f.logPublish(path, &log.PublishEvent{Published: false, Partition: v.dev.part != nil})
	return nil
}

// removeDeviceLocked unlinks v. For a raw device its partitions go too and
// the device state is returned for retiring once f.mu is released.
func (f *FS) removeDeviceLocked(v *vnode, disconnect bool, n *notes) *deviceState {
	v.dev.gone.Store(true)
	if disconnect {
		v.dev.disconnected.Store(true)
	}
	if v.dev.part != nil {
		f.unlinkLocked(v, n)
		return nil
	}

	var parts []*vnode
	for _, sibling := range v.parent.dir.children {
		if sibling.isPartition() && sibling.dev.part.raw == v {
			parts = append(parts, sibling)
		}
	}
	for _, p := range parts {
		f.removeDeviceLocked(p, disconnect, n)
	}
	f.unlinkLocked(v, n)
	delete(f.byDevice, v.dev.state.dev)
	return v.dev.state
}

// PublishFileDevice publishes a symlink at path pointing to a host file.
func (f *FS) PublishFileDevice(path, filePath string) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}
	if filePath == "" {
		return fmt.Errorf("%w: empty file path", device.ErrBadValue)
	}

	var n notes
	f.mu.Lock()
	v, err := f.newNodeLocked(parts, kindSymlink, SymlinkPerm, &n)
	if err == nil {
		v.link.target = filePath
		f.linkLocked(v.parent, v, &n)
	}
	f.mu.Unlock()
	f.flush(n)
	if err != nil {
		return err
	}

	f.logPublish(path, &log.PublishEvent{Published: true})
	return nil
}

// UnpublishFileDevice removes a symlink published by PublishFileDevice.
func (f *FS) UnpublishFileDevice(path string) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}

	var n notes
	f.mu.Lock()
	v, err := f.walkLocked(parts)
	if err == nil && v.kind != kindSymlink {
		err = fmt.Errorf("%w: %s is not a file device", device.ErrBadValue, path)
	}
	if err == nil {
		f.unlinkLocked(v, &n)
	}
	f.mu.Unlock()
	f.flush(n)
	if err != nil {
		return err
	}

	f.logPublish(path, &log.PublishEvent{Published: false})
	return nil
}

// PublishDirectory creates path and its missing parents. Existing
// directories are fine.
func (f *FS) PublishDirectory(path string) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}

	var n notes
	f.mu.Lock()
	_, err = f.publishDirsLocked(parts, &n)
	f.mu.Unlock()
	f.flush(n)
	return err
}

// Rescan asks the probers that can rescan drivers to reload driverName.
// It succeeds if any of them does.
func (f *FS) Rescan(ctx context.Context, driverName string) error {
	var errs []error
	for _, p := range f.probers {
		rs, ok := p.(Rescanner)
		if !ok {
			continue
		}
		err := rs.Rescan(ctx, driverName)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoRescanner
	}
	return fmt.Errorf("rescan %s: %w", driverName, errors.Join(errs...))
}

// Unmount unpublishes every device. Files still open keep working until
// they are freed, then the devices are told they were removed.
func (f *FS) Unmount() {
	f.mu.Lock()
	var n notes
	var retired []*deviceState
	for _, v := range f.byDevice {
		if s := f.removeDeviceLocked(v, false, &n); s != nil {
			retired = append(retired, s)
		}
	}
	f.mu.Unlock()
	f.flush(n)

	for _, s := range retired {
		s.retire()
	}
}

// debugLog logs a debug message if logging is enabled.
func (f *FS) debugLog(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *FS) logEvent(e log.Event) {
	if f.eventLog == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Session = f.session
	e.Layer = log.LayerDevfs
	f.eventLog.Log(e)
}

func (f *FS) logPublish(path string, p *log.PublishEvent) {
	f.logEvent(log.Event{
		Category: log.CategoryPublish,
		Path:     path,
		Publish:  p,
	})
}

func (f *FS) logError(path, op string, err error) {
	f.debugLog("devfs operation failed", "path", path, "op", op, "error", err)
	f.logEvent(log.Event{
		Category: log.CategoryError,
		Path:     path,
		Error: &log.ErrorEventData{
			Layer:   log.LayerDevfs,
			Message: err.Error(),
			Context: op,
		},
	})
}
