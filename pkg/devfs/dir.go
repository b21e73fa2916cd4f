package devfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/haiku/devmgr/pkg/device"
)

// Stat describes a vnode.
type Stat struct {
	ID         uint64
	Name       string
	Mode       fs.FileMode
	UID        uint32
	GID        uint32
	Size       int64
	ModTime    time.Time
	CreateTime time.Time

	// Target is the link target of a symlink.
	Target string
}

// IsDir reports whether the entry is a directory.
func (s Stat) IsDir() bool { return s.Mode.IsDir() }

// IsDevice reports whether the entry is a device or partition.
func (s Stat) IsDevice() bool { return s.Mode&fs.ModeDevice != 0 }

// DirEntry is one directory listing entry.
type DirEntry struct {
	Name string
	ID   uint64
	Mode fs.FileMode
}

// writableMode are the mode bits WriteStat may change.
const writableMode = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

func (f *FS) statLocked(v *vnode) Stat {
	st := Stat{
		ID:         v.id,
		Name:       v.name,
		Mode:       v.mode(),
		UID:        v.uid,
		GID:        v.gid,
		ModTime:    v.modTime,
		CreateTime: v.createTime,
	}
	switch v.kind {
	case kindSymlink:
		st.Target = v.link.target
		st.Size = int64(len(v.link.target))
	case kindDevice:
		if v.dev.part != nil {
			st.Size = v.dev.part.size
		}
		if st.Size != 0 {
			st.Mode = blockMode(st.Mode)
		}
	}
	return st
}

// blockMode turns a character device mode into a block device mode.
func blockMode(m fs.FileMode) fs.FileMode {
	return m &^ fs.ModeCharDevice
}

func (f *FS) scanModeNow() scanMode {
	if f.bootReady != nil && f.bootReady() {
		return scanPostBoot
	}
	return scanPreBoot
}

// scan asks the probers to fill dir, once per scan mode.
func (f *FS) scan(ctx context.Context, dir *vnode) {
	if len(f.probers) == 0 {
		return
	}
	mode := f.scanModeNow()

	d := dir.dir
	d.scanMu.Lock()
	defer d.scanMu.Unlock()
	if d.scanned >= mode {
		return
	}

	f.mu.Lock()
	path := f.pathOfLocked(dir)
	f.mu.Unlock()

	cycle := f.cycle.Add(1)
	f.debugLog("scanning for drivers", "path", path, "cycle", cycle)
	for _, p := range f.probers {
		if err := p.Probe(ctx, path, cycle); err != nil {
			f.logError(path, "probe", err)
		}
	}
	d.scanned = mode
}

// child scans dir if needed and returns its entry called name.
func (f *FS) child(ctx context.Context, dir *vnode, name string) (*vnode, error) {
	if !dir.isDir() {
		return nil, ErrNotDir
	}
	f.scan(ctx, dir)

	f.mu.Lock()
	c := dir.dir.find(name)
	f.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// resolve walks path from the root, scanning every directory on the way.
func (f *FS) resolve(ctx context.Context, path string) (*vnode, error) {
	v := f.root
	for _, part := range splitLookupPath(path) {
		c, err := f.child(ctx, v, part)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", path, err)
		}
		v = c
	}
	return v, nil
}

// Lookup returns the entry called name in the directory at dir.
func (f *FS) Lookup(ctx context.Context, dir, name string) (Stat, error) {
	d, err := f.resolve(ctx, dir)
	if err != nil {
		return Stat{}, err
	}

	var v *vnode
	switch name {
	case ".":
		v = d
	case "..":
		v = d
		if d.parent != nil {
			v = d.parent
		}
	default:
		if v, err = f.child(ctx, d, name); err != nil {
			return Stat{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statLocked(v), nil
}

// Stat returns the stat of the entry at path.
func (f *FS) Stat(ctx context.Context, path string) (Stat, error) {
	v, err := f.resolve(ctx, path)
	if err != nil {
		return Stat{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statLocked(v), nil
}

// WriteStat updates the fields of path selected by mask. Sizes cannot be
// changed; mode changes keep the file type.
func (f *FS) WriteStat(ctx context.Context, path string, st Stat, mask StatField) error {
	if mask&StatSize != 0 {
		return fmt.Errorf("%w: size is immutable", device.ErrBadValue)
	}
	v, err := f.resolve(ctx, path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if mask&StatMode != 0 {
		v.perm = st.Mode & writableMode
	}
	if mask&StatUID != 0 {
		v.uid = st.UID
	}
	if mask&StatGID != 0 {
		v.gid = st.GID
	}
	if mask&StatModTime != 0 {
		v.modTime = st.ModTime
	}
	if mask&StatCreateTime != 0 {
		v.createTime = st.CreateTime
	}
	f.mu.Unlock()

	f.flush(notes{{op: noteStat, id: v.id, fields: mask}})
	return nil
}

// ReadDir lists the directory at path in name order. Unlike a Dir cursor
// it leaves out "." and "..".
func (f *FS) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	v, err := f.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !v.isDir() {
		return nil, ErrNotDir
	}
	f.scan(ctx, v)

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DirEntry, 0, len(v.dir.children))
	for _, c := range v.dir.children {
		out = append(out, f.entryLocked(c.name, c))
	}
	return out, nil
}

func (f *FS) entryLocked(name string, v *vnode) DirEntry {
	return DirEntry{Name: name, ID: v.id, Mode: f.statLocked(v).Mode.Type()}
}

// Mkdir creates a directory. Its parent must exist.
func (f *FS) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}
	dirPath, name := "", parts[len(parts)-1]
	if len(parts) > 1 {
		dirPath = path[:len(path)-len(name)-1]
	}
	dir, err := f.resolve(ctx, dirPath)
	if err != nil {
		return err
	}
	if !dir.isDir() {
		return ErrNotDir
	}
	f.scan(ctx, dir)

	var n notes
	f.mu.Lock()
	if dir.dir.find(name) != nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	v := f.newVnode(name, dir, kindDir, perm&writableMode)
	f.linkLocked(dir, v, &n)
	f.mu.Unlock()
	f.flush(n)
	return nil
}

// ReadLink returns the target of the symlink at path.
func (f *FS) ReadLink(ctx context.Context, path string) (string, error) {
	v, err := f.resolve(ctx, path)
	if err != nil {
		return "", err
	}
	if v.kind != kindSymlink {
		return "", fmt.Errorf("%w: %s is not a symlink", device.ErrBadValue, path)
	}
	return v.link.target, nil
}

type iterState uint8

const (
	iterDot iterState = iota
	iterDotDot
	iterEntries
)

// Dir is an open directory cursor. Entries removed while it is open are
// skipped; the cursor moves on to the next name.
type Dir struct {
	fs      *FS
	v       *vnode
	state   iterState
	current *vnode
	closed  bool
}

// OpenDir opens a cursor over the directory at path.
func (f *FS) OpenDir(ctx context.Context, path string) (*Dir, error) {
	v, err := f.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !v.isDir() {
		return nil, ErrNotDir
	}
	f.scan(ctx, v)

	d := &Dir{fs: f, v: v}
	f.mu.Lock()
	v.dir.cursors[d] = struct{}{}
	f.mu.Unlock()
	return d, nil
}

// Next returns the next entry, starting with "." and "..". It returns
// io.EOF after the last one.
func (d *Dir) Next() (DirEntry, error) {
	f := d.fs
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.closed {
		return DirEntry{}, ErrClosed
	}

	switch d.state {
	case iterDot:
		d.state = iterDotDot
		return f.entryLocked(".", d.v), nil
	case iterDotDot:
		d.state = iterEntries
		d.current = d.v.dir.first()
		parent := d.v.parent
		if parent == nil {
			parent = d.v
		}
		return f.entryLocked("..", parent), nil
	}

	c := d.current
	if c == nil {
		return DirEntry{}, io.EOF
	}
	d.current = d.v.dir.next(c)
	return f.entryLocked(c.name, c), nil
}

// Rewind restarts the cursor.
func (d *Dir) Rewind() {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	d.state = iterDot
	d.current = nil
}

// Close releases the cursor.
func (d *Dir) Close() error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	delete(d.v.dir.cursors, d)
	return nil
}
