package devfs

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haiku/devmgr/pkg/device"
)

// kind is the variant of a vnode.
type kind uint8

const (
	kindDir kind = iota + 1
	kindDevice
	kindSymlink
)

// String returns the kind name.
func (k kind) String() string {
	switch k {
	case kindDir:
		return "dir"
	case kindDevice:
		return "device"
	case kindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// scanMode records how far a directory has been scanned for drivers.
type scanMode uint8

const (
	scanNone scanMode = iota
	scanPreBoot
	scanPostBoot
)

// vnode is one entry of the tree. Exactly one of dir, dev and link is set,
// matching kind. All fields except the payload internals are guarded by
// FS.mu.
type vnode struct {
	id     uint64
	name   string
	parent *vnode
	kind   kind

	perm       fs.FileMode
	uid, gid   uint32
	modTime    time.Time
	createTime time.Time

	dir  *dirData
	dev  *devNode
	link *linkData
}

type dirData struct {
	// children sorted by name
	children []*vnode
	cursors  map[*Dir]struct{}

	scanMu  sync.Mutex
	scanned scanMode // guarded by scanMu
}

type linkData struct {
	target string
}

// devNode is the device payload. Raw devices and their partitions share
// one deviceState.
type devNode struct {
	state *deviceState
	part  *partition

	gone         atomic.Bool
	disconnected atomic.Bool
}

type partition struct {
	raw    *vnode
	index  int32
	offset int64
	size   int64
}

// deviceState counts opens of one device. mu serializes InitDevice and
// UninitDevice; refs and the flags are read without any devfs lock held,
// so the registry can unpublish while an open is initializing the device.
type deviceState struct {
	dev device.Device

	mu    sync.Mutex
	opens int

	refs        atomic.Int32
	unpublished atomic.Bool
	removed     atomic.Bool

	// partitions handed out for this device, guarded by FS.mu
	nextPartition int32
}

// acquire takes an open reference, initializing the device on the first
// one.
func (s *deviceState) acquire(ctx context.Context) error {
	s.refs.Add(1)
	if s.unpublished.Load() {
		s.put()
		return device.ErrNoDevice
	}

	s.mu.Lock()
	if s.opens == 0 {
		if err := s.dev.InitDevice(ctx); err != nil {
			s.mu.Unlock()
			s.put()
			return err
		}
	}
	s.opens++
	s.mu.Unlock()
	return nil
}

// release drops an open reference, uninitializing the device with the last
// one.
func (s *deviceState) release(ctx context.Context) {
	s.mu.Lock()
	s.opens--
	if s.opens == 0 {
		s.dev.UninitDevice(ctx)
	}
	s.mu.Unlock()
	s.put()
}

func (s *deviceState) put() {
	if s.refs.Add(-1) == 0 && s.unpublished.Load() {
		s.notifyRemoved()
	}
}

// retire marks the device unpublished. Removed is called now if nothing
// holds it open, otherwise by the last release.
func (s *deviceState) retire() {
	s.unpublished.Store(true)
	if s.refs.Load() == 0 {
		s.notifyRemoved()
	}
}

func (s *deviceState) notifyRemoved() {
	if s.removed.CompareAndSwap(false, true) {
		s.dev.Removed()
	}
}

func (v *vnode) isDir() bool { return v.kind == kindDir }

func (v *vnode) isPartition() bool { return v.kind == kindDevice && v.dev.part != nil }

// mode returns the file mode including the type bits.
func (v *vnode) mode() fs.FileMode {
	switch v.kind {
	case kindDir:
		return fs.ModeDir | v.perm
	case kindSymlink:
		return fs.ModeSymlink | v.perm
	default:
		return fs.ModeDevice | fs.ModeCharDevice | v.perm
	}
}

// find returns the child called name.
func (d *dirData) find(name string) *vnode {
	i, ok := slices.BinarySearchFunc(d.children, name, func(c *vnode, name string) int {
		return strings.Compare(c.name, name)
	})
	if !ok {
		return nil
	}
	return d.children[i]
}

// insert links child into the sorted child list.
func (d *dirData) insert(child *vnode) {
	i, _ := slices.BinarySearchFunc(d.children, child.name, func(c *vnode, name string) int {
		return strings.Compare(c.name, name)
	})
	d.children = slices.Insert(d.children, i, child)
}

// remove unlinks child and moves every cursor pointing at it to the next
// entry.
func (d *dirData) remove(child *vnode) {
	i := slices.Index(d.children, child)
	if i < 0 {
		panic(fmt.Sprintf("devfs: vnode %q is not linked into its directory", child.name))
	}

	var next *vnode
	if i+1 < len(d.children) {
		next = d.children[i+1]
	}
	for c := range d.cursors {
		if c.current == child {
			c.current = next
		}
	}
	d.children = slices.Delete(d.children, i, i+1)
}

// next returns the entry following child in name order.
func (d *dirData) next(child *vnode) *vnode {
	i := slices.Index(d.children, child)
	if i < 0 || i+1 >= len(d.children) {
		return nil
	}
	return d.children[i+1]
}

func (d *dirData) first() *vnode {
	if len(d.children) == 0 {
		return nil
	}
	return d.children[0]
}
