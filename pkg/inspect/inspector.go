package inspect

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/legacy"
	"github.com/haiku/devmgr/pkg/registry"
)

// Inspector errors.
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrUnavailable  = errors.New("component not configured")
)

// Inspector gives read access to the registry, devfs and the legacy layer.
// Any of them may be nil.
type Inspector struct {
	reg    *registry.Registry
	fs     *devfs.FS
	legacy *legacy.Manager
}

// NewInspector creates a new Inspector.
func NewInspector(reg *registry.Registry, fs *devfs.FS, lm *legacy.Manager) *Inspector {
	return &Inspector{reg: reg, fs: fs, legacy: lm}
}

// Tree returns a snapshot of the whole node tree.
func (i *Inspector) Tree(ctx context.Context) (registry.NodeInfo, error) {
	if i.reg == nil {
		return registry.NodeInfo{}, fmt.Errorf("%w: registry", ErrUnavailable)
	}
	return i.reg.Snapshot(ctx)
}

// Node returns the snapshot of the node with the given ID.
func (i *Inspector) Node(ctx context.Context, id uint32) (registry.NodeInfo, error) {
	tree, err := i.Tree(ctx)
	if err != nil {
		return registry.NodeInfo{}, err
	}
	if n, ok := findNode(tree, id); ok {
		return n, nil
	}
	return registry.NodeInfo{}, fmt.Errorf("%w: #%d", ErrNodeNotFound, id)
}

func findNode(n registry.NodeInfo, id uint32) (registry.NodeInfo, bool) {
	if n.ID == id {
		return n, true
	}
	for _, c := range n.Children {
		if found, ok := findNode(c, id); ok {
			return found, true
		}
	}
	return registry.NodeInfo{}, false
}

// Find returns every node, in tree order, whose attributes match want.
func (i *Inspector) Find(ctx context.Context, want []attr.Attr) ([]registry.NodeInfo, error) {
	tree, err := i.Tree(ctx)
	if err != nil {
		return nil, err
	}
	var out []registry.NodeInfo
	var walk func(n registry.NodeInfo)
	walk = func(n registry.NodeInfo) {
		if attr.Match(n.Attrs, want) {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree)
	return out, nil
}

// EntryInfo is a devfs directory entry with its stat.
type EntryInfo struct {
	Path string
	devfs.Stat
}

// Entries lists the devfs directory at dir. Listing a directory runs the
// driver probes for it.
func (i *Inspector) Entries(ctx context.Context, dir string) ([]EntryInfo, error) {
	if i.fs == nil {
		return nil, fmt.Errorf("%w: devfs", ErrUnavailable)
	}
	entries, err := i.fs.ReadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		p := path.Join(dir, e.Name)
		st, err := i.fs.Stat(ctx, p)
		if err != nil {
			// removed since ReadDir
			continue
		}
		out = append(out, EntryInfo{Path: p, Stat: st})
	}
	return out, nil
}

// Walk calls fn for every entry below dir, depth first, with the depth
// relative to dir.
func (i *Inspector) Walk(ctx context.Context, dir string, fn func(depth int, e EntryInfo) error) error {
	return i.walk(ctx, dir, 0, fn)
}

func (i *Inspector) walk(ctx context.Context, dir string, depth int, fn func(int, EntryInfo) error) error {
	entries, err := i.Entries(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(depth, e); err != nil {
			return err
		}
		if e.IsDir() {
			if err := i.walk(ctx, e.Path, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Drivers returns the legacy driver records, or nil without a legacy layer.
func (i *Inspector) Drivers() []legacy.DriverInfo {
	if i.legacy == nil {
		return nil
	}
	return i.legacy.Drivers()
}
