package registry

import (
	"context"
	"slices"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/module"
	"github.com/haiku/devmgr/pkg/resource"
)

// Node is one entry of the device tree. All fields except id, module,
// registry and parent are guarded by the registry lock; attrs is also
// guarded by attrMu so that attribute reads need no tree lock.
type Node struct {
	r      *Registry
	id     uint32
	module string
	parent *Node

	attrs []attr.Attr

	children []*Node
	priority int
	flags    Flags
	refs     int

	// initCount counts driver initializations; driver and cookie are set
	// while it is above zero.
	initCount int
	driver    module.Driver
	cookie    any

	supportsParent  float32
	lastUpdateCycle uint32
	registered      bool
	destroyed       bool

	devices []*Device
}

// ID returns the registry-unique node number.
func (n *Node) ID() uint32 { return n.id }

// ModuleName returns the driver module bound to the node.
func (n *Node) ModuleName() string { return n.module }

// Parent returns the parent node without taking a reference. Use
// Registry.GetParent outside of driver callbacks.
func (n *Node) Parent() module.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Attrs returns a copy of the node's attributes.
func (n *Node) Attrs() []attr.Attr {
	n.r.attrMu.RLock()
	defer n.r.attrMu.RUnlock()
	return attr.CloneAll(n.attrs)
}

// NextAttr returns the attribute at *cursor and advances the cursor.
func (n *Node) NextAttr(cursor *int) (attr.Attr, bool) {
	n.r.attrMu.RLock()
	defer n.r.attrMu.RUnlock()

	if *cursor < 0 || *cursor >= len(n.attrs) {
		return attr.Attr{}, false
	}
	a := n.attrs[*cursor].Clone()
	*cursor++
	return a, true
}

// find looks name up with the given type, walking up to the root when
// recursive is set.
func (n *Node) find(name string, typ attr.DataType, recursive bool) (attr.Attr, bool) {
	n.r.attrMu.RLock()
	defer n.r.attrMu.RUnlock()

	for cur := n; cur != nil; cur = cur.parent {
		if a, ok := attr.Find(cur.attrs, name, typ); ok {
			return a, true
		}
		if !recursive {
			break
		}
	}
	return attr.Attr{}, false
}

func (n *Node) Uint8(name string, recursive bool) (uint8, bool) {
	a, ok := n.find(name, attr.TypeUint8, recursive)
	return uint8(a.Uint()), ok
}

func (n *Node) Uint16(name string, recursive bool) (uint16, bool) {
	a, ok := n.find(name, attr.TypeUint16, recursive)
	return uint16(a.Uint()), ok
}

func (n *Node) Uint32(name string, recursive bool) (uint32, bool) {
	a, ok := n.find(name, attr.TypeUint32, recursive)
	return uint32(a.Uint()), ok
}

func (n *Node) Uint64(name string, recursive bool) (uint64, bool) {
	a, ok := n.find(name, attr.TypeUint64, recursive)
	return a.Uint(), ok
}

func (n *Node) String(name string, recursive bool) (string, bool) {
	a, ok := n.find(name, attr.TypeString, recursive)
	return a.Str(), ok
}

func (n *Node) Raw(name string, recursive bool) ([]byte, bool) {
	a, ok := n.find(name, attr.TypeRaw, recursive)
	return a.Bytes(), ok
}

// DriverCookie returns what the driver's InitDriver returned.
func (n *Node) DriverCookie() any { return n.cookie }

// Flags returns the node's flags.
func (n *Node) Flags() Flags { return n.flags }

// RegisterChild registers a node below n. See Registry.RegisterNode.
func (n *Node) RegisterChild(ctx context.Context, moduleName string, attrs []attr.Attr, rs []resource.Resource) (module.Node, error) {
	child, err := n.r.RegisterNode(ctx, n, moduleName, attrs, rs)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// PublishDevice publishes a device of n. See Registry.PublishDevice.
func (n *Node) PublishDevice(ctx context.Context, path, deviceModule string) error {
	return n.r.PublishDevice(ctx, n, path, deviceModule)
}

// UnpublishDevice removes a device published by n.
func (n *Node) UnpublishDevice(ctx context.Context, path string) error {
	return n.r.UnpublishDevice(ctx, n, path)
}

func (n *Node) isInitialized() bool { return n.initCount > 0 }

func (n *Node) isRemoved() bool { return n.flags&flagDeviceRemoved != 0 }

func (n *Node) isProbed() bool { return n.lastUpdateCycle != 0 }

// addChild links child into n's children ordered by descending priority.
// Equal priorities keep insertion order.
func (n *Node) addChild(child *Node) {
	i := slices.IndexFunc(n.children, func(c *Node) bool {
		return c.priority < child.priority
	})
	if i < 0 {
		n.children = append(n.children, child)
	} else {
		n.children = slices.Insert(n.children, i, child)
	}
	n.acquire()
}

func (n *Node) removeChild(child *Node) {
	n.children = slices.DeleteFunc(n.children, func(c *Node) bool { return c == child })
}

// findChildByModule returns the first child bound to moduleName.
func (n *Node) findChildByModule(moduleName string) *Node {
	for _, c := range n.children {
		if c.module == moduleName && !c.isRemoved() {
			return c
		}
	}
	return nil
}

// findDuplicate returns a child whose attributes match attrs. An empty
// attribute list only matches a child without attributes.
func (n *Node) findDuplicate(attrs []attr.Attr) *Node {
	n.r.attrMu.RLock()
	defer n.r.attrMu.RUnlock()

	for _, c := range n.children {
		if c.isRemoved() {
			continue
		}
		if len(attrs) == 0 {
			if len(c.attrs) == 0 {
				return c
			}
			continue
		}
		if attr.Match(c.attrs, attrs) {
			return c
		}
	}
	return nil
}

func (n *Node) acquire() { n.refs++ }

var _ module.Node = (*Node)(nil)
