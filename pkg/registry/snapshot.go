package registry

import (
	"context"
	"fmt"

	"github.com/haiku/devmgr/pkg/attr"
)

// NodeInfo is a point-in-time copy of a node and its subtree.
type NodeInfo struct {
	ID        uint32
	Module    string
	Attrs     []attr.Attr
	Flags     Flags
	Refs      int
	InitCount int
	Devices   []string
	Children  []NodeInfo
}

// Snapshot copies the whole tree.
func (r *Registry) Snapshot(ctx context.Context) (NodeInfo, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if r.root == nil {
		return NodeInfo{}, ErrNotInitialized
	}
	return snapshot(r.root), nil
}

func snapshot(n *Node) NodeInfo {
	info := NodeInfo{
		ID:        n.id,
		Module:    n.module,
		Attrs:     n.Attrs(),
		Flags:     n.flags,
		Refs:      n.refs,
		InitCount: n.initCount,
	}
	for _, d := range n.devices {
		info.Devices = append(info.Devices, d.path)
	}
	for _, c := range n.children {
		info.Children = append(info.Children, snapshot(c))
	}
	return info
}

// NodeByID returns the node with the given ID with a reference the caller
// must Put.
func (r *Registry) NodeByID(ctx context.Context, id uint32) (*Node, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if r.root == nil {
		return nil, ErrNotInitialized
	}
	if n := findByID(r.root, id); n != nil && !n.destroyed {
		n.acquire()
		return n, nil
	}
	return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
}

func findByID(n *Node, id uint32) *Node {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
