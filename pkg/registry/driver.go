package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
	"github.com/haiku/devmgr/pkg/module"
)

// register runs the registration sequence of a node that was just linked
// into the tree. On error the caller discards the node.
func (r *Registry) register(ctx context.Context, n *Node) error {
	if err := r.initDriver(ctx, n); err != nil {
		return err
	}
	if n.flags&KeepDriverLoaded != 0 {
		// held until the node is removed
		if err := r.initDriver(ctx, n); err != nil {
			r.uninitDriver(ctx, n)
			return err
		}
	}
	n.flags |= flagRegisterInitialized

	fixed, err := r.registerFixed(ctx, n)
	if err != nil {
		return err
	}

	if reg, ok := n.driver.(module.ChildRegistrar); ok {
		if err := reg.RegisterChildDevices(ctx, n.cookie); err != nil {
			return fmt.Errorf("register child devices of %s: %w", n.module, err)
		}
		if len(n.children) > 0 {
			return nil
		}
	}

	// nodes with fixed children get no dynamic ones
	if fixed > 0 {
		return nil
	}

	r.registerDynamic(ctx, n, nil, false)
	return nil
}

// registerFixed asks every driver named by a "device/fixed child" attribute
// to register itself below n. A driver that cannot be loaded fails the
// registration; one that declines is not counted.
func (r *Registry) registerFixed(ctx context.Context, n *Node) (int, error) {
	count := 0
	for _, a := range n.Attrs() {
		if a.Name != attr.FixedChild || a.Type != attr.TypeString {
			continue
		}
		name := a.Str()
		drv, err := r.modules.GetDriver(name)
		if err != nil {
			return count, fmt.Errorf("fixed child of %s: %w", n.module, err)
		}
		err = drv.RegisterDevice(ctx, n)
		_ = r.modules.Put(name)
		if err != nil {
			r.debugLog("fixed child declined", "parent", n.module, "driver", name, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// discard undoes a failed registration of n.
func (r *Registry) discard(ctx context.Context, n *Node) {
	n.flags |= flagDeviceRemoved
	for _, c := range slices.Clone(n.children) {
		r.deviceRemoved(ctx, c)
	}
	if n.flags&flagRegisterInitialized != 0 {
		n.flags &^= flagRegisterInitialized
		if n.flags&KeepDriverLoaded != 0 {
			r.uninitDriver(ctx, n)
		}
		r.uninitDriver(ctx, n)
	}
	r.release(ctx, n)
}

// ancestry returns n followed by its ancestors up to the root.
func ancestry(n *Node) []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

// initDriver initializes the drivers of n and all its ancestors, root
// first. Each call must be balanced by uninitDriver. If any driver fails,
// the ones initialized by this call are uninitialized again and the error
// is returned.
func (r *Registry) initDriver(ctx context.Context, n *Node) error {
	chain := ancestry(n)
	for i := len(chain) - 1; i >= 0; i-- {
		if err := r.initOne(ctx, chain[i]); err != nil {
			if i+1 < len(chain) {
				r.uninitDriver(ctx, chain[i+1])
			}
			return err
		}
	}
	return nil
}

func (r *Registry) initOne(ctx context.Context, n *Node) error {
	if n.initCount > 0 {
		n.initCount++
		n.acquire()
		return nil
	}
	if n.isRemoved() {
		return fmt.Errorf("%w: %s was removed", device.ErrNoDevice, n.module)
	}

	drv, err := r.modules.GetDriver(n.module)
	if err != nil {
		return fmt.Errorf("load driver %s: %w", n.module, err)
	}

	var cookie any
	if in, ok := drv.(module.Initializer); ok {
		cookie, err = in.InitDriver(ctx, n)
		if err != nil {
			_ = r.modules.Put(n.module)
			return fmt.Errorf("init driver %s: %w", n.module, err)
		}
	}

	n.driver = drv
	n.cookie = cookie
	n.initCount = 1
	n.acquire()
	r.logState(n, log.StateEntityDriver, "uninitialized", "initialized", "")
	return nil
}

// uninitDriver drops one initialization of n and its ancestors. Drivers
// whose count reaches zero are uninitialized child first; obsolete nodes
// among them are removed afterwards. It reports whether n itself was
// uninitialized.
func (r *Registry) uninitDriver(ctx context.Context, n *Node) bool {
	chain := ancestry(n)
	var obsolete []*Node
	uninitialized := false

	for i, c := range chain {
		if c.initCount == 0 {
			panic(fmt.Sprintf("registry: uninit of uninitialized node %s", c.module))
		}
		c.initCount--
		if c.initCount > 0 {
			continue
		}
		if i == 0 {
			uninitialized = true
		}
		if in, ok := c.driver.(module.Initializer); ok {
			in.UninitDriver(ctx, c.cookie)
		}
		_ = r.modules.Put(c.module)
		c.driver = nil
		c.cookie = nil
		r.logState(c, log.StateEntityDriver, "initialized", "uninitialized", "")

		if c.flags&flagObsoleteDriver != 0 {
			obsolete = append(obsolete, c)
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		r.release(ctx, chain[i])
	}
	for _, o := range obsolete {
		r.retire(ctx, o)
	}
	return uninitialized
}

// uninitUnused drops the initialization kept by registration on every node
// below and including n, leaves first.
func (r *Registry) uninitUnused(ctx context.Context, n *Node) bool {
	uninitialized := false
	for _, c := range slices.Clone(n.children) {
		if r.uninitUnused(ctx, c) {
			uninitialized = true
		}
	}

	if !n.isInitialized() || n.flags&flagRegisterInitialized == 0 {
		return uninitialized
	}
	n.flags &^= flagRegisterInitialized
	return r.uninitDriver(ctx, n)
}

// retire removes a node whose driver was replaced and lets the waiting
// siblings be used.
func (r *Registry) retire(ctx context.Context, n *Node) {
	n.flags &^= flagObsoleteDriver
	if p := n.parent; p != nil {
		for _, c := range p.children {
			c.flags &^= flagWaitingForDriver
		}
	}
	r.logState(n, log.StateEntityNode, "registered", "obsolete", "driver replaced")
	r.deviceRemoved(ctx, n)
}

// deviceRemoved marks n and its descendants removed, children first, tells
// the published devices and the driver, and drops the tree's reference.
// It is a no-op for nodes already removed.
func (r *Registry) deviceRemoved(ctx context.Context, n *Node) {
	if n.isRemoved() {
		return
	}
	n.flags |= flagDeviceRemoved

	for _, c := range slices.Clone(n.children) {
		r.deviceRemoved(ctx, c)
	}
	for _, d := range slices.Clone(n.devices) {
		d.notifyRemoved()
	}

	if n.isInitialized() {
		if h, ok := n.driver.(module.RemovalHandler); ok {
			h.DeviceRemoved(ctx, n)
		}
		if n.flags&KeepDriverLoaded != 0 {
			r.uninitDriver(ctx, n)
		}
	}

	r.uninitUnused(ctx, n)
	r.logState(n, log.StateEntityNode, "registered", "removed", "")
	r.release(ctx, n)
}

// removeUnusedChildren removes every child whose driver is not
// initialized.
func (r *Registry) removeUnusedChildren(ctx context.Context, n *Node) {
	for _, c := range slices.Clone(n.children) {
		if !c.isInitialized() {
			r.deviceRemoved(ctx, c)
		}
	}
}

func (r *Registry) release(ctx context.Context, n *Node) {
	n.refs--
	if n.refs > 0 {
		return
	}
	if n.refs < 0 {
		panic(fmt.Sprintf("registry: node %s released too often", n.module))
	}
	r.destroy(ctx, n)
}

// destroy frees a node whose last reference was dropped.
func (r *Registry) destroy(ctx context.Context, n *Node) {
	if len(n.children) > 0 {
		panic(fmt.Sprintf("registry: destroying node %s with %d children", n.module, len(n.children)))
	}
	n.destroyed = true

	for _, d := range slices.Clone(n.devices) {
		r.unpublish(ctx, n, d)
	}
	for _, res := range r.arbiter.Owned(n) {
		r.logResource(n, res, false)
	}
	r.arbiter.ReleaseOwner(n)
	r.logState(n, log.StateEntityNode, "removed", "destroyed", "")

	if p := n.parent; p != nil {
		p.removeChild(n)
		r.release(ctx, p)
	} else if r.root == n {
		r.root = nil
	}
}
