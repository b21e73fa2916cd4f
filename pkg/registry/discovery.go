package registry

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/module"
)

// PCI class codes and subclasses that select driver search paths.
const (
	ClassMassStorage     = 0x01
	ClassNetwork         = 0x02
	ClassDisplay         = 0x03
	ClassMultimedia      = 0x04
	ClassBridge          = 0x06
	ClassBasePeripheral  = 0x08
	ClassSerialBus       = 0x0c
	ClassEncryption      = 0x10
	ClassDataAcquisition = 0x11

	SubSCSI = 0x00
	SubIDE  = 0x01
	SubSATA = 0x06
	SubNVM  = 0x08

	SubVideo   = 0x00
	SubAudio   = 0x01
	SubHDAudio = 0x03

	SubSDHost                = 0x05
	SubSystemPeripheralOther = 0x80

	SubFirewire = 0x00
	SubUSB      = 0x03

	SubEncryptionOther      = 0x80
	SubDataAcquisitionOther = 0x80
)

// binding describes the child driver a discovery run may replace.
type binding struct {
	node    *Node
	driver  string
	support float32
}

// searchPaths returns the module directories to look for child drivers
// of n, in evaluation order.
func (r *Registry) searchPaths(n *Node) []string {
	var stack []string
	push := func(parts ...string) { stack = append(stack, path.Join(parts...)) }

	typ, okType := n.Uint16(attr.Type, false)
	sub, okSub := n.Uint16(attr.SubType, false)
	generic := !okType || !okSub
	if generic {
		typ, sub = 0, 0
	}

	switch typ {
	case ClassMassStorage:
		switch sub {
		case SubSCSI:
			push("busses", "scsi")
			push("busses", "virtio")
		case SubIDE:
			push("busses", "ata")
			push("busses", "ide")
		case SubSATA:
			push("busses", "scsi")
			push("busses", "ata")
			push("busses", "ide")
		case SubNVM:
			push("drivers", "disk")
		default:
			push("busses")
		}
	case ClassSerialBus:
		switch sub {
		case SubFirewire:
			push("busses", "firewire")
		case SubUSB:
			push("busses", "usb")
		default:
			push("busses")
		}
	case ClassNetwork:
		push("drivers", "net")
		push("busses", "virtio")
	case ClassDisplay:
		push("drivers", "graphics")
		push("busses", "virtio")
	case ClassMultimedia:
		switch sub {
		case SubAudio, SubHDAudio:
			push("drivers", "audio")
			push("busses", "virtio")
		case SubVideo:
			push("drivers", "video")
		default:
			push("drivers")
		}
	case ClassBasePeripheral:
		switch sub {
		case SubSDHost:
			push("busses", "mmc")
		case SubSystemPeripheralOther:
			push("busses", "mmc")
			push("drivers")
		default:
			push("drivers")
		}
	case ClassEncryption:
		switch sub {
		case SubEncryptionOther:
			push("busses", "random")
		default:
			push("drivers")
		}
	case ClassDataAcquisition:
		switch sub {
		case SubDataAcquisitionOther:
			push("busses", "i2c")
		default:
			push("drivers")
		}
	default:
		switch {
		case n == r.root:
			push("busses", "pci")
			push("bus_managers")
		case !generic:
			push("drivers")
			push("busses", "virtio")
		default:
			// busses are only searched when devfs asked for a bus-like
			// directory
			switch r.genericContext {
			case "disk", "ports", "bus":
				push("busses")
			}
			if bus, ok := n.String(attr.Bus, false); ok && bus == "virtio" {
				push("busses", "scsi")
			}
			push("drivers", r.genericContext)
			push("busses", "i2c")
			push("busses", "random")
			push("busses", "virtio")
			push("bus_managers", "pci")
			push("busses", "pci")
			push("busses", "mmc")
		}
	}

	slices.Reverse(stack)
	return stack
}

// alwaysRegisterDynamic reports whether n is searched for children at
// registration even though it asked for on-demand discovery.
func alwaysRegisterDynamic(n *Node) bool {
	typ, _ := n.Uint16(attr.Type, false)
	return typ == ClassSerialBus || typ == ClassBridge || typ == ClassEncryption || typ == 0
}

// registerDynamic looks for child drivers of a bus node. Single-child
// nodes bind the driver with the strictly highest score, starting from the
// score of prev if there is one; the first driver found wins ties. Nodes
// with FindMultipleChildren bind every driver scoring above zero.
func (r *Registry) registerDynamic(ctx context.Context, n *Node, prev *binding, probing bool) {
	if _, ok := n.String(attr.Bus, false); !ok {
		return
	}
	if prev == nil && !probing && n.flags&FindChildOnDemand != 0 && !alwaysRegisterDynamic(n) {
		return
	}

	paths := r.searchPaths(n)
	r.debugLog("dynamic discovery", "node", n.module, "paths", paths, "probing", probing)

	if n.flags&FindMultipleChildren != 0 {
		r.registerAll(ctx, n, paths)
		return
	}

	var best, bestPath string
	var bestSupport float32
	if prev != nil {
		bestSupport = prev.support
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		for _, name := range r.modules.List(p, module.DriverSuffix) {
			if seen[name] || name == n.module || (prev != nil && name == prev.driver) {
				continue
			}
			seen[name] = true

			support, ok := r.score(ctx, n, name)
			if !ok {
				continue
			}
			r.logDriver(n, name, p, support, false)
			if support > bestSupport {
				best, bestPath, bestSupport = name, p, support
			}
		}
	}

	switch {
	case best != "":
		r.bind(ctx, n, best, bestPath, bestSupport, prev)
	case prev != nil && prev.node == nil:
		// nothing beats the driver that was removed; bring it back
		r.bind(ctx, n, prev.driver, "", prev.support, nil)
	}
}

func (r *Registry) registerAll(ctx context.Context, n *Node, paths []string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		for _, name := range r.modules.List(p, module.DriverSuffix) {
			if seen[name] || name == n.module {
				continue
			}
			seen[name] = true
			if n.findChildByModule(name) != nil {
				continue
			}

			drv, err := r.modules.GetDriver(name)
			if err != nil {
				continue
			}
			support := drv.SupportsDevice(ctx, n)
			selected := false
			if support > 0 {
				if err := drv.RegisterDevice(ctx, n); err != nil {
					r.debugLog("driver declined", "node", n.module, "driver", name, "error", err)
				} else {
					selected = true
				}
			}
			_ = r.modules.Put(name)
			r.logDriver(n, name, p, support, selected)
		}
	}
}

func (r *Registry) score(ctx context.Context, n *Node, name string) (float32, bool) {
	drv, err := r.modules.GetDriver(name)
	if err != nil {
		return 0, false
	}
	defer r.modules.Put(name)
	return drv.SupportsDevice(ctx, n), true
}

// bind lets driver register its node below n. A child replacing prev
// waits until prev's driver is no longer in use.
func (r *Registry) bind(ctx context.Context, n *Node, driver, searchPath string, support float32, prev *binding) {
	drv, err := r.modules.GetDriver(driver)
	if err != nil {
		return
	}
	defer r.modules.Put(driver)

	if err := drv.RegisterDevice(ctx, n); err != nil {
		r.debugLog("best driver declined", "node", n.module, "driver", driver, "error", err)
		return
	}
	r.logDriver(n, driver, searchPath, support, true)

	child := n.findChildByModule(driver)
	if child == nil {
		return
	}
	child.supportsParent = support
	child.flags |= flagDynamicChild

	if prev != nil && prev.node != nil && !prev.node.isRemoved() {
		prev.node.flags |= flagObsoleteDriver
		child.flags |= flagWaitingForDriver
		if !prev.node.isInitialized() {
			r.retire(ctx, prev.node)
		}
	}
}

// probeMatches reports whether an on-demand node of the given class
// serves the devfs directory devicePath.
func probeMatches(devicePath string, typ, sub uint16) bool {
	switch devicePath {
	case "disk":
		return typ == ClassMassStorage ||
			(typ == ClassBasePeripheral && (sub == SubSDHost || sub == SubSystemPeripheralOther))
	case "audio":
		return typ == ClassMultimedia && (sub == SubAudio || sub == SubHDAudio)
	case "net":
		return typ == ClassNetwork
	case "graphics":
		return typ == ClassDisplay
	case "video":
		return typ == ClassMultimedia && sub == SubVideo
	case "power":
		return typ == ClassDataAcquisition
	case "input":
		return typ == ClassDataAcquisition && sub == SubDataAcquisitionOther
	}
	return false
}

// Probe runs on-demand discovery for the devfs directory devicePath on
// every matching node not yet probed in updateCycle. Update cycles start
// at 1.
func (r *Registry) Probe(ctx context.Context, devicePath string, updateCycle uint32) error {
	if updateCycle == 0 {
		return fmt.Errorf("%w: update cycle 0", ErrBadValue)
	}

	ctx, unlock := r.lock(ctx)
	defer unlock()

	if r.root == nil {
		return ErrNotInitialized
	}
	return r.probeNode(ctx, r.root, devicePath, updateCycle)
}

func (r *Registry) probeNode(ctx context.Context, n *Node, devicePath string, updateCycle uint32) error {
	if n.isRemoved() || n.lastUpdateCycle == updateCycle {
		return nil
	}

	if err := r.initDriver(ctx, n); err != nil {
		// a broken driver only hides its own subtree
		r.logError(n, "probe", err)
		return nil
	}
	defer r.uninitDriver(ctx, n)

	if n.flags&FindChildOnDemand != 0 {
		typ, okType := n.Uint16(attr.Type, false)
		sub, okSub := n.Uint16(attr.SubType, false)
		generic := !okType || !okSub
		if !generic && !probeMatches(devicePath, typ, sub) {
			return nil
		}

		wasProbed := n.isProbed()
		n.lastUpdateCycle = updateCycle
		if generic {
			r.genericContext = devicePath
			defer func() { r.genericContext = "" }()
		}
		r.probe(ctx, n, wasProbed)
		return nil
	}

	for _, c := range slices.Clone(n.children) {
		if err := r.probeNode(ctx, c, devicePath, updateCycle); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) probe(ctx context.Context, n *Node, wasProbed bool) {
	var prev *binding
	if wasProbed && len(n.children) > 0 &&
		n.flags&(FindChildOnDemand|FindMultipleChildren) == FindChildOnDemand {
		// a driver already serves this node; see if a better one turned up
		r.removeUnusedChildren(ctx, n)
		if c := n.currentChild(); c != nil {
			if !c.registered {
				return
			}
			prev = &binding{node: c, driver: c.module, support: c.supportsParent}
		}
	}
	r.registerDynamic(ctx, n, prev, true)
}

// Rescan asks n (the root if nil) and its descendants to look for new
// children: drivers implementing ChildRescanner enumerate their bus, other
// bus nodes rerun discovery when they have no child yet or take multiple
// children.
func (r *Registry) Rescan(ctx context.Context, n *Node) error {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	if n == nil {
		if r.root == nil {
			return ErrNotInitialized
		}
		n = r.root
	}
	return r.rescan(ctx, n)
}

func (r *Registry) rescan(ctx context.Context, n *Node) error {
	if n.isRemoved() {
		return nil
	}
	if err := r.initDriver(ctx, n); err != nil {
		return err
	}
	defer r.uninitDriver(ctx, n)

	if rs, ok := n.driver.(module.ChildRescanner); ok {
		if err := rs.RescanChildDevices(ctx, n.cookie); err != nil {
			return fmt.Errorf("rescan %s: %w", n.module, err)
		}
	} else if n.flags&FindMultipleChildren != 0 || len(n.liveChildren()) == 0 {
		r.registerDynamic(ctx, n, nil, false)
	}

	for _, c := range slices.Clone(n.children) {
		if err := r.rescan(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Reprobe replaces the single dynamic child of n by the best other driver.
// The current child is removed; its driver is bound again if no other
// driver scores higher. Fixed children and children registered by the
// node's driver are not replaced.
func (r *Registry) Reprobe(ctx context.Context, n *Node) error {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	if n.isRemoved() {
		return fmt.Errorf("%w: %s was removed", device.ErrNoDevice, n.module)
	}
	live := n.liveChildren()
	if n.flags&FindMultipleChildren != 0 || len(live) != 1 {
		return fmt.Errorf("%w: %s has %d children", ErrBadValue, n.module, len(live))
	}
	if live[0].flags&flagDynamicChild == 0 {
		return fmt.Errorf("%w: %s was not bound by discovery", ErrBadValue, live[0].module)
	}

	if err := r.initDriver(ctx, n); err != nil {
		return err
	}
	defer r.uninitDriver(ctx, n)

	old := live[0]
	prev := &binding{driver: old.module, support: old.supportsParent}
	r.deviceRemoved(ctx, old)

	r.registerDynamic(ctx, n, prev, true)
	return nil
}

func (n *Node) liveChildren() []*Node {
	var live []*Node
	for _, c := range n.children {
		if !c.isRemoved() {
			live = append(live, c)
		}
	}
	return live
}

// currentChild returns the child serving n, skipping replacements that are
// still waiting for the old driver to go away.
func (n *Node) currentChild() *Node {
	for _, c := range n.children {
		if !c.isRemoved() && c.flags&flagWaitingForDriver == 0 {
			return c
		}
	}
	return nil
}
