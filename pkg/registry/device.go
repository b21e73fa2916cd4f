package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
	"github.com/haiku/devmgr/pkg/module"
)

// Device is a device published by a node and implemented by a device
// module. The device module is loaded between InitDevice and
// UninitDevice; the node's driver stays initialized for that time.
type Device struct {
	node       *Node
	id         uint32
	path       string
	moduleName string

	// guarded by the registry lock
	initCount int
	module    module.DeviceModule
	cookie    any

	removed atomic.Bool
}

// ID returns the registry-unique device number.
func (d *Device) ID() uint32 { return d.id }

// Path returns the devfs path the device was published under.
func (d *Device) Path() string { return d.path }

// ModuleName returns the device module name.
func (d *Device) ModuleName() string { return d.moduleName }

// Node returns the publishing node.
func (d *Device) Node() *Node { return d.node }

// Capabilities reports which optional hooks the device module provides.
func (d *Device) Capabilities() device.Capability {
	impl, ok := d.node.r.modules.Lookup(d.moduleName)
	if !ok {
		return 0
	}
	var c device.Capability
	if _, ok := impl.(module.Reader); ok {
		c |= device.HasRead
	}
	if _, ok := impl.(module.Writer); ok {
		c |= device.HasWrite
	}
	if _, ok := impl.(module.IOer); ok {
		c |= device.HasIO
	}
	if _, ok := impl.(module.Selector); ok {
		c |= device.HasSelect | device.HasDeselect
	}
	return c
}

// InitDevice loads the device module and initializes it on top of the
// node's driver. Devfs calls it on the first open; an open made from a
// driver callback passes the callback's context and reuses the held lock.
func (d *Device) InitDevice(ctx context.Context) error {
	r := d.node.r
	ctx, unlock := r.lock(ctx)
	defer unlock()

	if d.removed.Load() || d.node.isRemoved() {
		return fmt.Errorf("%w: %s", device.ErrNoDevice, d.path)
	}
	if d.node.flags&flagWaitingForDriver != 0 {
		return fmt.Errorf("%w: %s waits for its driver", ErrBusy, d.path)
	}
	if d.initCount > 0 {
		d.initCount++
		return nil
	}

	mod, err := r.modules.GetDevice(d.moduleName)
	if err != nil {
		return err
	}
	if err := r.initDriver(ctx, d.node); err != nil {
		_ = r.modules.Put(d.moduleName)
		return err
	}
	cookie, err := mod.InitDevice(ctx, d.node.cookie)
	if err != nil {
		r.uninitDriver(ctx, d.node)
		_ = r.modules.Put(d.moduleName)
		return fmt.Errorf("init device %s: %w", d.path, err)
	}

	d.module = mod
	d.cookie = cookie
	d.initCount = 1
	r.logState(d.node, log.StateEntityDevice, "uninitialized", "initialized", d.path)
	return nil
}

// UninitDevice undoes InitDevice. Devfs calls it when the last open file
// is freed.
func (d *Device) UninitDevice(ctx context.Context) {
	r := d.node.r
	ctx, unlock := r.lock(ctx)
	defer unlock()

	if d.initCount == 0 {
		return
	}
	d.initCount--
	if d.initCount > 0 {
		return
	}

	d.module.UninitDevice(ctx, d.cookie)
	_ = r.modules.Put(d.moduleName)
	d.module = nil
	d.cookie = nil
	r.logState(d.node, log.StateEntityDevice, "initialized", "uninitialized", d.path)
	r.uninitDriver(ctx, d.node)
}

func (d *Device) loaded() (module.DeviceModule, error) {
	if d.module == nil {
		return nil, fmt.Errorf("%w: %s not initialized", device.ErrNoDevice, d.path)
	}
	return d.module, nil
}

func (d *Device) Open(path string, mode int) (device.Cookie, error) {
	mod, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return mod.Open(d.cookie, path, mode)
}

func (d *Device) Read(c device.Cookie, pos int64, buf []byte) (int, error) {
	mod, err := d.loaded()
	if err != nil {
		return 0, err
	}
	if rd, ok := mod.(module.Reader); ok {
		return rd.Read(c, pos, buf)
	}
	return 0, device.ErrNotSupported
}

func (d *Device) Write(c device.Cookie, pos int64, buf []byte) (int, error) {
	mod, err := d.loaded()
	if err != nil {
		return 0, err
	}
	if wr, ok := mod.(module.Writer); ok {
		return wr.Write(c, pos, buf)
	}
	return 0, device.ErrNotSupported
}

func (d *Device) IO(c device.Cookie, req *device.Request) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	if io, ok := mod.(module.IOer); ok {
		return io.IO(c, req)
	}
	return device.ErrNotSupported
}

func (d *Device) Control(c device.Cookie, op uint32, arg any) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	if ctl, ok := mod.(module.Controller); ok {
		return ctl.Control(c, op, arg)
	}
	return device.ErrBadValue
}

func (d *Device) Select(c device.Cookie, event uint8, sync device.SelectSync) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	if sel, ok := mod.(module.Selector); ok {
		return sel.Select(c, event, sync)
	}
	return device.ErrNotSupported
}

func (d *Device) Deselect(c device.Cookie, event uint8, sync device.SelectSync) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	if sel, ok := mod.(module.Selector); ok {
		return sel.Deselect(c, event, sync)
	}
	return device.ErrNotSupported
}

func (d *Device) Close(c device.Cookie) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	return mod.Close(c)
}

func (d *Device) Free(c device.Cookie) error {
	mod, err := d.loaded()
	if err != nil {
		return err
	}
	return mod.Free(c)
}

// Removed is called by devfs once it dropped the device. It must not take
// the registry lock: devfs may call it while the registry is unpublishing.
func (d *Device) Removed() {
	d.removed.Store(true)
}

// IsRemoved reports whether devfs dropped the device.
func (d *Device) IsRemoved() bool { return d.removed.Load() }

// notifyRemoved tells an initialized device module that the hardware is
// gone.
func (d *Device) notifyRemoved() {
	if d.initCount == 0 {
		return
	}
	if rm, ok := d.module.(module.DeviceRemover); ok {
		rm.DeviceRemoved(d.cookie)
	}
}

var _ device.Device = (*Device)(nil)

// validDevicePath rejects empty paths and paths with "." or ".."
// components.
func validDevicePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func deviceAttrNames(id uint32) (string, string) {
	prefix := fmt.Sprintf("dev/%d/", id)
	return prefix + "path", prefix + "driver"
}

// PublishDevice publishes a device of n under path, implemented by the
// device module deviceModule. The node gets "dev/<id>/path" and
// "dev/<id>/driver" attributes describing it.
func (r *Registry) PublishDevice(ctx context.Context, n *Node, path, deviceModule string) error {
	if !validDevicePath(path) {
		return fmt.Errorf("%w: device path %q", ErrBadValue, path)
	}
	if deviceModule == "" {
		return fmt.Errorf("%w: empty device module", ErrBadValue)
	}

	_, unlock := r.lock(ctx)
	defer unlock()

	if n.isRemoved() || n.destroyed {
		return fmt.Errorf("%w: %s was removed", device.ErrNoDevice, n.module)
	}
	for _, d := range n.devices {
		if d.path == path {
			return fmt.Errorf("%w: device %s", ErrAlreadyRegistered, path)
		}
	}

	r.nextDeviceID++
	d := &Device{
		node:       n,
		id:         r.nextDeviceID,
		path:       path,
		moduleName: deviceModule,
	}
	pathAttr, driverAttr := deviceAttrNames(d.id)

	r.attrMu.Lock()
	n.attrs = append(n.attrs, attr.String(pathAttr, path), attr.String(driverAttr, deviceModule))
	r.attrMu.Unlock()
	n.devices = append(n.devices, d)

	if r.publisher != nil {
		if err := r.publisher.PublishDevice(path, d); err != nil {
			r.dropDevice(n, d)
			r.logError(n, "publish "+path, err)
			return err
		}
	}

	r.debugLog("device published", "node", n.module, "path", path, "module", deviceModule)
	r.logEvent(log.Event{
		Category: log.CategoryPublish,
		NodeID:   n.id,
		Module:   deviceModule,
		Path:     path,
		Publish:  &log.PublishEvent{Published: true},
	})
	return nil
}

// UnpublishDevice removes the device n published under path.
func (r *Registry) UnpublishDevice(ctx context.Context, n *Node, path string) error {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	for _, d := range n.devices {
		if d.path == path {
			r.unpublish(ctx, n, d)
			return nil
		}
	}
	return fmt.Errorf("%w: device %s", ErrNotFound, path)
}

// Devices returns the devices published by n.
func (r *Registry) Devices(ctx context.Context, n *Node) []*Device {
	_, unlock := r.lock(ctx)
	defer unlock()
	return slices.Clone(n.devices)
}

func (r *Registry) unpublish(_ context.Context, n *Node, d *Device) {
	r.dropDevice(n, d)
	if r.publisher != nil {
		if err := r.publisher.UnpublishDevice(d, true); err != nil {
			r.debugLog("unpublish failed", "path", d.path, "error", err)
		}
	}
	r.logEvent(log.Event{
		Category: log.CategoryPublish,
		NodeID:   n.id,
		Module:   d.moduleName,
		Path:     d.path,
		Publish:  &log.PublishEvent{Published: false},
	})
}

func (r *Registry) dropDevice(n *Node, d *Device) {
	n.devices = slices.DeleteFunc(n.devices, func(x *Device) bool { return x == d })

	pathAttr, driverAttr := deviceAttrNames(d.id)
	r.attrMu.Lock()
	n.attrs = slices.DeleteFunc(n.attrs, func(a attr.Attr) bool {
		return a.Name == pathAttr || a.Name == driverAttr
	})
	r.attrMu.Unlock()
}
