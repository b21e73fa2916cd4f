package legacy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/haiku/devmgr/pkg/device"
)

// binding is the hook table of the currently loaded image.
type binding struct {
	hooks   *Hooks
	version int32
}

// Device wraps one published path of a legacy driver. InitDevice and
// UninitDevice count the opens of the driver; while any device of a
// driver is open its image is never reloaded.
type Device struct {
	mgr  *Manager
	drv  *driver
	path string

	binding atomic.Pointer[binding]
	removed atomic.Bool

	// guarded by mgr.mu
	published bool
}

func newDevice(m *Manager, drv *driver, path string) *Device {
	return &Device{mgr: m, drv: drv, path: path, published: true}
}

func (d *Device) bind(h *Hooks, version int32) {
	d.binding.Store(&binding{hooks: h, version: version})
}

func (d *Device) hooks() *Hooks { return d.binding.Load().hooks }

// Path returns the published path.
func (d *Device) Path() string { return d.path }

// Driver returns the leaf name of the driver.
func (d *Device) Driver() string { return d.drv.name }

// Capabilities implements device.Device. Select hooks count from image
// version 2 on.
func (d *Device) Capabilities() device.Capability {
	b := d.binding.Load()
	var c device.Capability
	if b.hooks.Read != nil {
		c |= device.HasRead
	}
	if b.hooks.Write != nil {
		c |= device.HasWrite
	}
	if b.version >= 2 {
		if b.hooks.Select != nil {
			c |= device.HasSelect
		}
		if b.hooks.Deselect != nil {
			c |= device.HasDeselect
		}
	}
	return c
}

// InitDevice counts an open of the driver. The first open of an unloaded
// or changed driver reloads it.
func (d *Device) InitDevice(context.Context) error {
	m := d.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.removed.Load() || !d.published {
		return fmt.Errorf("%w: %s", device.ErrNoDevice, d.path)
	}
	drv := d.drv
	if drv.used == 0 && (!drv.loaded() || drv.dirty) {
		reason := "open"
		if drv.dirty {
			reason = "changed"
		}
		if err := m.reload(drv, reason); err != nil {
			return err
		}
		if !d.published {
			return fmt.Errorf("%w: %s no longer published", device.ErrNoDevice, d.path)
		}
	}
	drv.used++
	return nil
}

// UninitDevice undoes InitDevice. A driver that stopped publishing is
// unloaded with its last close.
func (d *Device) UninitDevice(context.Context) {
	m := d.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	drv := d.drv
	if drv.used > 0 {
		drv.used--
	}
	if drv.used == 0 && len(drv.devices) == 0 {
		m.unload(drv, "last device closed")
	}
}

func (d *Device) Open(_ string, mode int) (device.Cookie, error) {
	h := d.hooks()
	if h.Open == nil {
		return nil, nil
	}
	return h.Open(d.path, mode)
}

func (d *Device) Read(c device.Cookie, pos int64, buf []byte) (int, error) {
	h := d.hooks()
	if h.Read == nil {
		return 0, device.ErrNotSupported
	}
	return h.Read(c, pos, buf)
}

func (d *Device) Write(c device.Cookie, pos int64, buf []byte) (int, error) {
	h := d.hooks()
	if h.Write == nil {
		return 0, device.ErrNotSupported
	}
	return h.Write(c, pos, buf)
}

// IO is not part of the legacy interface.
func (d *Device) IO(device.Cookie, *device.Request) error {
	return device.ErrNotSupported
}

func (d *Device) Control(c device.Cookie, op uint32, arg any) error {
	h := d.hooks()
	if h.Control == nil {
		return device.ErrBadValue
	}
	return h.Control(c, op, arg)
}

func (d *Device) Select(c device.Cookie, event uint8, sync device.SelectSync) error {
	b := d.binding.Load()
	if b.version < 2 || b.hooks.Select == nil {
		return device.ErrNotSupported
	}
	return b.hooks.Select(c, event, sync)
}

func (d *Device) Deselect(c device.Cookie, event uint8, sync device.SelectSync) error {
	b := d.binding.Load()
	if b.version < 2 || b.hooks.Deselect == nil {
		return device.ErrNotSupported
	}
	return b.hooks.Deselect(c, event, sync)
}

func (d *Device) Close(c device.Cookie) error {
	h := d.hooks()
	if h.Close == nil {
		return nil
	}
	return h.Close(c)
}

func (d *Device) Free(c device.Cookie) error {
	h := d.hooks()
	if h.Free == nil {
		return nil
	}
	return h.Free(c)
}

// Removed implements device.Device.
func (d *Device) Removed() { d.removed.Store(true) }

var _ device.Device = (*Device)(nil)
