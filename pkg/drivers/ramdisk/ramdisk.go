// Package ramdisk is a memory backed disk driver built on the node
// registry.
//
// A RAM disk is a controller node on the "ram" bus carrying the disk size
// in the "ramdisk/size" attribute. Discovery binds the disk driver to it;
// the driver allocates the memory, numbers the disk with the ID allocator
// and publishes it as "disk/virtual/ram/<id>/raw".
//
// Usage:
//
//	if err := ramdisk.Register(modules, ids); err != nil { ... }
//	node, err := ramdisk.Add(ctx, reg, "scratch", 16<<20)
//	...
//	reg.UnregisterNode(ctx, node)
package ramdisk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/idgen"
	"github.com/haiku/devmgr/pkg/module"
	"github.com/haiku/devmgr/pkg/registry"
)

// Module names.
const (
	ControllerModuleName = "bus_managers/ram_disk/driver_v1"
	DriverModuleName     = "drivers/disk/virtual/ram/driver_v1"
	DeviceModuleName     = "drivers/disk/virtual/ram/device_v1"
)

const (
	// Bus is the bus name of controller nodes.
	Bus = "ram"
	// SizeAttr holds the disk size in bytes.
	SizeAttr = "ramdisk/size"
	// BlockSize is the sector size of every RAM disk.
	BlockSize = 512
	// MaxSize limits a single disk.
	MaxSize = 4 << 30

	idGenerator = "ram_disk"
)

// ErrBadSize is returned for sizes that are zero, too large or not a
// multiple of BlockSize.
var ErrBadSize = errors.New("invalid ram disk size")

// Config configures the driver.
type Config struct {
	// IDs numbers the published disks.
	IDs *idgen.Allocator

	// Logger is an optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Register adds the controller, driver and device modules to t.
func Register(t *module.Table, cfg Config) error {
	if cfg.IDs == nil {
		return errors.New("ramdisk: id allocator required")
	}
	drv := &Driver{ids: cfg.IDs, logger: cfg.Logger}
	for name, impl := range map[string]any{
		ControllerModuleName: controller{},
		DriverModuleName:     drv,
		DeviceModuleName:     deviceModule{},
	} {
		if err := t.Register(name, impl); err != nil {
			return err
		}
	}
	return nil
}

// Attrs returns the attributes of a controller node.
func Attrs(name string, size uint64) []attr.Attr {
	return []attr.Attr{
		attr.String(attr.PrettyName, "RAM Disk "+name),
		attr.String(attr.Bus, Bus),
		attr.Uint64(SizeAttr, size),
	}
}

// ValidSize reports whether size can back a disk.
func ValidSize(size uint64) error {
	if size == 0 || size > MaxSize || size%BlockSize != 0 {
		return fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	return nil
}

// Add registers a controller node for a disk of size bytes below the root
// node. The returned node is unregistered to remove the disk.
func Add(ctx context.Context, r *registry.Registry, name string, size uint64) (*registry.Node, error) {
	if err := ValidSize(size); err != nil {
		return nil, err
	}
	root, err := r.Root(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Put(ctx, root)
	return r.RegisterNode(ctx, root, ControllerModuleName, Attrs(name, size), nil)
}

// controller is the module of controller nodes. It is only a bus
// position; the disk driver binds below it through discovery.
type controller struct{}

func (controller) SupportsDevice(context.Context, module.Node) float32 { return 0 }

func (controller) RegisterDevice(context.Context, module.Node) error {
	return device.ErrNotSupported
}

// Driver is the disk driver module.
type Driver struct {
	ids    *idgen.Allocator
	logger *slog.Logger
}

// disk is the driver cookie of a bound disk node.
type disk struct {
	node module.Node
	id   int
	data *store
}

// SupportsDevice claims nodes on the ram bus.
func (d *Driver) SupportsDevice(_ context.Context, parent module.Node) float32 {
	if bus, ok := parent.String(attr.Bus, false); ok && bus == Bus {
		return 1.0
	}
	return 0
}

// RegisterDevice registers the disk node the driver binds to.
func (d *Driver) RegisterDevice(ctx context.Context, parent module.Node) error {
	_, err := parent.RegisterChild(ctx, DriverModuleName, []attr.Attr{
		attr.String(attr.PrettyName, "RAM Disk"),
		attr.Uint32(attr.Flags, uint32(registry.KeepDriverLoaded)),
	}, nil)
	return err
}

// InitDriver allocates the disk memory.
func (d *Driver) InitDriver(_ context.Context, node module.Node) (any, error) {
	size, ok := node.Uint64(SizeAttr, true)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrBadSize, SizeAttr)
	}
	if err := ValidSize(size); err != nil {
		return nil, err
	}
	id, err := d.ids.Create(idGenerator)
	if err != nil {
		return nil, err
	}
	d.debugLog("ramdisk: allocated", "id", id, "size", size)
	return &disk{node: node, id: id, data: newStore(int64(size))}, nil
}

// UninitDriver frees the disk memory and its number.
func (d *Driver) UninitDriver(_ context.Context, cookie any) {
	dk := cookie.(*disk)
	_ = d.ids.Free(idGenerator, dk.id)
	d.debugLog("ramdisk: freed", "id", dk.id)
}

// RegisterChildDevices publishes the raw disk device.
func (d *Driver) RegisterChildDevices(ctx context.Context, cookie any) error {
	dk := cookie.(*disk)
	return dk.node.PublishDevice(ctx, DevicePath(dk.id), DeviceModuleName)
}

// DevicePath returns the devfs path of disk id.
func DevicePath(id int) string {
	return fmt.Sprintf("disk/virtual/ram/%d/raw", id)
}

func (d *Driver) debugLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

var (
	_ module.Driver         = controller{}
	_ module.Driver         = (*Driver)(nil)
	_ module.Initializer    = (*Driver)(nil)
	_ module.ChildRegistrar = (*Driver)(nil)
)
