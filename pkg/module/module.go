// Package module defines the contracts of driver modules and device modules
// and the Table that resolves module names to implementations.
//
// A driver module binds to a registry node. Its mandatory part scores how
// well it supports a node and registers a child node for itself; the
// optional parts (Initializer, ChildRegistrar, ChildRescanner,
// RemovalHandler) are discovered with type assertions.
//
// A device module provides the operations of a device published by a
// driver; the registry wraps it into a device.Device.
//
// Module names are slash separated paths ending in a version suffix, for
// example "busses/ata/generic_ide_pci/driver_v1".
package module

import (
	"context"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/resource"
)

// Name suffixes of the two module kinds.
const (
	DriverSuffix = "driver_v1"
	DeviceSuffix = "device_v1"
)

// Node is the view of a registry node that modules get. The context passed
// into module callbacks must be handed back to the registering methods; it
// carries the registry lock of the ongoing operation.
type Node interface {
	ModuleName() string
	Parent() Node
	Attrs() []attr.Attr

	Uint8(name string, recursive bool) (uint8, bool)
	Uint16(name string, recursive bool) (uint16, bool)
	Uint32(name string, recursive bool) (uint32, bool)
	Uint64(name string, recursive bool) (uint64, bool)
	String(name string, recursive bool) (string, bool)
	Raw(name string, recursive bool) ([]byte, bool)

	// DriverCookie returns the value the node's driver returned from
	// InitDriver.
	DriverCookie() any

	RegisterChild(ctx context.Context, moduleName string, attrs []attr.Attr, rs []resource.Resource) (Node, error)
	PublishDevice(ctx context.Context, path, deviceModule string) error
	UnpublishDevice(ctx context.Context, path string) error
}

// Driver is the mandatory part of a driver module.
type Driver interface {
	// SupportsDevice returns a score in [0,1]; zero means not supported.
	SupportsDevice(ctx context.Context, parent Node) float32
	// RegisterDevice registers the child node the driver will bind to.
	RegisterDevice(ctx context.Context, parent Node) error
}

// Initializer is implemented by drivers that keep per-node state.
type Initializer interface {
	InitDriver(ctx context.Context, node Node) (cookie any, err error)
	UninitDriver(ctx context.Context, cookie any)
}

// ChildRegistrar is implemented by bus drivers that enumerate their own
// children instead of relying on driver discovery.
type ChildRegistrar interface {
	RegisterChildDevices(ctx context.Context, cookie any) error
}

// ChildRescanner is implemented by bus drivers that can look for new
// children on request.
type ChildRescanner interface {
	RescanChildDevices(ctx context.Context, cookie any) error
}

// RemovalHandler is told when the hardware behind its node went away.
type RemovalHandler interface {
	DeviceRemoved(ctx context.Context, node Node)
}

// DeviceModule is the mandatory part of a device module.
type DeviceModule interface {
	InitDevice(ctx context.Context, driverCookie any) (cookie any, err error)
	UninitDevice(ctx context.Context, cookie any)
	Open(cookie any, path string, mode int) (device.Cookie, error)
	Close(c device.Cookie) error
	Free(c device.Cookie) error
}

// Reader is implemented by device modules that can read.
type Reader interface {
	Read(c device.Cookie, pos int64, buf []byte) (int, error)
}

// Writer is implemented by device modules that can write.
type Writer interface {
	Write(c device.Cookie, pos int64, buf []byte) (int, error)
}

// IOer is implemented by device modules with request based I/O.
type IOer interface {
	IO(c device.Cookie, req *device.Request) error
}

// Controller is implemented by device modules that accept control ops.
type Controller interface {
	Control(c device.Cookie, op uint32, arg any) error
}

// Selector is implemented by device modules that support select.
type Selector interface {
	Select(c device.Cookie, event uint8, sync device.SelectSync) error
	Deselect(c device.Cookie, event uint8, sync device.SelectSync) error
}

// DeviceRemover is told when the device's hardware went away.
type DeviceRemover interface {
	DeviceRemoved(cookie any)
}
