package registry

import (
	"context"
	"errors"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/module"
)

// Built-in driver modules of the two nodes every tree has.
const (
	RootModuleName    = "system/devices_root/driver_v1"
	GenericModuleName = "system/devices_generic/driver_v1"
)

// builtinDriver is bound to the root and generic nodes. It never claims
// other nodes.
type builtinDriver struct{}

func (builtinDriver) SupportsDevice(context.Context, module.Node) float32 { return 0 }

func (builtinDriver) RegisterDevice(context.Context, module.Node) error {
	return device.ErrNotSupported
}

func rootAttrs() []attr.Attr {
	return []attr.Attr{
		attr.String(attr.PrettyName, "Devices Root"),
		attr.String(attr.Bus, "root"),
		attr.Uint32(attr.Flags, uint32(FindMultipleChildren|KeepDriverLoaded)),
	}
}

func genericAttrs() []attr.Attr {
	return []attr.Attr{
		attr.String(attr.PrettyName, "Generic"),
		attr.String(attr.Bus, "generic"),
		attr.Uint32(attr.Flags, uint32(FindMultipleChildren|KeepDriverLoaded|FindChildOnDemand)),
	}
}

func registerBuiltins(t *module.Table) error {
	for _, name := range []string{RootModuleName, GenericModuleName} {
		if err := t.Register(name, builtinDriver{}); err != nil && !errors.Is(err, module.ErrExists) {
			return err
		}
	}
	return nil
}
