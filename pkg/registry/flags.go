package registry

import "strings"

// Flags are the public and internal node flags. The public ones are taken
// from the "device/flags" attribute at registration.
type Flags uint32

const (
	// FindChildOnDemand defers dynamic discovery until devfs asks for it.
	FindChildOnDemand Flags = 0x01
	// FindMultipleChildren binds every driver that supports the node.
	FindMultipleChildren Flags = 0x02
	// KeepDriverLoaded keeps the driver initialized while registered.
	KeepDriverLoaded Flags = 0x04

	publicFlags Flags = 0xffff

	flagRegisterInitialized Flags = 0x10000
	flagDeviceRemoved       Flags = 0x20000
	flagObsoleteDriver      Flags = 0x40000
	flagWaitingForDriver    Flags = 0x80000
	flagDynamicChild        Flags = 0x100000
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FindChildOnDemand, "on-demand"},
	{FindMultipleChildren, "multiple"},
	{KeepDriverLoaded, "keep-loaded"},
	{flagRegisterInitialized, "register-initialized"},
	{flagDeviceRemoved, "removed"},
	{flagObsoleteDriver, "obsolete"},
	{flagWaitingForDriver, "waiting"},
	{flagDynamicChild, "dynamic"},
}

// String lists the set flag names separated by "|".
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
