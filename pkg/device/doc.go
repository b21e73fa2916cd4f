// Package device defines the capability contract shared by everything that
// can be published in devfs.
//
// A Device answers capability queries (can it select, read, write, do
// request based I/O) and implements the per-open operations. The registry
// publishes node bound devices, the legacy layer publishes wrapped old
// style drivers, and FileDevice exposes a regular file as a loop device.
// Devfs only ever talks to this interface.
//
// Lifecycle:
//
//	InitDevice      first open of the device (counted by devfs)
//	Open ... Close  per file descriptor
//	Free            last reference of a descriptor dropped
//	UninitDevice    last descriptor of the device freed
//	Removed         devfs no longer references the device
package device
