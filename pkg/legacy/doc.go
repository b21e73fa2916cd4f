// Package legacy runs drivers written against the old, tree-less driver
// interface.
//
// A legacy driver is an image file exporting a version marker, optional
// hardware and driver init/uninit hooks, the list of device paths it
// publishes and a per-path hook table. The Manager keeps one record per
// image leaf name, loads images through a Loader, publishes a Device for
// every advertised path and reloads images whose backing file changed.
//
// Records come from three install locations in descending priority
// (user, common, system). A record is replaced only by a path from a
// location with higher priority; with equal priority the first record
// found stays.
//
// File changes are not handled in notification context. The watcher
// queues the changed path and the sweeper, running on a fixed interval,
// marks the record dirty and reloads dirty records with no open devices.
// A record with open devices is reloaded by the first sweep after its
// last device was closed.
//
// Lock order: Manager before the device publisher.
package legacy
