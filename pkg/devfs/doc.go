// Package devfs implements the device file system: a tree of directories,
// device nodes and symlinks that translates file operations onto published
// devices.
//
// # Publishing
//
// Devices reach devfs through the device.Publisher interface. The registry
// and the legacy layer publish their devices under slash separated paths;
// missing directories are created on the way. A device can additionally be
// exposed through partitions: offset/size windows into a raw device that
// live in the same directory as the raw node.
//
// # Lazy scanning
//
// Directories are filled on demand. The first lookup or listing of a
// directory in a scan mode asks every Prober to publish what belongs under
// that path. The scan mode advances once the boot device is available, so
// each directory is scanned at most once before and once after that point.
// A per-directory mutex keeps concurrent lookups from scanning twice.
//
// # Opening devices
//
// Open calls the device's InitDevice on the first open of the underlying
// device and Free calls UninitDevice when the last open reference is gone.
// Partitions count against their raw device. A device that was unpublished
// is told through Removed once no open reference is left.
//
// # Locking
//
// FS.mu guards the vnode tree. It is never held while calling into a
// device or a prober: probers publish into devfs, and devices may call back
// into the registry, which in turn publishes into devfs while holding its
// own lock.
package devfs
