package devfs

import (
	"fmt"
	"path"
	"time"

	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
)

// rawDeviceLocked returns the raw device vnode at devicePath.
func (f *FS) rawDeviceLocked(devicePath string) (*vnode, error) {
	parts, err := splitPublishPath(devicePath)
	if err != nil {
		return nil, err
	}
	v, err := f.walkLocked(parts)
	if err != nil {
		return nil, err
	}
	if v.kind != kindDevice {
		return nil, fmt.Errorf("%w: %s is not a device", device.ErrBadValue, devicePath)
	}
	if v.dev.part != nil {
		return nil, fmt.Errorf("%w: %s is a partition", device.ErrBadValue, devicePath)
	}
	return v, nil
}

// PublishPartition publishes a window of size bytes at offset into the raw
// device at devicePath. The partition is created next to the device.
func (f *FS) PublishPartition(name, devicePath string, offset, size int64) error {
	if !validName(name) {
		return fmt.Errorf("%w: partition name %q", device.ErrBadValue, name)
	}
	if offset < 0 || size < 0 {
		return fmt.Errorf("%w: partition offset %d size %d", device.ErrBadValue, offset, size)
	}

	var n notes
	f.mu.Lock()
	raw, err := f.rawDeviceLocked(devicePath)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	dir := raw.parent
	if dir.dir.find(name) != nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s already exists", device.ErrBadValue, name)
	}

	state := raw.dev.state
	v := f.newVnode(name, dir, kindDevice, raw.perm)
	v.uid, v.gid = raw.uid, raw.gid
	v.dev.state = state
	v.dev.part = &partition{raw: raw, index: state.nextPartition, offset: offset, size: size}
	state.nextPartition++
	f.linkLocked(dir, v, &n)
	p := f.pathOfLocked(v)
	f.mu.Unlock()
	f.flush(n)

	f.debugLog("partition published", "path", p, "offset", offset, "size", size)
	f.logPublish(p, &log.PublishEvent{Published: true, Partition: true, Offset: offset, Size: size})
	return nil
}

// UnpublishPartition removes the partition at path.
func (f *FS) UnpublishPartition(path string) error {
	parts, err := splitPublishPath(path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	v, err := f.walkLocked(parts)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if !v.isPartition() {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s is not a partition", device.ErrBadValue, path)
	}
	return f.unpublishLocked(v, false)
}

// RenamePartition renames a partition of the device at devicePath. The
// new name must not exist in the directory yet.
func (f *FS) RenamePartition(devicePath, oldName, newName string) error {
	if !validName(newName) {
		return fmt.Errorf("%w: partition name %q", device.ErrBadValue, newName)
	}

	var n notes
	f.mu.Lock()
	raw, err := f.rawDeviceLocked(devicePath)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	dir := raw.parent
	v := dir.dir.find(oldName)
	if v == nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if !v.isPartition() || v.dev.part.raw != raw {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s is not a partition of %s", device.ErrBadValue, oldName, devicePath)
	}
	if dir.dir.find(newName) != nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s already exists", device.ErrBadValue, newName)
	}

	dir.dir.remove(v)
	v.name = newName
	dir.dir.insert(v)
	dir.modTime = time.Now()
	n.moved(dir.id, oldName, dir.id, newName, v.id)
	n.stat(dir.id, StatModTime)
	dirPath := f.pathOfLocked(dir)
	f.mu.Unlock()
	f.flush(n)

	newPath := path.Join(dirPath, newName)
	f.logPublish(newPath, &log.PublishEvent{
		Published: true,
		Partition: true,
		OldPath:   path.Join(dirPath, oldName),
	})
	return nil
}
