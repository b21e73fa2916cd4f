// Package fusefs mounts a devfs instance on a host directory through FUSE.
//
// Directories, partitions and devices keep their devfs names. Devices show
// up as regular files: the kernel hands opens of character and block
// special files to its own drivers, so they would never reach devfs. Opens
// go through devfs.FS.Open and releases through File.Free, so device
// initialization is counted the same way as for in-process users.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/device"
)

// Options configures the mount.
type Options struct {
	// Mountpoint is the host directory. It is created if missing.
	Mountpoint string

	// FS is the devfs instance to expose.
	FS *devfs.FS

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Mount mounts opts.FS at opts.Mountpoint. The caller must call Unmount on
// the returned server.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.FS == nil {
		return nil, fmt.Errorf("devfs instance is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	root := &node{opts: &opts}

	// devfs changes behind the kernel's back; keep caching short
	entryTimeout := 100 * time.Millisecond
	attrTimeout := 100 * time.Millisecond
	negativeTimeout := 50 * time.Millisecond

	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     devfs.Name,
			Name:       devfs.Name,
			AllowOther: opts.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting devfs at %s: %w", opts.Mountpoint, err)
	}

	opts.Logger.Info("devfs mounted", "mountpoint", opts.Mountpoint)
	return server, nil
}

// node is one devfs entry, addressed by its path.
type node struct {
	gofuse.Inode
	opts *Options
	path string
}

var (
	_ gofuse.InodeEmbedder  = (*node)(nil)
	_ gofuse.NodeLookuper   = (*node)(nil)
	_ gofuse.NodeReaddirer  = (*node)(nil)
	_ gofuse.NodeGetattrer  = (*node)(nil)
	_ gofuse.NodeSetattrer  = (*node)(nil)
	_ gofuse.NodeMkdirer    = (*node)(nil)
	_ gofuse.NodeOpener     = (*node)(nil)
	_ gofuse.NodeReadlinker = (*node)(nil)
)

func (n *node) fs() *devfs.FS { return n.opts.FS }

func (n *node) child(ctx context.Context, name string, st devfs.Stat) *gofuse.Inode {
	return n.NewInode(ctx, &node{opts: n.opts, path: path.Join(n.path, name)},
		gofuse.StableAttr{Mode: fileType(st.Mode), Ino: st.ID})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	st, err := n.fs().Lookup(ctx, n.path, name)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return n.child(ctx, name, st), 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.fs().ReadDir(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{Name: e.Name, Ino: e.ID, Mode: fileType(e.Mode)})
	}
	return gofuse.NewListDirStream(list), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := f.(*handle); ok {
		fillAttr(&out.Attr, h.file.Stat())
		return 0
	}
	st, err := n.fs().Stat(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (n *node) Setattr(ctx context.Context, _ gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var upd devfs.Stat
	var mask devfs.StatField
	if _, ok := in.GetSize(); ok {
		mask |= devfs.StatSize
	}
	if mode, ok := in.GetMode(); ok {
		upd.Mode = fs.FileMode(mode & 0o7777)
		if mode&syscall.S_ISUID != 0 {
			upd.Mode |= fs.ModeSetuid
		}
		if mode&syscall.S_ISGID != 0 {
			upd.Mode |= fs.ModeSetgid
		}
		if mode&syscall.S_ISVTX != 0 {
			upd.Mode |= fs.ModeSticky
		}
		upd.Mode &= fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky
		mask |= devfs.StatMode
	}
	if uid, ok := in.GetUID(); ok {
		upd.UID = uid
		mask |= devfs.StatUID
	}
	if gid, ok := in.GetGID(); ok {
		upd.GID = gid
		mask |= devfs.StatGID
	}
	if mtime, ok := in.GetMTime(); ok {
		upd.ModTime = mtime
		mask |= devfs.StatModTime
	}

	if err := n.fs().WriteStat(ctx, n.path, upd, mask); err != nil {
		return toErrno(err)
	}
	return n.Getattr(ctx, nil, out)
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	p := path.Join(n.path, name)
	if err := n.fs().Mkdir(ctx, p, fs.FileMode(mode&0o777)); err != nil {
		return nil, toErrno(err)
	}
	st, err := n.fs().Stat(ctx, p)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return n.child(ctx, name, st), 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fs().ReadLink(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	file, err := n.fs().Open(ctx, n.path, int(flags))
	if err != nil {
		n.opts.Logger.Debug("devfs open failed", "path", n.path, "error", err)
		return nil, 0, toErrno(err)
	}
	// device contents change under the page cache
	return &handle{file: file}, fuse.FOPEN_DIRECT_IO, 0
}

// handle is an open device.
type handle struct {
	file *devfs.File
}

var (
	_ gofuse.FileReader   = (*handle)(nil)
	_ gofuse.FileWriter   = (*handle)(nil)
	_ gofuse.FileReleaser = (*handle)(nil)
)

func (h *handle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.Read(off, dest)
	if err != nil && n == 0 {
		// partitions reject offsets at their end; the kernel expects EOF
		if errors.Is(err, device.ErrBadValue) && h.atEnd(off) {
			return fuse.ReadResultData(nil), 0
		}
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) atEnd(off int64) bool {
	size := h.file.Stat().Size
	return size > 0 && off >= size
}

func (h *handle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.file.Write(off, data)
	if err != nil && n == 0 {
		return 0, toErrno(err)
	}
	return uint32(n), 0
}

func (h *handle) Release(context.Context) syscall.Errno {
	return toErrno(h.file.Free())
}

// fileType returns the FUSE type bits for a devfs mode.
func fileType(m fs.FileMode) uint32 {
	switch {
	case m.IsDir():
		return syscall.S_IFDIR
	case m&fs.ModeSymlink != 0:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func fillAttr(out *fuse.Attr, st devfs.Stat) {
	out.Ino = st.ID
	out.Size = uint64(st.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 65536
	out.Nlink = 1
	out.Mode = fileType(st.Mode) | uint32(st.Mode.Perm())
	if st.Mode&fs.ModeSetuid != 0 {
		out.Mode |= syscall.S_ISUID
	}
	if st.Mode&fs.ModeSetgid != 0 {
		out.Mode |= syscall.S_ISGID
	}
	if st.Mode&fs.ModeSticky != 0 {
		out.Mode |= syscall.S_ISVTX
	}
	out.Uid = st.UID
	out.Gid = st.GID
	out.SetTimes(nil, &st.ModTime, &st.ModTime)
}

// toErrno maps devfs and device errors onto errno values.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, devfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, devfs.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, devfs.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, devfs.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, devfs.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, devfs.ErrNotDevice), errors.Is(err, device.ErrNoDevice):
		return syscall.ENODEV
	case errors.Is(err, device.ErrDisconnected):
		return syscall.ENXIO
	case errors.Is(err, device.ErrBadValue):
		return syscall.EINVAL
	case errors.Is(err, device.ErrNotAllowed):
		return syscall.EPERM
	case errors.Is(err, device.ErrNotSupported):
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
