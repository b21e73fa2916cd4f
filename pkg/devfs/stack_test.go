package devfs_test

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
	"github.com/haiku/devmgr/pkg/idgen"
	"github.com/haiku/devmgr/pkg/legacy"
	"github.com/haiku/devmgr/pkg/module"
	"github.com/haiku/devmgr/pkg/registry"
)

type stack struct {
	reg    *registry.Registry
	legacy *legacy.Manager
	fs     *devfs.FS
	loader *legacy.StaticLoader
	files  afero.Fs
}

// newStack wires a registry with the ram disk driver and a legacy manager
// into one devfs, the way the daemon does.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	ids := idgen.New()
	modules := module.NewTable()
	require.NoError(t, ramdisk.Register(modules, ramdisk.Config{IDs: ids}))
	reg, err := registry.New(registry.Options{Modules: modules, IDs: ids})
	require.NoError(t, err)

	s := &stack{reg: reg, loader: legacy.NewStaticLoader(), files: afero.NewMemMapFs()}
	s.legacy, err = legacy.NewManager(legacy.Options{
		Loader:    s.loader,
		Fs:        s.files,
		Locations: []string{"/user", "/common", "/system"},
	})
	require.NoError(t, err)

	s.fs = devfs.New(devfs.Options{Probers: []devfs.Prober{reg, s.legacy}})
	reg.SetPublisher(s.fs)
	s.legacy.SetPublisher(s.fs)
	require.NoError(t, reg.Init(ctx))
	t.Cleanup(s.legacy.Close)
	return s
}

func TestRamDiskThroughDevfs(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	node, err := ramdisk.Add(ctx, s.reg, "scratch", 64*1024)
	require.NoError(t, err)

	raw := ramdisk.DevicePath(0)
	st, err := s.fs.Stat(ctx, raw)
	require.NoError(t, err)
	assert.True(t, st.IsDevice())

	fl, err := s.fs.Open(ctx, raw, os.O_RDWR)
	require.NoError(t, err)
	n, err := fl.Write(1000, []byte("partition data"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, int64(64*1024), fl.Stat().Size)

	require.NoError(t, s.fs.PublishPartition("0_0", raw, 1000, 4))
	part, err := s.fs.Open(ctx, "disk/virtual/ram/0/0_0", os.O_RDONLY)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err = part.Read(0, buf)
	require.NoError(t, err)
	assert.Equal(t, "part", string(buf[:n]))

	require.NoError(t, part.Free())
	require.NoError(t, fl.Free())

	require.NoError(t, s.reg.UnregisterNode(ctx, node))
	_, err = s.fs.Stat(ctx, raw)
	assert.ErrorIs(t, err, devfs.ErrNotFound)
	_, err = s.fs.Stat(ctx, "disk/virtual/ram/0/0_0")
	assert.ErrorIs(t, err, devfs.ErrNotFound)
}

func TestLegacyDriverProbedOnLookup(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	const path = "/system/dev/misc/null"
	require.NoError(t, afero.WriteFile(s.files, path, []byte("image"), 0o644))
	s.loader.Add(path, func() legacy.Image {
		return legacy.StaticImage{
			legacy.SymbolVersion:        int32(2),
			legacy.SymbolPublishDevices: func() []string { return []string{"misc/null"} },
			legacy.SymbolFindDevice: func(string) *legacy.Hooks {
				return &legacy.Hooks{
					Read: func(any, int64, []byte) (int, error) { return 0, nil },
				}
			},
		}
	})

	st, err := s.fs.Lookup(ctx, "misc", "null")
	require.NoError(t, err)
	assert.True(t, st.IsDevice())
	assert.Equal(t, 1, s.loader.Loads(path))

	fl, err := s.fs.Open(ctx, "misc/null", os.O_RDONLY)
	require.NoError(t, err)
	n, err := fl.Read(0, make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, fl.Free())

	require.NoError(t, s.fs.Rescan(ctx, "null"))
	assert.ErrorIs(t, s.fs.Rescan(ctx, "missing"), legacy.ErrNotFound)
}
