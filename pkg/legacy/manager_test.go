package legacy

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/device"
)

func TestProbeLoadsAndPublishes(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/a/0", "misc/a/1")
	f.install(t, "/user/dev/misc/a", s)

	require.NoError(t, f.mgr.Probe(context.Background(), "misc", 1))

	assert.Equal(t, []string{"init hardware", "init driver"}, s.took())
	assert.Equal(t, []string{"misc/a/0", "misc/a/1"}, f.publisher.paths())

	info := f.info(t, "a")
	assert.True(t, info.Loaded)
	assert.Equal(t, int32(CurrentVersion), info.Version)
	assert.Equal(t, 2, info.Priority)
	assert.ElementsMatch(t, []string{"misc/a/0", "misc/a/1"}, info.Devices)
}

func TestProbeMissingDirectory(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.mgr.Probe(context.Background(), "audio", 1))
	assert.Empty(t, f.mgr.Drivers())
}

func TestDriverWithoutDevicesIsUnloaded(t *testing.T) {
	f := newFixture(t)
	s := newScript()
	f.install(t, "/system/dev/misc/idle", s)

	require.NoError(t, f.mgr.Add("/system/dev/misc/idle"))

	assert.Equal(t, []string{"init hardware", "init driver", "uninit driver", "uninit hardware"}, s.took())
	info := f.info(t, "idle")
	assert.False(t, info.Loaded)
	assert.Equal(t, 0, info.Priority)
}

func TestInitFailureUnwinds(t *testing.T) {
	t.Run("init driver", func(t *testing.T) {
		f := newFixture(t)
		s := newScript("misc/x")
		s.initErr = errors.New("no hardware")
		f.install(t, "/user/dev/misc/x", s)

		err := f.mgr.Add("/user/dev/misc/x")
		assert.ErrorIs(t, err, s.initErr)
		assert.Equal(t, []string{"init hardware", "init driver", "uninit hardware"}, s.took())
		assert.False(t, f.info(t, "x").Loaded)
		assert.Empty(t, f.publisher.paths())
	})

	t.Run("init hardware", func(t *testing.T) {
		f := newFixture(t)
		s := newScript("misc/x")
		s.hwErr = errors.New("probe failed")
		f.install(t, "/user/dev/misc/x", s)

		err := f.mgr.Add("/user/dev/misc/x")
		assert.ErrorIs(t, err, s.hwErr)
		assert.Equal(t, []string{"init hardware"}, s.took())
	})

	t.Run("no hardware hooks", func(t *testing.T) {
		f := newFixture(t)
		s := newScript("misc/x")
		s.noHW = true
		s.initErr = errors.New("no memory")
		f.install(t, "/user/dev/misc/x", s)

		assert.ErrorIs(t, f.mgr.Add("/user/dev/misc/x"), s.initErr)
		assert.Equal(t, []string{"init driver"}, s.took())
	})
}

func TestResolveRejectsBadImages(t *testing.T) {
	s := newScript("misc/x")

	img := s.image().(StaticImage)
	img[SymbolVersion] = int32(3)
	_, err := Resolve(img)
	assert.ErrorIs(t, err, device.ErrNotSupported)

	img = s.image().(StaticImage)
	delete(img, SymbolFindDevice)
	_, err = Resolve(img)
	assert.ErrorIs(t, err, ErrBadImage)

	img = s.image().(StaticImage)
	img[SymbolInitDriver] = func() {}
	_, err = Resolve(img)
	assert.ErrorIs(t, err, ErrBadImage)

	img = s.image().(StaticImage)
	delete(img, SymbolVersion)
	e, err := Resolve(img)
	require.NoError(t, err)
	assert.Equal(t, int32(1), e.Version)
}

func TestLocationPriority(t *testing.T) {
	t.Run("higher priority replaces", func(t *testing.T) {
		f := newFixture(t)
		sys := newScript("misc/p/sys")
		usr := newScript("misc/p/user")
		f.install(t, "/system/dev/misc/p", sys)
		f.install(t, "/user/dev/misc/p", usr)

		require.NoError(t, f.mgr.Add("/system/dev/misc/p"))
		require.NoError(t, f.mgr.Add("/user/dev/misc/p"))

		assert.Equal(t, []string{"init hardware", "init driver", "uninit driver", "uninit hardware"}, sys.took())
		assert.Equal(t, []string{"init hardware", "init driver"}, usr.took())
		assert.Equal(t, "/user/dev/misc/p", f.info(t, "p").Path)
		assert.Equal(t, []string{"misc/p/user"}, f.publisher.paths())
	})

	t.Run("lower priority is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.install(t, "/common/dev/misc/p", newScript("misc/p"))
		f.install(t, "/system/dev/misc/p", newScript("misc/p"))

		require.NoError(t, f.mgr.Add("/common/dev/misc/p"))
		require.NoError(t, f.mgr.Add("/system/dev/misc/p"))

		assert.Equal(t, "/common/dev/misc/p", f.info(t, "p").Path)
		assert.Equal(t, 0, f.loader.Loads("/system/dev/misc/p"))
	})

	t.Run("equal priority keeps the first", func(t *testing.T) {
		f := newFixture(t)
		f.install(t, "/user/dev/disk/p", newScript("disk/p"))
		f.install(t, "/user/dev/misc/p", newScript("misc/p"))

		require.NoError(t, f.mgr.Probe(context.Background(), "", 1))

		// the walk is lexical, so disk comes first
		assert.Equal(t, "/user/dev/disk/p", f.info(t, "p").Path)
		assert.Equal(t, []string{"disk/p"}, f.publisher.paths())
	})
}

func TestRescanRepublishes(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/r/a", "misc/r/b")
	f.install(t, "/user/dev/misc/r", s)
	require.NoError(t, f.mgr.Add("/user/dev/misc/r"))

	kept := f.publisher.get("misc/r/b")
	require.NotNil(t, kept)

	s.setPaths("misc/r/b", "misc/r/c")
	require.NoError(t, f.mgr.Rescan(context.Background(), "r"))

	assert.Equal(t, []string{"misc/r/b", "misc/r/c"}, f.publisher.paths())
	assert.Same(t, kept, f.publisher.get("misc/r/b"))
	assert.Equal(t, []string{"+misc/r/a", "+misc/r/b", "-misc/r/a", "+misc/r/c"}, f.publisher.history)

	s.setPaths()
	require.NoError(t, f.mgr.Rescan(context.Background(), "r"))
	assert.Empty(t, f.publisher.paths())
	assert.False(t, f.info(t, "r").Loaded)

	// an unloaded driver is loaded again
	s.setPaths("misc/r/d")
	require.NoError(t, f.mgr.Rescan(context.Background(), "r"))
	assert.Equal(t, []string{"misc/r/d"}, f.publisher.paths())

	assert.ErrorIs(t, f.mgr.Rescan(context.Background(), "nope"), ErrNotFound)
}

func TestSweepReloadsUnusedDriver(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/s")
	f.install(t, "/user/dev/misc/s", s)
	require.NoError(t, f.mgr.Add("/user/dev/misc/s"))
	s.took()
	published := f.publisher.get("misc/s")

	f.touch(t, "/user/dev/misc/s")
	f.mgr.Changed("/user/dev/misc/s")
	assert.Equal(t, 1, f.mgr.Pending())
	assert.Empty(t, s.took(), "notification does no reload work")

	f.mgr.Sweep()

	assert.Equal(t, 0, f.mgr.Pending())
	assert.Equal(t, []string{"uninit driver", "uninit hardware", "init hardware", "init driver"}, s.took())
	assert.Equal(t, 2, f.loader.Loads("/user/dev/misc/s"))
	assert.Same(t, published, f.publisher.get("misc/s"))
	assert.False(t, f.info(t, "s").Dirty)

	// an event without a new modification time changes nothing
	f.mgr.Changed("/user/dev/misc/s")
	f.mgr.Sweep()
	assert.Empty(t, s.took())
}

func TestSweepDefersWhileOpen(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/o")
	f.install(t, "/user/dev/misc/o", s)
	require.NoError(t, f.mgr.Add("/user/dev/misc/o"))
	s.took()

	d := f.publisher.get("misc/o")
	require.NoError(t, d.InitDevice(context.Background()))
	c, err := d.Open("misc/o", os.O_RDONLY)
	require.NoError(t, err)
	assert.Equal(t, 1, f.info(t, "o").Used)

	f.touch(t, "/user/dev/misc/o")
	f.mgr.Changed("/user/dev/misc/o")
	f.mgr.Sweep()

	assert.Empty(t, s.took())
	assert.True(t, f.info(t, "o").Dirty)

	buf := make([]byte, 16)
	n, err := d.Read(c, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "misc/o", string(buf[:n]))

	require.NoError(t, d.Close(c))
	require.NoError(t, d.Free(c))
	d.UninitDevice(context.Background())
	assert.Empty(t, s.took(), "reload waits for the sweep")

	f.mgr.Sweep()
	assert.Equal(t, []string{"uninit driver", "uninit hardware", "init hardware", "init driver"}, s.took())
	assert.False(t, f.info(t, "o").Dirty)
}

func TestLastCloseUnloadsRetiredDriver(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/u")
	f.install(t, "/user/dev/misc/u", s)
	require.NoError(t, f.mgr.Add("/user/dev/misc/u"))
	d := f.publisher.get("misc/u")

	// the driver stops publishing while the device is open
	require.NoError(t, d.InitDevice(context.Background()))
	s.setPaths()
	require.NoError(t, f.mgr.Rescan(context.Background(), "u"))
	assert.True(t, f.info(t, "u").Loaded)
	s.took()

	d.UninitDevice(context.Background())
	assert.Equal(t, []string{"uninit driver", "uninit hardware"}, s.took())
	assert.ErrorIs(t, d.InitDevice(context.Background()), device.ErrNoDevice)
}

func TestChangedIgnoresUnknownPaths(t *testing.T) {
	f := newFixture(t)
	f.mgr.Changed("/user/dev/misc/unknown")
	assert.Equal(t, 0, f.mgr.Pending())
}

func TestDeviceCapabilities(t *testing.T) {
	for _, tt := range []struct {
		version int32
		want    device.Capability
	}{
		{1, device.HasRead},
		{2, device.HasRead | device.HasSelect},
	} {
		f := newFixture(t)
		s := newScript("misc/c")
		s.version = tt.version
		f.install(t, "/user/dev/misc/c", s)
		require.NoError(t, f.mgr.Add("/user/dev/misc/c"))

		d := f.publisher.get("misc/c")
		assert.Equal(t, tt.want, d.Capabilities(), "version %d", tt.version)

		err := d.Select(nil, device.EventRead, nil)
		if tt.version == 1 {
			assert.ErrorIs(t, err, device.ErrNotSupported)
		} else {
			assert.NoError(t, err)
		}
		assert.ErrorIs(t, d.Deselect(nil, device.EventRead, nil), device.ErrNotSupported)
		_, err = d.Write(nil, 0, nil)
		assert.ErrorIs(t, err, device.ErrNotSupported)
		assert.ErrorIs(t, d.Control(nil, device.GetGeometry, nil), device.ErrBadValue)
		assert.ErrorIs(t, d.IO(nil, &device.Request{}), device.ErrNotSupported)
	}
}

func TestCloseUnpublishesEverything(t *testing.T) {
	f := newFixture(t)
	s := newScript("misc/z")
	f.install(t, "/user/dev/misc/z", s)
	require.NoError(t, f.mgr.Add("/user/dev/misc/z"))
	d := f.publisher.get("misc/z")
	s.took()

	f.mgr.Close()

	assert.Empty(t, f.publisher.paths())
	assert.Equal(t, []string{"uninit driver", "uninit hardware"}, s.took())
	assert.ErrorIs(t, d.InitDevice(context.Background()), device.ErrNoDevice)
}
