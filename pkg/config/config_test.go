package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Legacy.Locations(), 3)
	assert.Empty(t, cfg.Devfs.Mountpoint)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
legacy:
  user: /home/drivers
  common: ""
  system: /system/drivers
  sweep_interval: 250ms
  watch: false
devfs:
  mountpoint: /mnt/dev
  boot_device_available: true
event_log: /var/log/devmgr.cbor
log_level: debug
ramdisks:
  - name: scratch
    size: 1048576
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"/home/drivers", "/system/drivers"}, cfg.Legacy.Locations())
	assert.Equal(t, 250*time.Millisecond, cfg.Legacy.SweepInterval)
	assert.False(t, cfg.Legacy.Watch)
	assert.Equal(t, "/mnt/dev", cfg.Devfs.Mountpoint)
	assert.True(t, cfg.Devfs.BootDeviceAvailable)
	assert.Equal(t, "/var/log/devmgr.cbor", cfg.EventLog)
	assert.Equal(t, []RamDiskEntry{{Name: "scratch", Size: 1 << 20}}, cfg.RamDisks)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log_level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Legacy.SweepInterval)
	assert.True(t, cfg.Legacy.Watch)
	assert.Equal(t, Default().Legacy.System, cfg.Legacy.System)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sweep interval", func(c *Config) { c.Legacy.SweepInterval = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"ramdisk name", func(c *Config) { c.RamDisks = []RamDiskEntry{{Size: ramdisk.BlockSize}} }},
		{"ramdisk size", func(c *Config) { c.RamDisks = []RamDiskEntry{{Name: "a", Size: 100}} }},
		{"duplicate ramdisk", func(c *Config) {
			c.RamDisks = []RamDiskEntry{{Name: "a", Size: ramdisk.BlockSize}, {Name: "a", Size: ramdisk.BlockSize}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.RamDisks = []RamDiskEntry{{Name: "a", Size: 0}}
	assert.ErrorIs(t, cfg.Validate(), ramdisk.ErrBadSize)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("legacy: [1, 2"))
	assert.Error(t, err)

	_, err = Parse([]byte("legacy:\n  sweep_interval: -1s\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devfs:\n  mountpoint: /tmp/dev\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dev", cfg.Devfs.Mountpoint)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}
