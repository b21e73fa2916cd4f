// Package config loads the device manager configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
)

// Config is the daemon configuration.
type Config struct {
	Legacy   LegacyConfig   `yaml:"legacy"`
	Devfs    DevfsConfig    `yaml:"devfs"`
	EventLog string         `yaml:"event_log"`
	LogLevel string         `yaml:"log_level"`
	RamDisks []RamDiskEntry `yaml:"ramdisks"`
}

// LegacyConfig configures the legacy driver layer.
type LegacyConfig struct {
	// Install locations in descending priority.
	User   string `yaml:"user"`
	Common string `yaml:"common"`
	System string `yaml:"system"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	Watch         bool          `yaml:"watch"`
}

// Locations returns the configured install locations, highest priority
// first. Empty entries are skipped.
func (c LegacyConfig) Locations() []string {
	var locs []string
	for _, l := range []string{c.User, c.Common, c.System} {
		if l != "" {
			locs = append(locs, l)
		}
	}
	return locs
}

// DevfsConfig configures devfs and its optional host mount.
type DevfsConfig struct {
	// Mountpoint is the host directory for the FUSE mount. Empty
	// disables the mount.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther lets other users access the mount.
	AllowOther bool `yaml:"allow_other"`

	// BootDeviceAvailable switches directory scanning to the post-boot
	// mode immediately.
	BootDeviceAvailable bool `yaml:"boot_device_available"`
}

// RamDiskEntry is a memory disk registered at startup.
type RamDiskEntry struct {
	Name string `yaml:"name"`
	Size uint64 `yaml:"size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Legacy: LegacyConfig{
			User:          "/boot/home/config/non-packaged/add-ons/kernel/drivers",
			Common:        "/boot/system/non-packaged/add-ons/kernel/drivers",
			System:        "/boot/system/add-ons/kernel/drivers",
			SweepInterval: time.Second,
			Watch:         true,
		},
		LogLevel: "info",
	}
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() error {
	var errs []error
	if c.Legacy.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("legacy.sweep_interval must be positive, got %s", c.Legacy.SweepInterval))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for i, rd := range c.RamDisks {
		if rd.Name == "" {
			errs = append(errs, fmt.Errorf("ramdisks[%d]: name is required", i))
		} else if seen[rd.Name] {
			errs = append(errs, fmt.Errorf("ramdisks[%d]: duplicate name %q", i, rd.Name))
		}
		seen[rd.Name] = true
		if err := ramdisk.ValidSize(rd.Size); err != nil {
			errs = append(errs, fmt.Errorf("ramdisks[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
