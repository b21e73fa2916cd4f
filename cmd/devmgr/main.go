// Command devmgr runs the device manager: the device node registry with its
// drivers, the legacy driver layer and devfs.
//
// Devfs can be mounted on the host through FUSE. Without a mount the
// device tree is reachable through the interactive shell.
//
// Usage:
//
//	devmgr [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-log-level string   Log level: debug, info, warn, error
//	-mount string       Mount devfs at this directory
//	-event-log string   Write structured events to this CBOR file
//	-interactive        Start the interactive shell
//
// Examples:
//
//	# Start with the default configuration and a shell
//	devmgr -interactive
//
//	# Mount devfs and record events for devmgr-log
//	devmgr -config /etc/devmgr.yaml -mount /tmp/dev -event-log devmgr.cbor
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/haiku/devmgr/cmd/devmgr/shell"
	"github.com/haiku/devmgr/pkg/config"
	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/devfs/fusefs"
	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
	"github.com/haiku/devmgr/pkg/idgen"
	"github.com/haiku/devmgr/pkg/legacy"
	devlog "github.com/haiku/devmgr/pkg/log"
	"github.com/haiku/devmgr/pkg/module"
	"github.com/haiku/devmgr/pkg/registry"
)

var (
	configFile  string
	logLevel    string
	mountpoint  string
	eventLog    string
	interactive bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&mountpoint, "mount", "", "Mount devfs at this directory (overrides config)")
	flag.StringVar(&eventLog, "event-log", "", "Write structured events to this CBOR file (overrides config)")
	flag.BoolVar(&interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mountpoint != "" {
		cfg.Devfs.Mountpoint = mountpoint
	}
	if eventLog != "" {
		cfg.EventLog = eventLog
	}
	return cfg, cfg.Validate()
}

// daemon holds the running components.
type daemon struct {
	registry *registry.Registry
	legacy   *legacy.Manager
	fs       *devfs.FS
}

func newDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, events devlog.Logger, session string) (*daemon, error) {
	ids := idgen.New()
	modules := module.NewTable()
	if err := ramdisk.Register(modules, ramdisk.Config{IDs: ids, Logger: logger}); err != nil {
		return nil, fmt.Errorf("registering ram disk driver: %w", err)
	}

	reg, err := registry.New(registry.Options{
		Modules:  modules,
		IDs:      ids,
		Logger:   logger,
		EventLog: events,
		Session:  session,
	})
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	osFs := afero.NewOsFs()
	lm, err := legacy.NewManager(legacy.Options{
		Loader:        legacy.NewYaegiLoader(osFs),
		Fs:            osFs,
		Locations:     cfg.Legacy.Locations(),
		SweepInterval: cfg.Legacy.SweepInterval,
		Watch:         cfg.Legacy.Watch,
		Logger:        logger,
		EventLog:      events,
		Session:       session,
	})
	if err != nil {
		return nil, fmt.Errorf("creating legacy manager: %w", err)
	}

	bootAvailable := cfg.Devfs.BootDeviceAvailable
	fsys := devfs.New(devfs.Options{
		Probers:             []devfs.Prober{reg, lm},
		BootDeviceAvailable: func() bool { return bootAvailable },
		Logger:              logger,
		EventLog:            events,
		Session:             session,
	})
	reg.SetPublisher(fsys)
	lm.SetPublisher(fsys)

	if err := reg.Init(ctx); err != nil {
		lm.Close()
		return nil, fmt.Errorf("initializing registry: %w", err)
	}

	for _, rd := range cfg.RamDisks {
		n, err := ramdisk.Add(ctx, reg, rd.Name, rd.Size)
		if err != nil {
			logger.Warn("ram disk not added", "name", rd.Name, "error", err)
			continue
		}
		logger.Info("ram disk added", "name", rd.Name, "size", rd.Size, "node", n.ID())
	}

	return &daemon{registry: reg, legacy: lm, fs: fsys}, nil
}

func (d *daemon) close() {
	d.legacy.Close()
	d.fs.Unmount()
}

func run() error {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	var sh *shell.Shell
	var logOut io.Writer = os.Stderr
	if interactive {
		if sh, err = shell.New(); err != nil {
			return err
		}
		logOut = sh.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	session := uuid.New().String()
	var events devlog.Logger = devlog.NoopLogger{}
	if cfg.EventLog != "" {
		fileLog, err := devlog.NewFileLogger(cfg.EventLog)
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		defer fileLog.Close()
		events = devlog.NewMultiLogger(fileLog, devlog.NewSlogAdapter(logger))
		logger.Info("event logging enabled", "path", cfg.EventLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger, events, session)
	if err != nil {
		return err
	}
	defer d.close()
	logger.Info("device manager started", "session", session)

	g, gctx := errgroup.WithContext(ctx)

	if err := d.legacy.Start(gctx); err != nil {
		return fmt.Errorf("starting legacy manager: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		d.legacy.Stop()
		return nil
	})

	if cfg.Devfs.Mountpoint != "" {
		server, err := fusefs.Mount(fusefs.Options{
			Mountpoint: cfg.Devfs.Mountpoint,
			FS:         d.fs,
			AllowOther: cfg.Devfs.AllowOther,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		logger.Info("devfs mounted", "mountpoint", cfg.Devfs.Mountpoint)
		g.Go(func() error { return serveMount(gctx, server, logger) })
	}

	if sh != nil {
		sh.Attach(shell.Components{Registry: d.registry, FS: d.fs, Legacy: d.legacy})
		shellCtx, quit := context.WithCancel(gctx)
		g.Go(func() error {
			<-shellCtx.Done()
			_ = sh.Close()
			return nil
		})
		g.Go(func() error {
			defer quit()
			sh.Run(shellCtx, quit)
			// leaving the shell stops the daemon
			stop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// serveMount waits for the FUSE server and unmounts it when ctx is done.
func serveMount(ctx context.Context, server *fuse.Server, logger *slog.Logger) error {
	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.New("devfs mount ended unexpectedly")
	case <-ctx.Done():
	}
	if err := server.Unmount(); err != nil {
		logger.Warn("unmount failed", "error", err)
	}
	<-done
	return nil
}
