package shell

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
	"github.com/haiku/devmgr/pkg/inspect"
	"github.com/haiku/devmgr/pkg/registry"
)

const defaultDumpSize = 256

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

func (s *Shell) requireRegistry() error {
	if s.c.Registry == nil {
		return fmt.Errorf("%w: registry", inspect.ErrUnavailable)
	}
	return nil
}

func (s *Shell) requireFS() error {
	if s.c.FS == nil {
		return fmt.Errorf("%w: devfs", inspect.ErrUnavailable)
	}
	return nil
}

func (s *Shell) cmdTree(ctx context.Context, args []string) error {
	tree, err := s.inspector.Tree(ctx)
	if len(args) > 0 {
		id, perr := inspect.ParseNodeRef(args[0])
		if perr != nil {
			return perr
		}
		tree, err = s.inspector.Node(ctx, id)
	}
	if err != nil {
		return err
	}
	return s.formatter.FormatTree(s.out, tree)
}

func (s *Shell) cmdNode(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("node <#id>")
	}
	id, err := inspect.ParseNodeRef(args[0])
	if err != nil {
		return err
	}
	n, err := s.inspector.Node(ctx, id)
	if err != nil {
		return err
	}
	return s.formatter.FormatNode(s.out, n)
}

func (s *Shell) cmdFind(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("find <attr=value>...")
	}
	want, err := inspect.ParseFilters(args)
	if err != nil {
		return err
	}
	nodes, err := s.inspector.Find(ctx, want)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(s.out, "  (no match)")
		return nil
	}
	for _, n := range nodes {
		fmt.Fprintln(s.out, s.formatter.FormatNodeHeader(n))
	}
	return nil
}

// withNode resolves a node reference and runs fn with a held reference.
func (s *Shell) withNode(ctx context.Context, ref string, fn func(*registry.Node) error) error {
	if err := s.requireRegistry(); err != nil {
		return err
	}
	id, err := inspect.ParseNodeRef(ref)
	if err != nil {
		return err
	}
	n, err := s.c.Registry.NodeByID(ctx, id)
	if err != nil {
		return err
	}
	defer s.c.Registry.Put(ctx, n)
	return fn(n)
}

func (s *Shell) cmdRescan(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("rescan <#id>")
	}
	return s.withNode(ctx, args[0], func(n *registry.Node) error {
		if err := s.c.Registry.Rescan(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Rescanned #%d\n", n.ID())
		return nil
	})
}

func (s *Shell) cmdReprobe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("reprobe <#id>")
	}
	return s.withNode(ctx, args[0], func(n *registry.Node) error {
		if err := s.c.Registry.Reprobe(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Reprobed #%d\n", n.ID())
		return nil
	})
}

func (s *Shell) cmdList(ctx context.Context, args []string) error {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := s.inspector.Entries(ctx, dir)
	if err != nil {
		return err
	}
	return s.formatter.FormatEntries(s.out, entries)
}

func (s *Shell) cmdStat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("stat <path>")
	}
	if err := s.requireFS(); err != nil {
		return err
	}
	st, err := s.c.FS.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, s.formatter.FormatEntry(inspect.EntryInfo{Path: args[0], Stat: st}))
	fmt.Fprintf(s.out, "  modified %s\n", st.ModTime.Format("2006-01-02 15:04:05"))
	return nil
}

func (s *Shell) cmdCat(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return usage("cat <path> [n] [offset]")
	}
	if err := s.requireFS(); err != nil {
		return err
	}
	n, off := int64(defaultDumpSize), int64(0)
	var err error
	if len(args) > 1 {
		if n, err = strconv.ParseInt(args[1], 0, 64); err != nil || n <= 0 {
			return fmt.Errorf("invalid length %q", args[1])
		}
	}
	if len(args) > 2 {
		if off, err = strconv.ParseInt(args[2], 0, 64); err != nil || off < 0 {
			return fmt.Errorf("invalid offset %q", args[2])
		}
	}

	f, err := s.c.FS.Open(ctx, args[0], os.O_RDONLY)
	if err != nil {
		return err
	}
	defer f.Free()

	buf := make([]byte, n)
	got, err := f.Read(off, buf)
	if err != nil {
		return err
	}
	if got == 0 {
		fmt.Fprintln(s.out, "  (end of device)")
		return nil
	}
	fmt.Fprint(s.out, hex.Dump(buf[:got]))
	return nil
}

func (s *Shell) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("write <path> <offset> <text>")
	}
	if err := s.requireFS(); err != nil {
		return err
	}
	off, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil || off < 0 {
		return fmt.Errorf("invalid offset %q", args[1])
	}

	f, err := s.c.FS.Open(ctx, args[0], os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Free()

	n, err := f.Write(off, []byte(strings.Join(args[2:], " ")))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %d bytes\n", n)
	return nil
}

func (s *Shell) cmdPartition(args []string) error {
	const help = "partition add <name> <device> <offset> <size> | rm <path> | mv <device> <old> <new>"
	if len(args) == 0 {
		return usage(help)
	}
	if err := s.requireFS(); err != nil {
		return err
	}

	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) != 5 {
			return usage("partition add <name> <device> <offset> <size>")
		}
		off, err := strconv.ParseInt(args[3], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q", args[3])
		}
		size, err := strconv.ParseInt(args[4], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q", args[4])
		}
		if err := s.c.FS.PublishPartition(args[1], args[2], off, size); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Published partition %s\n", args[1])
	case "rm":
		if len(args) != 2 {
			return usage("partition rm <path>")
		}
		if err := s.c.FS.UnpublishPartition(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Removed %s\n", args[1])
	case "mv":
		if len(args) != 4 {
			return usage("partition mv <device> <old> <new>")
		}
		if err := s.c.FS.RenamePartition(args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Renamed %s to %s\n", args[2], args[3])
	default:
		return usage(help)
	}
	return nil
}

func (s *Shell) cmdRamDisk(ctx context.Context, args []string) error {
	const help = "ramdisk add <name> <size> | rm <#id>"
	if len(args) == 0 {
		return usage(help)
	}
	if err := s.requireRegistry(); err != nil {
		return err
	}

	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) != 3 {
			return usage("ramdisk add <name> <size>")
		}
		size, err := strconv.ParseUint(args[2], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q", args[2])
		}
		n, err := ramdisk.Add(ctx, s.c.Registry, args[1], size)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Registered RAM disk %s as #%d\n", args[1], n.ID())
	case "rm":
		if len(args) != 2 {
			return usage("ramdisk rm <#id>")
		}
		return s.withNode(ctx, args[1], func(n *registry.Node) error {
			if n.ModuleName() != ramdisk.ControllerModuleName {
				return fmt.Errorf("#%d is not a RAM disk controller", n.ID())
			}
			// our own reference defers destruction to the Put in withNode
			err := s.c.Registry.UnregisterNode(ctx, n)
			if err != nil && !errors.Is(err, registry.ErrBusy) {
				return err
			}
			fmt.Fprintf(s.out, "Unregistered #%d\n", n.ID())
			return nil
		})
	default:
		return usage(help)
	}
	return nil
}

func (s *Shell) cmdLegacy(ctx context.Context, args []string) error {
	if s.c.Legacy == nil {
		return fmt.Errorf("%w: legacy drivers", inspect.ErrUnavailable)
	}
	if len(args) == 0 {
		return s.formatter.FormatDrivers(s.out, s.inspector.Drivers())
	}
	if strings.ToLower(args[0]) != "rescan" || len(args) != 2 {
		return usage("legacy [rescan <name>]")
	}
	if err := s.requireFS(); err != nil {
		return err
	}
	if err := s.c.FS.Rescan(ctx, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Rescanned %s\n", args[1])
	return nil
}

func (s *Shell) cmdInfo() {
	if s.c.FS == nil {
		fmt.Fprintln(s.out, "devfs not configured")
		return
	}
	info := s.c.FS.GetInfo()
	fmt.Fprintf(s.out, "Volume:  %s (%s)\n", info.Name, info.ID)
	fmt.Fprintf(s.out, "Nodes:   %d\n", info.Nodes)
	fmt.Fprintf(s.out, "Devices: %d\n", info.Devices)
	fmt.Fprintf(s.out, "Mounted: %s\n", info.Mounted.Format("2006-01-02 15:04:05"))
}
