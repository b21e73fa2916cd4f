// Package shell provides the interactive command-line interface of devmgr.
package shell

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/inspect"
	"github.com/haiku/devmgr/pkg/legacy"
	"github.com/haiku/devmgr/pkg/registry"
)

// Components are the parts of the running device manager the shell works
// on. Legacy may be nil.
type Components struct {
	Registry *registry.Registry
	FS       *devfs.FS
	Legacy   *legacy.Manager
}

// Shell handles the interactive mode.
type Shell struct {
	c         Components
	inspector *inspect.Inspector
	formatter *inspect.Formatter
	rl        *readline.Instance
	out       io.Writer
}

// New creates a shell reading from the terminal. Components are attached
// with Attach before Run.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devmgr> ",
		HistoryLimit:    500,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl, out: rl.Stdout(), formatter: inspect.NewFormatter()}, nil
}

// newShell creates a shell without a terminal; commands are fed to Exec.
func newShell(c Components, out io.Writer) *Shell {
	s := &Shell{out: out, formatter: inspect.NewFormatter()}
	s.Attach(c)
	return s
}

// Attach sets the components the commands work on.
func (s *Shell) Attach(c Components) {
	s.c = c
	s.inspector = inspect.NewInspector(c.Registry, c.FS, c.Legacy)
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	if s.rl != nil {
		return s.rl.Stdout()
	}
	return s.out
}

// Run reads commands until the user quits or ctx is done. cancel is called
// when the user quits.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	fmt.Fprintln(s.out, "Type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if quit := s.Exec(ctx, line); quit {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Close releases the terminal. Run closes it on return.
func (s *Shell) Close() error {
	if s.rl == nil {
		return nil
	}
	return s.rl.Close()
}

// Exec runs one command line and reports whether the user asked to quit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "tree", "t":
		err = s.cmdTree(ctx, args)
	case "node", "n":
		err = s.cmdNode(ctx, args)
	case "find", "f":
		err = s.cmdFind(ctx, args)
	case "rescan":
		err = s.cmdRescan(ctx, args)
	case "reprobe":
		err = s.cmdReprobe(ctx, args)
	case "ls":
		err = s.cmdList(ctx, args)
	case "stat":
		err = s.cmdStat(ctx, args)
	case "cat":
		err = s.cmdCat(ctx, args)
	case "write":
		err = s.cmdWrite(ctx, args)
	case "partition", "part":
		err = s.cmdPartition(args)
	case "ramdisk":
		err = s.cmdRamDisk(ctx, args)
	case "legacy":
		err = s.cmdLegacy(ctx, args)
	case "info":
		s.cmdInfo()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Device Manager Commands:
  Node tree:
    tree [#id]                 - Show the node tree (or a subtree)
    node <#id>                 - Show one node with its attributes
    find <attr=value>...       - List nodes matching all filters
    rescan <#id>               - Look for new drivers below a node
    reprobe <#id>              - Rebind the best driver of a node

  Devfs:
    ls [path]                  - List a devfs directory
    stat <path>                - Show an entry
    cat <path> [n] [offset]    - Hex dump n bytes of a device (default 256)
    write <path> <offset> <text> - Write text to a device
    partition add <name> <device> <offset> <size>
    partition rm <path>
    partition mv <device> <old> <new>
    info                       - Show volume information

  Drivers:
    ramdisk add <name> <size>  - Register a memory disk
    ramdisk rm <#id>           - Unregister a memory disk controller
    legacy                     - List legacy drivers
    legacy rescan <name>       - Republish a legacy driver

  General:
    help                       - Show this help
    quit                       - Exit

  Filters:
    bus=pci, vendor=0x8086, device/type=1, my/attr:uint32=7`)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("tree"),
		readline.PcItem("node"),
		readline.PcItem("find"),
		readline.PcItem("rescan"),
		readline.PcItem("reprobe"),
		readline.PcItem("ls"),
		readline.PcItem("stat"),
		readline.PcItem("cat"),
		readline.PcItem("write"),
		readline.PcItem("partition",
			readline.PcItem("add"),
			readline.PcItem("rm"),
			readline.PcItem("mv"),
		),
		readline.PcItem("ramdisk",
			readline.PcItem("add"),
			readline.PcItem("rm"),
		),
		readline.PcItem("legacy",
			readline.PcItem("rescan"),
		),
		readline.PcItem("info"),
		readline.PcItem("quit"),
	)
}
