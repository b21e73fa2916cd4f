// Command devmgr-log is a tool for viewing and analyzing device manager
// event logs.
//
// Log files are written by devmgr when it runs with the -event-log flag or
// the event_log configuration key.
//
// Usage:
//
//	devmgr-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	devmgr-log view devmgr.cbor
//
//	# View only devfs publish events
//	devmgr-log view --layer devfs --category publish devmgr.cbor
//
//	# Keep the events of one node
//	devmgr-log filter --node 12 -o node12.cbor devmgr.cbor
//
//	# Show statistics
//	devmgr-log stats devmgr.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/haiku/devmgr/cmd/devmgr-log/commands"
)

const usage = `devmgr-log - Device Manager Event Log Analyzer

Usage:
  devmgr-log <command> [flags] <file.cbor>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "devmgr-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// logPath returns the single positional argument or exits.
func logPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `devmgr-log view - View log file in human-readable format

Usage:
  devmgr-log view [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (registry, legacy, devfs)")
	category := fs.String("category", "", "Filter by category (state, driver, resource, publish, error)")
	path := fs.String("path", "", "Filter by path prefix")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	file := logPath(fs)

	filter := commands.ViewFilter{Path: *path}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(file, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `devmgr-log export - Export log file to JSON or CSV format

Usage:
  devmgr-log export [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunExport(logPath(fs), *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `devmgr-log filter - Filter log file and write to new file

Usage:
  devmgr-log filter [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.Session, "session", "", "Filter by session ID")
	fs.UintVar(&opts.NodeID, "node", 0, "Filter by registry node ID")
	fs.StringVar(&opts.Module, "module", "", "Filter by module name prefix")
	fs.StringVar(&opts.Path, "path", "", "Filter by path prefix")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (registry, legacy, devfs)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (state, driver, resource, publish, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	file := logPath(fs)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunFilter(file, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `devmgr-log stats - Show statistics about the log file

Usage:
  devmgr-log stats <file.cbor>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunStats(logPath(fs), os.Stdout); err != nil {
		fail(err)
	}
}
