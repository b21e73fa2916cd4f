// Package log records structured device manager events.
//
// Events are captured by the registry (node lifecycle, driver selection,
// resource claims), the legacy driver layer (image loads and reloads) and
// devfs (publishing and partitions). This is separate from diagnostic
// logging with slog: the event log is a machine-readable trace that can be
// replayed and filtered after the fact with devmgr-log.
//
// # Basic Usage
//
//	// development: print events through slog
//	opts.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// production: append to a binary file
//	opts.EventLog, _ = log.NewFileLogger("/var/log/devmgr/events.dlog")
//
//	// both
//	opts.EventLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Event files are a stream of CBOR maps with integer keys (.dlog).
package log
