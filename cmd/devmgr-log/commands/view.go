// Package commands implements the devmgr-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/haiku/devmgr/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer    *log.Layer
	Category *log.Category
	Path     string
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{Layer: f.Layer, Category: f.Category, Path: f.Path}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session] LAYER Type subject
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [%s] %s %s", ts, shortenSession(event.Session), event.Layer, eventType(event))
	if subject := eventSubject(event); subject != "" {
		fmt.Fprintf(w, " %s", subject)
	}
	fmt.Fprintln(w)

	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Driver != nil:
		formatDriverDetails(w, event.Driver)
	case event.Resource != nil:
		formatResourceDetails(w, event.Resource)
	case event.Publish != nil:
		formatPublishDetails(w, event.Publish)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// eventType returns the label of the payload that is set.
func eventType(event log.Event) string {
	switch {
	case event.StateChange != nil:
		return "State"
	case event.Driver != nil:
		return "Driver"
	case event.Resource != nil:
		return "Resource"
	case event.Publish != nil:
		if event.Publish.OldPath != "" {
			return "Rename"
		}
		if event.Publish.Published {
			return "Publish"
		}
		return "Unpublish"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// eventSubject names what the event is about.
func eventSubject(event log.Event) string {
	var parts []string
	if event.NodeID != 0 {
		parts = append(parts, fmt.Sprintf("#%d", event.NodeID))
	}
	if event.Module != "" {
		parts = append(parts, event.Module)
	}
	if event.Path != "" {
		parts = append(parts, event.Path)
	}
	return strings.Join(parts, " ")
}

// shortenSession returns the first 8 characters of the session ID.
func shortenSession(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatDriverDetails(w io.Writer, d *log.DriverEvent) {
	fmt.Fprintf(w, "  Driver: %s\n", d.Driver)
	fmt.Fprintf(w, "  Support: %.3f", d.Support)
	if d.Selected {
		fmt.Fprint(w, " (selected)")
	}
	fmt.Fprintln(w)
	if d.SearchPath != "" {
		fmt.Fprintf(w, "  Search path: %s\n", d.SearchPath)
	}
}

func formatResourceDetails(w io.Writer, r *log.ResourceEvent) {
	action := "released"
	if r.Acquired {
		action = "acquired"
	}
	fmt.Fprintf(w, "  %s %s base=%#x length=%#x\n", r.Type, action, r.Base, r.Length)
}

func formatPublishDetails(w io.Writer, p *log.PublishEvent) {
	if p.OldPath != "" {
		fmt.Fprintf(w, "  Renamed from: %s\n", p.OldPath)
	}
	if p.Partition {
		fmt.Fprintf(w, "  Partition: offset=%d size=%d\n", p.Offset, p.Size)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "registry":
		return log.LayerRegistry, nil
	case "legacy":
		return log.LayerLegacy, nil
	case "devfs":
		return log.LayerDevfs, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be registry, legacy, or devfs)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "driver":
		return log.CategoryDriver, nil
	case "resource":
		return log.CategoryResource, nil
	case "publish":
		return log.CategoryPublish, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, driver, resource, publish, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
