package inspect

import (
	"fmt"
	"io"
	"strings"

	"github.com/haiku/devmgr/pkg/legacy"
	"github.com/haiku/devmgr/pkg/registry"
)

// Formatter formats inspection output.
type Formatter struct {
	// ShowIDs includes node and vnode IDs
	ShowIDs bool

	// ShowFlags includes node flags and reference counts
	ShowFlags bool

	// IndentWidth is the number of spaces per indent level
	IndentWidth int
}

// NewFormatter creates a new Formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		ShowIDs:     true,
		ShowFlags:   true,
		IndentWidth: 2,
	}
}

// Indent returns the content with indentation.
func (f *Formatter) Indent(depth int, content string) string {
	width := f.IndentWidth
	if width == 0 {
		width = 2
	}
	return strings.Repeat(" ", depth*width) + content
}

// FormatNodeHeader formats the first line of a node.
func (f *Formatter) FormatNodeHeader(n registry.NodeInfo) string {
	var sb strings.Builder
	if f.ShowIDs {
		fmt.Fprintf(&sb, "#%d ", n.ID)
	}
	fmt.Fprintf(&sb, "%q", n.Module)
	if f.ShowFlags {
		fmt.Fprintf(&sb, " (ref %d, init %d)", n.Refs, n.InitCount)
		if n.Flags != 0 {
			fmt.Fprintf(&sb, " [%s]", n.Flags)
		}
	}
	return sb.String()
}

// FormatNode writes one node with its attributes and published devices,
// without children.
func (f *Formatter) FormatNode(w io.Writer, n registry.NodeInfo) error {
	return f.formatNode(w, n, 0, false)
}

// FormatTree writes the node and its subtree, one level of indentation per
// depth.
func (f *Formatter) FormatTree(w io.Writer, n registry.NodeInfo) error {
	return f.formatNode(w, n, 0, true)
}

func (f *Formatter) formatNode(w io.Writer, n registry.NodeInfo, depth int, recurse bool) error {
	if _, err := fmt.Fprintln(w, f.Indent(depth, f.FormatNodeHeader(n))); err != nil {
		return err
	}
	for _, a := range n.Attrs {
		if _, err := fmt.Fprintln(w, f.Indent(depth+2, a.String())); err != nil {
			return err
		}
	}
	for _, d := range n.Devices {
		if _, err := fmt.Fprintln(w, f.Indent(depth+2, "device "+d)); err != nil {
			return err
		}
	}
	if !recurse {
		return nil
	}
	for _, c := range n.Children {
		if err := f.formatNode(w, c, depth+1, true); err != nil {
			return err
		}
	}
	return nil
}

// FormatEntry formats a devfs entry as one line.
func (f *Formatter) FormatEntry(e EntryInfo) string {
	name := e.Path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var sb strings.Builder
	sb.WriteString(e.Mode.String())
	if f.ShowIDs {
		fmt.Fprintf(&sb, " %6d", e.ID)
	}
	fmt.Fprintf(&sb, " %10s %s", FormatSize(e.Size), name)
	if e.Target != "" {
		sb.WriteString(" -> " + e.Target)
	}
	if e.IsDir() {
		sb.WriteString("/")
	}
	return sb.String()
}

// FormatEntries writes a directory listing.
func (f *Formatter) FormatEntries(w io.Writer, entries []EntryInfo) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "  (empty)")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, f.FormatEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

// FormatSize formats a byte count in binary units.
func FormatSize(n int64) string {
	if n == 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDrivers writes the legacy driver records as a table.
func (f *Formatter) FormatDrivers(w io.Writer, drivers []legacy.DriverInfo) error {
	if len(drivers) == 0 {
		_, err := fmt.Fprintln(w, "  (no drivers)")
		return err
	}
	for _, d := range drivers {
		state := "unloaded"
		if d.Loaded {
			state = fmt.Sprintf("loaded v%d", d.Version)
		}
		line := fmt.Sprintf("%-16s %-12s prio %d used %d %s", d.Name, state, d.Priority, d.Used, d.Path)
		if d.Dirty {
			line += " (reload pending)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, dev := range d.Devices {
			if _, err := fmt.Fprintln(w, f.Indent(1, "device "+dev)); err != nil {
				return err
			}
		}
	}
	return nil
}
