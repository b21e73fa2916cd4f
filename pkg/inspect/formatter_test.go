package inspect

import (
	"bytes"
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/devfs"
	"github.com/haiku/devmgr/pkg/legacy"
	"github.com/haiku/devmgr/pkg/registry"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{0, "-"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{64 << 20, "64.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatSize(tt.n))
	}
}

func TestFormatTree(t *testing.T) {
	tree := registry.NodeInfo{
		ID:        1,
		Module:    "root",
		Refs:      2,
		InitCount: 1,
		Flags:     registry.KeepDriverLoaded,
		Attrs:     []attr.Attr{attr.String(attr.Bus, "root")},
		Children: []registry.NodeInfo{{
			ID:      2,
			Module:  "disk",
			Attrs:   []attr.Attr{attr.Uint16(attr.Type, 1)},
			Devices: []string{"disk/virtual/ram/0/raw"},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter().FormatTree(&buf, tree))
	assert.Equal(t, strings.Join([]string{
		`#1 "root" (ref 2, init 1) [keep-loaded]`,
		`    device/bus : string : "root"`,
		`  #2 "disk" (ref 0, init 0)`,
		`      device/type : uint16 : 0x1 (1)`,
		`      device disk/virtual/ram/0/raw`,
		``,
	}, "\n"), buf.String())

	buf.Reset()
	f := &Formatter{}
	require.NoError(t, f.FormatNode(&buf, tree))
	assert.Equal(t, "\"root\"\n    device/bus : string : \"root\"\n", buf.String())
}

func TestFormatEntries(t *testing.T) {
	f := &Formatter{}

	assert.Equal(t, "drwxr-xr-x          - disk/",
		f.FormatEntry(EntryInfo{Path: "disk", Stat: devfs.Stat{Mode: fs.ModeDir | 0o755}}))
	assert.Equal(t, "Lrwxrwxrwx        4 B loop -> /tmp/img",
		f.FormatEntry(EntryInfo{Path: "disk/loop", Stat: devfs.Stat{Mode: fs.ModeSymlink | 0o777, Size: 4, Target: "/tmp/img"}}))

	f.ShowIDs = true
	assert.Equal(t, "Drw-r--r--     12    2.0 KiB 0_0",
		f.FormatEntry(EntryInfo{Path: "disk/ata/0/0_0", Stat: devfs.Stat{ID: 12, Mode: fs.ModeDevice | 0o644, Size: 2048}}))

	var buf bytes.Buffer
	require.NoError(t, f.FormatEntries(&buf, nil))
	assert.Equal(t, "  (empty)\n", buf.String())
}

func TestFormatDrivers(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter()
	require.NoError(t, f.FormatDrivers(&buf, nil))
	assert.Equal(t, "  (no drivers)\n", buf.String())

	buf.Reset()
	require.NoError(t, f.FormatDrivers(&buf, []legacy.DriverInfo{
		{Name: "null", Path: "/system/dev/misc/null", Priority: 0, Loaded: true, Version: 2, Used: 1, Devices: []string{"misc/null"}},
		{Name: "zero", Path: "/user/dev/misc/zero", Priority: 2, Dirty: true},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "loaded v2")
	assert.Contains(t, lines[0], "used 1")
	assert.Equal(t, "  device misc/null", lines[1])
	assert.Contains(t, lines[2], "unloaded")
	assert.Contains(t, lines[2], "(reload pending)")
}

func TestFormatLiveTree(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tree, err := fx.ins.Tree(ctx)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, NewFormatter().FormatTree(&buf, tree))
	out := buf.String()
	assert.Contains(t, out, registry.RootModuleName)
	assert.Contains(t, out, registry.GenericModuleName)
	assert.Contains(t, out, "device disk/virtual/ram/0/raw")
}
