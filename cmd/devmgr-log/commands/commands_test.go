package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haiku/devmgr/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cbor")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts,
			Session:   "0123456789abcdef",
			Layer:     log.LayerRegistry,
			Category:  log.CategoryState,
			NodeID:    3,
			Module:    "bus_managers/ram_disk/driver_v1",
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityNode,
				NewState: "registered",
			},
		},
		{
			Timestamp: ts.Add(time.Millisecond),
			Session:   "0123456789abcdef",
			Layer:     log.LayerRegistry,
			Category:  log.CategoryDriver,
			NodeID:    3,
			Driver: &log.DriverEvent{
				Driver:   "drivers/disk/virtual/ram/driver_v1",
				Support:  1,
				Selected: true,
			},
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond),
			Session:   "0123456789abcdef",
			Layer:     log.LayerDevfs,
			Category:  log.CategoryPublish,
			Path:      "disk/virtual/ram/0/raw",
			Publish:   &log.PublishEvent{Published: true},
		},
		{
			Timestamp: ts.Add(3 * time.Millisecond),
			Session:   "0123456789abcdef",
			Layer:     log.LayerDevfs,
			Category:  log.CategoryPublish,
			Path:      "disk/virtual/ram/0/0_0",
			Publish:   &log.PublishEvent{Published: true, Partition: true, Offset: 512, Size: 1024},
		},
		{
			Timestamp: ts.Add(2 * time.Second),
			Session:   "fedcba9876543210",
			Layer:     log.LayerLegacy,
			Category:  log.CategoryError,
			Module:    "null",
			Path:      "/system/dev/misc/null",
			Error:     &log.ErrorEventData{Layer: log.LayerLegacy, Message: "symbol missing", Context: "resolve"},
		},
	}
}

func TestViewFormatsEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [01234567] REGISTRY State #3 bus_managers/ram_disk/driver_v1",
		"  Entity: NODE\n  -> registered",
		"REGISTRY Driver #3",
		"  Support: 1.000 (selected)",
		"DEVFS Publish disk/virtual/ram/0/raw",
		"  Partition: offset=512 size=1024",
		"[fedcba98] LEGACY Error null /system/dev/misc/null",
		"  Message: symbol missing",
		"  Context: resolve",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerDevfs
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "DEVFS Publish"); got != 2 {
		t.Errorf("expected 2 devfs events, got %d", got)
	}
	if strings.Contains(buf.String(), "REGISTRY") {
		t.Error("registry events not filtered")
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{Path: "disk/virtual/ram/0/0_"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "Publish"); got != 1 {
		t.Errorf("expected 1 event for path prefix, got %d", got)
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("DevFS"); err != nil || l != log.LayerDevfs {
		t.Errorf("ParseLayerFlag(DevFS) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if c, err := ParseCategoryFlag("publish"); err != nil || c != log.CategoryPublish {
		t.Errorf("ParseCategoryFlag(publish) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	var buf bytes.Buffer
	err := RunFilter(path, FilterOptions{Output: out, NodeID: 3}, &buf)
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 2 events") {
		t.Errorf("unexpected summary: %q", buf.String())
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("failed to open filtered log: %v", err)
	}
	defer reader.Close()
	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if event.NodeID != 3 {
			t.Errorf("unexpected node %d in filtered output", event.NodeID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestFilterOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	dir := t.TempDir()

	tests := []struct {
		name string
		opts FilterOptions
		want string
	}{
		{"session", FilterOptions{Session: "fedcba9876543210"}, "Filtered 1 events"},
		{"module prefix", FilterOptions{Module: "bus_managers/"}, "Filtered 1 events"},
		{"layer", FilterOptions{Layer: "devfs"}, "Filtered 2 events"},
		{"category", FilterOptions{Category: "error"}, "Filtered 1 events"},
		{"time range", FilterOptions{TimeStart: "2026-03-02T09:30:01Z", TimeEnd: "2026-03-02T09:31:00Z"}, "Filtered 1 events"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(dir, tt.name+".cbor")
			var buf bytes.Buffer
			if err := RunFilter(path, tt.opts, &buf); err != nil {
				t.Fatalf("case %d: RunFilter failed: %v", i, err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}

	bad := []FilterOptions{
		{Output: filepath.Join(dir, "x.cbor"), TimeStart: "yesterday"},
		{Output: filepath.Join(dir, "x.cbor"), TimeEnd: "tomorrow"},
		{Output: filepath.Join(dir, "x.cbor"), Layer: "wire"},
		{Output: filepath.Join(dir, "x.cbor"), Category: "control"},
	}
	for _, opts := range bad {
		if err := RunFilter(path, opts, io.Discard); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"REGISTRY:", "LEGACY:", "DEVFS:",
		"PUBLISH:", "DRIVER:",
		"Devfs: 2 published, 0 unpublished",
		"drivers/disk/virtual/ram/driver_v1: 1",
		"Sessions: 2",
		"[01234567] 4 events",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "RESOURCE:") {
		t.Error("empty category listed")
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Time Range") {
		t.Error("time range printed for empty log")
	}
}

func TestExport(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	dir := t.TempDir()

	jsonl := filepath.Join(dir, "out.jsonl")
	if err := RunExport(path, "jsonl", jsonl); err != nil {
		t.Fatalf("RunExport jsonl failed: %v", err)
	}
	data, err := os.ReadFile(jsonl)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	var first log.Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if first.NodeID != 3 || first.StateChange == nil {
		t.Errorf("unexpected first event: %+v", first)
	}

	csvPath := filepath.Join(dir, "out.csv")
	if err := RunExport(path, "csv", csvPath); err != nil {
		t.Fatalf("RunExport csv failed: %v", err)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected header + 5 rows, got %d", len(rows))
	}
	if rows[3][4] != "Publish" || rows[3][7] != "disk/virtual/ram/0/raw" {
		t.Errorf("unexpected row: %v", rows[3])
	}
	if rows[1][5] != "3" || rows[3][5] != "" {
		t.Errorf("unexpected node ids: %q %q", rows[1][5], rows[3][5])
	}

	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
