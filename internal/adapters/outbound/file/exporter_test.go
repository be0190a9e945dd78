package file

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/testutil"
)

var testRows = []entity.Row{
	{Block: 100, Values: map[string]any{"supply": "1000"}},
	{Block: 101, Values: map[string]any{"supply": "1001"}},
}

func TestNewExporter_RequiresPath(t *testing.T) {
	if _, err := NewExporter("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestExport_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	e, err := NewExporter(path, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	if err := e.Export(context.Background(), testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), data)
	}
	if lines[0] != `{"block":100,"supply":"1000"}` {
		t.Errorf("unexpected first line %s", lines[0])
	}
}

func TestExport_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.jsonl")
	e, _ := NewExporter(path, testutil.DiscardLogger())
	ctx := context.Background()

	if err := e.Export(ctx, testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := e.Export(ctx, testRows[:1]); err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("expected 1 line after overwrite, got %d", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the output file, found %d entries", len(entries))
	}
}

func TestExport_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl.gz")
	e, _ := NewExporter(path, testutil.DiscardLogger())

	if err := e.Export(context.Background(), testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(data), `"block":101`) {
		t.Errorf("unexpected content %s", data)
	}
}

func TestExport_Stdout(t *testing.T) {
	e, _ := NewExporter("-", testutil.DiscardLogger())
	var buf bytes.Buffer
	e.stdout = &buf

	if err := e.Export(context.Background(), testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("expected 2 lines, got %q", buf.String())
	}
}

func TestExport_MissingDirectory(t *testing.T) {
	e, _ := NewExporter(filepath.Join(t.TempDir(), "nope", "rows.jsonl"), testutil.DiscardLogger())
	if err := e.Export(context.Background(), testRows); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestExport_CanceledContext(t *testing.T) {
	e, _ := NewExporter(filepath.Join(t.TempDir(), "rows.jsonl"), testutil.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Export(ctx, testRows); err == nil {
		t.Fatal("expected context error")
	}
}
