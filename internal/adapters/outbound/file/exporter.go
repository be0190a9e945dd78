// Package file writes fetched rows to the local filesystem as JSON lines.
package file

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that Exporter implements outbound.RowExporter
var _ outbound.RowExporter = (*Exporter)(nil)

// Exporter writes rows to one file. A path ending in ".gz" is gzip-compressed.
// "-" writes to Stdout.
type Exporter struct {
	path   string
	stdout io.Writer
	logger *slog.Logger
}

// NewExporter creates an exporter for path.
func NewExporter(path string, logger *slog.Logger) (*Exporter, error) {
	if path == "" {
		return nil, errors.New("output path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		path:   path,
		stdout: os.Stdout,
		logger: logger.With("component", "file-exporter"),
	}, nil
}

// Export replaces the file's contents with rows. The file is written to a
// temporary sibling and renamed so readers never see a partial table.
func (e *Exporter) Export(ctx context.Context, rows []entity.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.path == "-" {
		return entity.WriteJSONLines(e.stdout, rows)
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := e.write(tmp, rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	e.logger.Debug("exported rows", "path", e.path, "rows", len(rows))
	return nil
}

func (e *Exporter) write(f *os.File, rows []entity.Row) error {
	buf := bufio.NewWriter(f)
	var w io.Writer = buf
	var gz *gzip.Writer
	if strings.HasSuffix(e.path, ".gz") {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	if err := entity.WriteJSONLines(w, rows); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.path, err)
	}
	return nil
}
