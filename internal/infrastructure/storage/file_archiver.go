package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
)

// Ensure FileReportArchiver implements ReportArchiver
var _ ordersync.ReportArchiver = (*FileReportArchiver)(nil)

// FileReportArchiver writes run reports below a local directory using the
// same key layout as the S3 archiver. Use it for development when no object
// store is configured.
type FileReportArchiver struct {
	dir string
	now func() time.Time
}

// NewFileReportArchiver creates a FileReportArchiver rooted at dir
func NewFileReportArchiver(dir string) (*FileReportArchiver, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	return &FileReportArchiver{dir: dir, now: time.Now}, nil
}

// Archive writes the report and returns its file:// location
func (a *FileReportArchiver) Archive(ctx context.Context, record *execution.Record, events []execution.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := encodeReport(record, events, a.now())
	if err != nil {
		return "", err
	}

	target := filepath.Join(a.dir, filepath.FromSlash(ReportKey("", record)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return "file://" + filepath.ToSlash(target), nil
}
