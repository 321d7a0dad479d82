// Package storage archives finalized execution reports to object storage.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// ErrReportNotFinalized is returned when archiving a run that is still running.
var ErrReportNotFinalized = errors.New("storage: execution is not finalized")

// Report is the archived document of one finalized run
type Report struct {
	Execution  *execution.Record `json:"execution"`
	Events     []execution.Event `json:"events"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// ReportKey returns executions/<yyyy>/<mm>/<id>.json under prefix, bucketed
// by the run's start time in UTC.
func ReportKey(prefix string, record *execution.Record) string {
	started := record.StartedAt.UTC()
	key := fmt.Sprintf("executions/%04d/%02d/%s.json", started.Year(), int(started.Month()), record.ID)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func encodeReport(record *execution.Record, events []execution.Event, now time.Time) ([]byte, error) {
	if record == nil || !record.IsFinalized() {
		return nil, ErrReportNotFinalized
	}
	if events == nil {
		events = []execution.Event{}
	}
	body, err := json.MarshalIndent(Report{
		Execution:  record,
		Events:     events,
		ArchivedAt: now.UTC(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode report %s: %w", record.ID, err)
	}
	return body, nil
}
