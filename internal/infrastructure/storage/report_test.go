package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/domain/execution"
)

var reportID = uuid.MustParse("6f1c2a9e-4b7d-4c55-9d0a-0e8f1d2c3b4a")

func finalizedRecord(t *testing.T) (*execution.Record, []execution.Event) {
	t.Helper()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	started := time.Date(2024, 3, 31, 23, 30, 0, 0, time.FixedZone("EET", 2*3600))
	record := execution.NewRecord(reportID, start, start.Add(24*time.Hour), started)
	events := []execution.Event{
		{
			ExecutionID: reportID,
			Sequence:    1,
			Kind:        execution.KindInvoiceCreated,
			AggregateID: "402-1",
			Timestamp:   started.Add(time.Second),
			Payload:     execution.Payload{"order_id": "402-1"},
		},
	}
	require.NoError(t, record.Finalize(events, started.Add(time.Minute), false))
	return record, events
}

func TestReportKey(t *testing.T) {
	record, _ := finalizedRecord(t)

	// 23:30 EET on March 31st is still March in UTC.
	assert.Equal(t, "executions/2024/03/"+reportID.String()+".json", ReportKey("", record))
	assert.Equal(t, "konozy/executions/2024/03/"+reportID.String()+".json", ReportKey("/konozy/", record))
}

func TestEncodeReport(t *testing.T) {
	record, events := finalizedRecord(t)
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	body, err := encodeReport(record, events, now)
	require.NoError(t, err)

	var decoded struct {
		Execution  map[string]any   `json:"execution"`
		Events     []map[string]any `json:"events"`
		ArchivedAt time.Time        `json:"archived_at"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, reportID.String(), decoded.Execution["execution_id"])
	assert.Equal(t, "completed", decoded.Execution["status"])
	assert.EqualValues(t, 1, decoded.Execution["successful"])
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, "InvoiceCreated", decoded.Events[0]["kind"])
	assert.True(t, now.Equal(decoded.ArchivedAt))
}

func TestEncodeReport_RejectsRunningExecution(t *testing.T) {
	running := execution.NewRecord(reportID, time.Now().Add(-time.Hour), time.Now(), time.Now())

	_, err := encodeReport(running, nil, time.Now())
	assert.ErrorIs(t, err, ErrReportNotFinalized)

	_, err = encodeReport(nil, nil, time.Now())
	assert.ErrorIs(t, err, ErrReportNotFinalized)
}
