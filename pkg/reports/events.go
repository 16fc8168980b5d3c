package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// maxReportEvents caps the rows of an events report.
const maxReportEvents = 10000

// EventReport lists the recorded graph edits in a time range.
type EventReport struct {
	store EventSource
}

func NewEventReport(s EventSource) *EventReport {
	return &EventReport{store: s}
}

func (r *EventReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"seq", "event_id", "event_type", "ts_event", "origin_kind", "origin_id"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	events, err := r.store.ReadEventsSince(ctx, params.Start, maxReportEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	eventType, _ := params.Filters["event_type"].(string)

	for _, event := range events {
		if !params.End.IsZero() && event.TsEvent.After(params.End) {
			continue
		}
		if eventType != "" && string(event.EventType) != eventType {
			continue
		}
		row := []string{
			strconv.FormatInt(event.Seq, 10),
			string(event.EventID),
			string(event.EventType),
			event.TsEvent.Format(time.RFC3339),
			event.Source.OriginKind,
			event.Source.OriginID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row for event %s: %w", event.EventID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}
