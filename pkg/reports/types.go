package reports

import (
	"context"
	"io"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

type ReportType string

const (
	ReportTypeRules  ReportType = "rules"
	ReportTypeNodes  ReportType = "nodes"
	ReportTypeEvents ReportType = "events"
	ReportTypeLint   ReportType = "lint"
)

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{}
}

// GraphSource provides the graph state reports are built from.
type GraphSource interface {
	Snapshot() graph.Snapshot
}

// EventSource defines the event log access required by the events report.
type EventSource interface {
	ReadEventsSince(ctx context.Context, since time.Time, limit int) ([]*store.Event, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
