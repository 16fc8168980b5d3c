package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, g GraphSource, events EventSource) (Generator, error) {
	switch reportType {
	case ReportTypeRules:
		return NewRulesReport(g), nil
	case ReportTypeNodes:
		return NewNodesReport(g), nil
	case ReportTypeLint:
		return NewLintReport(g), nil
	case ReportTypeEvents:
		if events == nil {
			return nil, fmt.Errorf("report type %s needs the event log", reportType)
		}
		return NewEventReport(events), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
