package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// RulesReport lists every policy edge as one firewall rule.
type RulesReport struct {
	graph GraphSource
}

func NewRulesReport(g GraphSource) *RulesReport {
	return &RulesReport{graph: g}
}

// Generate writes one row per edge, sorted by edge id. The "action" and
// "protocol" filters narrow the rows.
func (r *RulesReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	snap := r.graph.Snapshot()

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"edge_id", "source", "source_label", "target", "target_label", "action", "protocol", "ports"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	action, _ := params.Filters["action"].(string)
	protocol, _ := params.Filters["protocol"].(string)

	edges := slices.Clone(snap.Edges)
	slices.SortFunc(edges, func(a, b graph.Edge) int { return strings.Compare(a.ID, b.ID) })

	for _, e := range edges {
		if action != "" && string(e.Data.Action) != action {
			continue
		}
		if protocol != "" && string(e.Data.Protocol) != protocol {
			continue
		}
		row := []string{
			e.ID,
			e.Source,
			labelOf(snap, e.Source),
			e.Target,
			labelOf(snap, e.Target),
			string(e.Data.Action),
			string(e.Data.Protocol),
			e.Data.Ports,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row for edge %s: %w", e.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}

// NodesReport lists the nodes with their degree.
type NodesReport struct {
	graph GraphSource
}

func NewNodesReport(g GraphSource) *NodesReport {
	return &NodesReport{graph: g}
}

func (r *NodesReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	snap := r.graph.Snapshot()

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"node_id", "type", "label", "x", "y", "inbound", "outbound"}); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	nodeType, _ := params.Filters["type"].(string)

	in := make(map[string]int)
	out := make(map[string]int)
	for _, e := range snap.Edges {
		out[e.Source]++
		in[e.Target]++
	}

	nodes := slices.Clone(snap.Nodes)
	slices.SortFunc(nodes, func(a, b graph.Node) int { return strings.Compare(a.ID, b.ID) })

	for _, n := range nodes {
		if nodeType != "" && string(n.Type) != nodeType {
			continue
		}
		row := []string{
			n.ID,
			string(n.Type),
			n.Label(),
			strconv.FormatFloat(n.Position.X, 'f', -1, 64),
			strconv.FormatFloat(n.Position.Y, 'f', -1, 64),
			strconv.Itoa(in[n.ID]),
			strconv.Itoa(out[n.ID]),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row for node %s: %w", n.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Severity ranks a lint finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Lint check names.
const (
	CheckOverlyPermissive = "overly_permissive"
	CheckNoExplicitDeny   = "no_explicit_deny"
)

// Finding is one security issue found in the policy graph.
type Finding struct {
	Severity Severity
	Check    string
	EdgeID   string
	Message  string
}

// Lint flags allow edges that pass every protocol on every port, and a policy
// without a single deny edge. Findings are ordered by edge id, graph-wide
// findings last.
func Lint(snap graph.Snapshot) []Finding {
	edges := slices.Clone(snap.Edges)
	slices.SortFunc(edges, func(a, b graph.Edge) int { return strings.Compare(a.ID, b.ID) })

	var findings []Finding
	hasDeny := false
	for _, e := range edges {
		if e.Data.Action == graph.ActionDeny {
			hasDeny = true
			continue
		}
		if e.Data.Protocol == graph.ProtocolAny && openPorts(e.Data.Ports) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Check:    CheckOverlyPermissive,
				EdgeID:   e.ID,
				Message:  fmt.Sprintf("%s allows any traffic from %s to %s", e.ID, labelOf(snap, e.Source), labelOf(snap, e.Target)),
			})
		}
	}
	if !hasDeny {
		findings = append(findings, Finding{
			Severity: SeverityInfo,
			Check:    CheckNoExplicitDeny,
			Message:  "policy has no explicit deny rule; consider a default deny",
		})
	}
	return findings
}

func openPorts(ports string) bool {
	p := strings.TrimSpace(ports)
	return p == "" || strings.EqualFold(p, "any") || p == "*" || p == "0-65535" || p == "1-65535"
}

// LintReport writes the Lint findings as CSV.
type LintReport struct {
	graph GraphSource
}

func NewLintReport(g GraphSource) *LintReport {
	return &LintReport{graph: g}
}

// Generate writes one row per finding. The "severity" filter narrows the rows.
func (r *LintReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"severity", "check", "edge_id", "message"}); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	severity, _ := params.Filters["severity"].(string)

	for _, f := range Lint(r.graph.Snapshot()) {
		if severity != "" && string(f.Severity) != severity {
			continue
		}
		if err := writer.Write([]string{string(f.Severity), f.Check, f.EdgeID, f.Message}); err != nil {
			return nil, fmt.Errorf("failed to write finding %s: %w", f.Check, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}

func labelOf(snap graph.Snapshot, id string) string {
	if n, ok := snap.Node(id); ok {
		return n.Label()
	}
	return ""
}
