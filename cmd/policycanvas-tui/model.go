package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/policycanvas/pkg/client"
	"github.com/rmax-ai/policycanvas/pkg/graph"
)

const (
	pollRate       = time.Second
	requestTimeout = 2 * time.Second

	deleteWarning = "All connected edges will be deleted too"
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	dialogStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(1, 2)

	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	denyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	allowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// canvasClient is the part of the SDK the canvas uses.
type canvasClient interface {
	Graph(ctx context.Context) (graph.Snapshot, error)
	Select(ctx context.Context, id string) (client.Selection, error)
	DeleteNodes(ctx context.Context, ids ...string) (graph.Removal, error)
}

// row is one line of the element list: a node or an edge.
type row struct {
	kind graph.ElementKind
	id   string
}

type tickMsg time.Time

type graphMsg struct {
	snap graph.Snapshot
	err  error
}

type actionMsg struct {
	status string
	err    error
}

type model struct {
	client  canvasClient
	spinner spinner.Model

	snap   graph.Snapshot
	rows   []row
	cursor int

	// confirmDelete holds the node awaiting confirmation.
	confirmDelete string

	status string
	err    error
	ready  bool
	width  int
}

func initialModel(c canvasClient) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		client:  c,
		spinner: s,
		width:   100,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchGraph(m.client),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.confirmDelete != "" {
			return m.updateDialog(msg)
		}
		return m.updateList(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(fetchGraph(m.client), tick())

	case graphMsg:
		m.ready = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setSnapshot(msg.snap)

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = msg.status
		return m, fetchGraph(m.client)

	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	return m, nil
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "enter", " ":
		if m.cursor < len(m.rows) {
			return m, selectElement(m.client, m.rows[m.cursor].id)
		}
	case "esc":
		return m, selectElement(m.client, "")
	case "delete", "backspace":
		// Only a selected node can be deleted from the keyboard.
		if id := m.snap.SelectedID; id != "" {
			if _, ok := m.snap.Node(id); ok {
				m.confirmDelete = id
			}
		}
	}
	return m, nil
}

func (m model) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		id := m.confirmDelete
		m.confirmDelete = ""
		return m, deleteNode(m.client, id)
	case "n", "N", "esc", "q":
		m.confirmDelete = ""
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// setSnapshot replaces the shown graph and keeps the cursor on the same element.
func (m *model) setSnapshot(snap graph.Snapshot) {
	var current string
	if m.cursor < len(m.rows) {
		current = m.rows[m.cursor].id
	}

	m.snap = snap
	m.rows = make([]row, 0, len(snap.Nodes)+len(snap.Edges))
	for _, n := range snap.Nodes {
		m.rows = append(m.rows, row{kind: graph.KindNode, id: n.ID})
	}
	for _, e := range snap.Edges {
		m.rows = append(m.rows, row{kind: graph.KindEdge, id: e.ID})
	}

	m.cursor = 0
	for i, r := range m.rows {
		if r.id == current {
			m.cursor = i
			break
		}
	}

	// The dialog closes when its node disappears underneath it.
	if m.confirmDelete != "" {
		if _, ok := snap.Node(m.confirmDelete); !ok {
			m.confirmDelete = ""
		}
	}
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	header := headerStyle.Width(m.width).Render(fmt.Sprintf("%s Policy Canvas  v%d", m.spinner.View(), m.snap.Version))

	listWidth := m.width/2 - 2
	if listWidth < 30 {
		listWidth = 30
	}
	list := paneStyle.Width(listWidth).Render(m.listView())
	props := paneStyle.Width(listWidth).Render(m.propertiesView())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, props)

	if m.confirmDelete != "" {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.dialogView())
	}

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	case m.status != "":
		status = okStyle.Render(m.status)
	default:
		status = okStyle.Render(fmt.Sprintf("Online • %d Nodes • %d Edges", len(m.snap.Nodes), len(m.snap.Edges)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n↑/↓ move • enter select • esc clear • del delete node • q quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m model) listView() string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Elements") + "\n\n")

	if len(m.rows) == 0 {
		sb.WriteString(subtleStyle.Render("The canvas is empty."))
		return sb.String()
	}

	for i, r := range m.rows {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}

		var line string
		if r.kind == graph.KindNode {
			n, _ := m.snap.Node(r.id)
			line = fmt.Sprintf("[%s] %s", n.Type, n.Label())
		} else {
			e, _ := m.snap.Edge(r.id)
			line = fmt.Sprintf("%s -> %s %s", e.Source, e.Target, actionLabel(e.Data.Action))
		}
		if r.id == m.snap.SelectedID {
			line = selectedStyle.Render(line + " *")
		}
		sb.WriteString(prefix + line + "\n")
	}
	return sb.String()
}

func (m model) propertiesView() string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Properties") + "\n\n")

	id := m.snap.SelectedID
	if n, ok := m.snap.Node(id); ok {
		fmt.Fprintf(&sb, "Node      %s\nType      %s\nPosition  (%.0f, %.0f)\n", n.ID, n.Type, n.Position.X, n.Position.Y)
		keys := make([]string, 0, len(n.Data))
		for k := range n.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%-9s %v\n", k, n.Data[k])
		}
		return sb.String()
	}
	if e, ok := m.snap.Edge(id); ok {
		ports := e.Data.Ports
		if ports == "" {
			ports = "any"
		}
		fmt.Fprintf(&sb, "Edge      %s\nSource    %s\nTarget    %s\nAction    %s\nProtocol  %s\nPorts     %s\n",
			e.ID, e.Source, e.Target, actionLabel(e.Data.Action), e.Data.Protocol, ports)
		return sb.String()
	}

	sb.WriteString(subtleStyle.Render("Nothing selected."))
	return sb.String()
}

func (m model) dialogView() string {
	n, _ := m.snap.Node(m.confirmDelete)
	attached := 0
	for _, e := range m.snap.Edges {
		if e.Source == n.ID || e.Target == n.ID {
			attached++
		}
	}
	text := fmt.Sprintf("Delete %s %q?\n%s (%d).\n\n[y] delete   [n] cancel", n.Type, n.Label(), deleteWarning, attached)
	return dialogStyle.Render(text)
}

func actionLabel(a graph.Action) string {
	if a == graph.ActionDeny {
		return denyStyle.Render(string(a))
	}
	return allowStyle.Render(string(a))
}

// Commands

func fetchGraph(c canvasClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := c.Graph(ctx)
		return graphMsg{snap: snap, err: err}
	}
}

func selectElement(c canvasClient, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sel, err := c.Select(ctx, id)
		if err != nil {
			return actionMsg{err: err}
		}
		if sel.SelectedID == "" {
			return actionMsg{status: "Selection cleared"}
		}
		return actionMsg{status: fmt.Sprintf("Selected %s %s", sel.Kind, sel.SelectedID)}
	}
}

func deleteNode(c canvasClient, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		removed, err := c.DeleteNodes(ctx, id)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: fmt.Sprintf("Deleted %s and %d edges", id, len(removed.Edges))}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
