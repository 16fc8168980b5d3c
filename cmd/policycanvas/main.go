package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/client"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/mcp"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: policycanvas <command> [args]

Commands:
  graph show
  node add <type> [id] [label] [x] [y]
  node set <id> <key> <value>
  node rm <id>...
  edge connect <source> <target> [action] [protocol] [ports]
  edge set <id> <action|protocol|ports> <value>
  edge rm <id>...
  select [id]
  events [limit]
  report <rules|nodes|events|lint>
  mcp                  serve the Model Context Protocol on stdio
  version

Set POLICYCANVAS_URL to reach a daemon other than http://127.0.0.1:8090.`

func main() {
	endpoint := os.Getenv("POLICYCANVAS_URL")
	if len(os.Args) > 1 && os.Args[1] == "mcp" {
		if err := mcp.NewServer(endpoint).Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	c := client.NewClient(endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, c, os.Args[1:], os.Stdout); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", apiErr)
		} else if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		} else {
			fmt.Fprintf(os.Stderr, "Error contacting daemon: %v\n", err)
			fmt.Fprintln(os.Stderr, "Is policycanvas-d running?")
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "policycanvas %s (%s, built %s)\n", Version, Commit, BuildTime)
		return nil
	case "graph":
		if len(args) < 2 || args[1] != "show" {
			return errUsage
		}
		snap, err := c.Graph(ctx)
		if err != nil {
			return err
		}
		printGraph(out, snap)
		return nil
	case "node":
		return runNode(ctx, c, args[1:], out)
	case "edge":
		return runEdge(ctx, c, args[1:], out)
	case "select":
		id := ""
		if len(args) > 1 {
			id = args[1]
		}
		sel, err := c.Select(ctx, id)
		if err != nil {
			return err
		}
		if sel.SelectedID == "" {
			fmt.Fprintln(out, "Selection cleared")
		} else {
			fmt.Fprintf(out, "Selected %s %s\n", sel.Kind, sel.SelectedID)
		}
		return nil
	case "events":
		limit := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[1], err)
			}
			limit = n
		}
		events, err := c.GetEvents(ctx, limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(out, "%6d  %s  %s\n", e.Seq, e.TsEvent.Format(time.RFC3339), e.EventType)
		}
		return nil
	case "report":
		if len(args) < 2 {
			return errUsage
		}
		body, err := c.Report(ctx, args[1], client.ReportOptions{})
		if err != nil {
			return err
		}
		_, err = out.Write(body)
		return err
	}
	return errUsage
}

func runNode(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	switch args[0] {
	case "add":
		n := client.NewNode{Type: graph.NodeType(args[1])}
		if len(args) > 2 {
			n.ID = args[2]
		}
		if len(args) > 3 {
			n.Data = map[string]any{"label": args[3]}
		}
		if len(args) > 5 {
			x, errX := strconv.ParseFloat(args[4], 64)
			y, errY := strconv.ParseFloat(args[5], 64)
			if err := errors.Join(errX, errY); err != nil {
				return fmt.Errorf("invalid position: %w", err)
			}
			n.Position = graph.Position{X: x, Y: y}
		}
		created, err := c.AddNode(ctx, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Node added: %s\n", created.ID)
		return nil
	case "set":
		if len(args) < 4 {
			return errUsage
		}
		n, err := c.UpdateNode(ctx, args[1], map[string]any{args[2]: args[3]})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Node %s: %s = %v\n", n.ID, args[2], n.Data[args[2]])
		return nil
	case "rm":
		snap, err := c.Graph(ctx)
		if err != nil {
			return err
		}
		for _, id := range args[1:] {
			if n := countAttached(snap, id); n > 0 {
				fmt.Fprintf(out, "%s: %d connected edges will be deleted too\n", id, n)
			}
		}
		removed, err := c.DeleteNodes(ctx, args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted nodes: %s\n", strings.Join(removed.Nodes, ", "))
		if len(removed.Edges) > 0 {
			fmt.Fprintf(out, "Deleted edges: %s\n", strings.Join(removed.Edges, ", "))
		}
		return nil
	}
	return errUsage
}

func runEdge(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	switch args[0] {
	case "connect":
		if len(args) < 3 {
			return errUsage
		}
		conn := graph.Connection{Source: args[1], Target: args[2]}
		if len(args) > 3 {
			data := graph.EdgeData{Action: graph.Action(args[3])}
			if len(args) > 4 {
				data.Protocol = graph.Protocol(args[4])
			}
			if len(args) > 5 {
				data.Ports = args[5]
			}
			conn.Data = &data
		}
		e, err := c.Connect(ctx, conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Edge added: %s (%s %s)\n", e.ID, e.Data.Action, e.Data.Protocol)
		return nil
	case "set":
		if len(args) < 4 {
			return errUsage
		}
		var patch graph.EdgePatch
		value := args[3]
		switch args[2] {
		case "action":
			a := graph.Action(value)
			patch.Action = &a
		case "protocol":
			p := graph.Protocol(value)
			patch.Protocol = &p
		case "ports":
			patch.Ports = &value
		default:
			return fmt.Errorf("unknown edge field %q", args[2])
		}
		e, err := c.UpdateEdge(ctx, args[1], patch)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Edge %s: %s %s ports %q\n", e.ID, e.Data.Action, e.Data.Protocol, e.Data.Ports)
		return nil
	case "rm":
		removed, err := c.RemoveEdges(ctx, args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed edges: %s\n", strings.Join(removed, ", "))
		return nil
	}
	return errUsage
}

func printGraph(out io.Writer, snap graph.Snapshot) {
	fmt.Fprintf(out, "Version %d\n\n", snap.Version)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tTYPE\tLABEL\tPOSITION\t")
	for _, n := range snap.Nodes {
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t(%.0f,%.0f)\t\n", marker(n.Selected), n.ID, n.Type, n.Label(), n.Position.X, n.Position.Y)
	}
	fmt.Fprintln(tw, "\t\t\t\t")
	fmt.Fprintln(tw, "EDGE\tFROM -> TO\tPOLICY\tPORTS\t")
	for _, e := range snap.Edges {
		ports := e.Data.Ports
		if ports == "" {
			ports = "any"
		}
		fmt.Fprintf(tw, "%s%s\t%s -> %s\t%s/%s\t%s\t\n", marker(e.Selected), e.ID, e.Source, e.Target, e.Data.Action, e.Data.Protocol, ports)
	}
	tw.Flush()
}

func marker(selected bool) string {
	if selected {
		return "* "
	}
	return "  "
}

func countAttached(snap graph.Snapshot, nodeID string) int {
	n := 0
	for _, e := range snap.Edges {
		if e.Source == nodeID || e.Target == nodeID {
			n++
		}
	}
	return n
}
