// Package view renders boards and their nodes for the command line.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/retro/pkg/board"
)

// now is the reference time for relative ages. Tests pin it.
var now = time.Now

// FormatBoards writes board roots as a table with columns ID, VER, NAME,
// BY and AGE. Returns the number of boards written.
func FormatBoards(w io.Writer, roots []*board.Node) int {
	if len(roots) == 0 {
		fmt.Fprintln(w, "No boards found")
		return 0
	}

	fmt.Fprintf(w, "%-10s %-6s %-30s %-14s %s\n", "ID", "VER", "NAME", "BY", "AGE")
	fmt.Fprintf(w, "%-10s %-6s %-30s %-14s %s\n",
		"----------", "------", "------------------------------", "--------------", "--------")

	for _, r := range roots {
		fmt.Fprintf(w, "%-10s %-6s %-30s %-14s %s\n",
			formatID(r.ID),
			formatVersion(r.Version),
			truncate(boardName(r), 30),
			formatCreator(r.Creator),
			formatTimestamp(r.CreateTime),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(roots), plural(len(roots), "board", "boards"))
	return len(roots)
}

// FormatNodes writes the nodes of one board as a table. The root is shown
// as a heading rather than a row. Returns the number of rows written.
func FormatNodes(w io.Writer, nodes []*board.Node) int {
	root := findRoot(nodes)
	if root != nil {
		fmt.Fprintf(w, "Board '%s' (%s), version %d:\n\n", boardName(root), root.ID, root.Version)
	}

	rows := make([]*board.Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.IsRoot() {
			rows = append(rows, n)
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No nodes found")
		return 0
	}

	names := columnNames(nodes)

	fmt.Fprintf(w, "%-10s %-6s %-8s %-18s %-14s %-8s %s\n",
		"ID", "VER", "TYPE", "COLUMN", "BY", "AGE", "CONTENT")
	fmt.Fprintf(w, "%-10s %-6s %-8s %-18s %-14s %-8s %s\n",
		"----------", "------", "--------", "------------------", "--------------", "--------", "----------------------------------------")

	for _, n := range rows {
		column := "-"
		switch n.Type {
		case board.TypeColumnHeader:
			column = truncate(names[n.ID], 18)
		case board.TypeContent:
			column = truncate(names[n.ColumnHeaderID], 18)
		}
		fmt.Fprintf(w, "%-10s %-6s %-8s %-18s %-14s %-8s %s\n",
			formatID(n.ID),
			formatVersion(n.Version),
			formatType(n.Type),
			column,
			formatCreator(n.Creator),
			formatTimestamp(n.CreateTime),
			formatContent(n.Content),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(rows), plural(len(rows), "node", "nodes"))
	return len(rows)
}

// FormatTree writes a board as an indented outline: columns in id order,
// each followed by its cards in chain order. Nodes for which keep returns
// false are skipped, but the chains are still walked through them.
func FormatTree(w io.Writer, nodes []*board.Node, keep func(*board.Node) bool) error {
	root := findRoot(nodes)
	if root == nil {
		return fmt.Errorf("no board node in result")
	}
	if keep == nil {
		keep = func(*board.Node) bool { return true }
	}

	byID := make(map[string]*board.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	fmt.Fprintf(w, "%s  [%s v%d]\n", boardName(root), formatID(root.ID), root.Version)

	columns := append([]string(nil), root.Children...)
	sort.Strings(columns)
	for _, colID := range columns {
		col, ok := byID[colID]
		if !ok {
			continue
		}
		if keep(col) {
			fmt.Fprintf(w, "  %s  [%s]\n", truncate(nodeLabel(col), 50), formatID(col.ID))
		}

		seen := map[string]bool{col.ID: true}
		for next := col.Child; next != "" && !seen[next]; {
			card, ok := byID[next]
			if !ok {
				break
			}
			seen[next] = true
			if keep(card) {
				fmt.Fprintf(w, "    - %s  [%s]\n", truncate(nodeLabel(card), 60), formatID(card.ID))
			}
			next = card.Child
		}
	}
	return nil
}

// FormatJSONL writes nodes as line-delimited JSON, one node per line.
func FormatJSONL(w io.Writer, nodes []*board.Node) error {
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal node to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func findRoot(nodes []*board.Node) *board.Node {
	for _, n := range nodes {
		if n.IsRoot() {
			return n
		}
	}
	return nil
}

func columnNames(nodes []*board.Node) map[string]string {
	names := make(map[string]string)
	for _, n := range nodes {
		if n.Type == board.TypeColumnHeader {
			names[n.ID] = nodeLabel(n)
		}
	}
	return names
}

func boardName(root *board.Node) string {
	if name, ok := root.Content["name"].(string); ok && name != "" {
		return name
	}
	return "(unnamed)"
}

// nodeLabel picks the most readable content value of a node.
func nodeLabel(n *board.Node) string {
	for _, key := range []string{"name", "text", "title"} {
		if v, ok := n.Content[key].(string); ok && v != "" {
			return firstLine(v)
		}
	}
	if s := formatContent(n.Content); s != "-" {
		return s
	}
	return "(empty)"
}

// formatID shows the node-local part of an id, cut to 8 characters.
func formatID(id string) string {
	if _, local, ok := strings.Cut(id, board.IDSeparator); ok {
		id = local
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatType(t board.NodeType) string {
	switch t {
	case board.TypeColumnHeader:
		return "Column"
	case board.TypeContent:
		return "Card"
	}
	return string(t)
}

// formatContent renders content as sorted key=value pairs on one line, cut
// to 40 characters. Empty content returns "-".
func formatContent(c board.Content) string {
	if len(c) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c[k]))
	}
	return truncate(firstLine(strings.Join(parts, " ")), 40)
}

func formatCreator(creator string) string {
	if creator == "" {
		return "-"
	}
	return truncate(creator, 14)
}

func formatVersion(version int64) string {
	if version <= 0 {
		return "-"
	}
	return fmt.Sprintf("v%d", version)
}

// formatTimestamp formats unix ms as a relative age like "2m ago".
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now().Sub(time.UnixMilli(timestampMs))
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
