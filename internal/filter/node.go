// Package filter selects board nodes for CLI listings.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dyluth/retro/pkg/board"
)

// Criteria defines filtering criteria for nodes.
// All filters are ANDed together - a node must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // create_time lower bound in unix ms, 0 = no filter
	UntilTimestampMs int64  // create_time upper bound in unix ms, 0 = no filter
	TypeGlob         string // Glob pattern for node type, empty = no filter
	ColumnID         string // Column header id, empty = no filter
	Creator          string // Exact match for creator, empty = no filter
	Text             string // Case-insensitive substring of any content value, empty = no filter
}

// Matches returns true if the node matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(n *board.Node) bool {
	if c.SinceTimestampMs > 0 && n.CreateTime < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && n.CreateTime > c.UntilTimestampMs {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(n.Type))
		if err != nil || !matched {
			return false
		}
	}

	// A column matches itself and every card under it.
	if c.ColumnID != "" && n.ID != c.ColumnID && n.ColumnHeaderID != c.ColumnID {
		return false
	}

	if c.Creator != "" && n.Creator != c.Creator {
		return false
	}

	if c.Text != "" && !contentContains(n.Content, c.Text) {
		return false
	}

	return true
}

func contentContains(content board.Content, text string) bool {
	needle := strings.ToLower(text)
	for _, v := range content {
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
			return true
		}
	}
	return false
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TypeGlob != "" ||
		c.ColumnID != "" ||
		c.Creator != "" ||
		c.Text != ""
}

// Apply returns the nodes that match c, keeping their order. The board
// root is always kept so the result still names its board.
func (c *Criteria) Apply(nodes []*board.Node) []*board.Node {
	if !c.HasFilters() {
		return nodes
	}
	out := make([]*board.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() || c.Matches(n) {
			out = append(out, n)
		}
	}
	return out
}
