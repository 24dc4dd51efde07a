package board

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNodes() []*Node {
	root := NewBoardNode("b", Content{"name": "Sprint 12"}, "alice", 1000)
	root.Children = []string{"b|col"}
	root.OrigVersion = 1

	col := &Node{Type: TypeColumnHeader, ID: "b|col", Parent: "b", Child: "b|c1",
		Content: Content{"name": "Went well"}, Version: 2, OrigVersion: 2, Creator: "alice",
		CreateTime: 1001, LastUpdateTime: 1002}

	card := &Node{Type: TypeContent, ID: "b|c1", Parent: "b|col", ColumnHeaderID: "b|col",
		Content: Content{"text": "shipped", "votes": int64(3)}, Version: 3, OrigVersion: 3,
		Creator: "bob", CreateTime: 1003, LastUpdateTime: 1004}

	return []*Node{root, col, card}
}

func TestNodeValidate(t *testing.T) {
	for _, n := range sampleNodes() {
		assert.NoError(t, n.Validate(), n.ID)
	}

	tests := []struct {
		name   string
		mutate func(n *Node)
		index  int
		errMsg string
	}{
		{"unknown type", func(n *Node) { n.Type = "Sticky" }, 0, "unknown node type"},
		{"missing id", func(n *Node) { n.ID = "" }, 0, "id is required"},
		{"zero version", func(n *Node) { n.Version = 0 }, 1, "version must be >= 1"},
		{"orig above version", func(n *Node) { n.OrigVersion = 9 }, 1, "exceeds version"},
		{"root with parent", func(n *Node) { n.Parent = "x" }, 0, "chain links"},
		{"column without parent", func(n *Node) { n.Parent = "" }, 1, "parent is required"},
		{"self child", func(n *Node) { n.Child = n.ID }, 2, "own neighbor"},
		{"card without column", func(n *Node) { n.ColumnHeaderID = "" }, 2, "column_header is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := sampleNodes()[tt.index]
			tt.mutate(n)
			err := n.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBoardChildrenAreASet(t *testing.T) {
	root := NewBoardNode("b", nil, "", 0)
	root.SetChild("b|z")
	root.SetChild("b|a")
	root.SetChild("b|z")

	assert.Equal(t, []string{"b|a", "b|z"}, root.Children)
	assert.True(t, root.HasChild("b|a"))
	assert.ElementsMatch(t, []string{"b|a", "b|z"}, root.Neighbors())

	root.RemoveChild("b|a")
	root.RemoveChild("b|missing")
	assert.Equal(t, []string{"b|z"}, root.Children)
}

func TestChainNodeLinks(t *testing.T) {
	card := sampleNodes()[2]
	assert.Equal(t, []string{"b|col"}, card.Neighbors())

	card.SetChild("b|c2")
	assert.Equal(t, []string{"b|col", "b|c2"}, card.Neighbors())

	card.RemoveChild("b|other")
	assert.Equal(t, "b|c2", card.Child)
	card.RemoveChild("b|c2")
	assert.Empty(t, card.Child)
}

func TestNodeEqual(t *testing.T) {
	a := sampleNodes()[0]
	b := sampleNodes()[0]
	b.Children = []string{"b|col"}
	assert.True(t, a.Equal(b))

	a.Children = []string{"b|x", "b|y"}
	b.Children = []string{"b|y", "b|x"}
	assert.True(t, a.Equal(b), "children compare as a set")

	b.Content["name"] = "changed"
	assert.False(t, a.Equal(b))

	var nilNode *Node
	assert.False(t, a.Equal(nilNode))
}

func TestCopyWithIDs(t *testing.T) {
	rewrite := func(id string) string { return strings.Replace(id, "b", "nb", 1) }
	for _, n := range sampleNodes() {
		cp := n.CopyWithIDs(rewrite)
		assert.Equal(t, "nb", cp.BoardID())
		assert.Equal(t, int64(1), cp.Version)
		assert.Zero(t, cp.OrigVersion)
		assert.Equal(t, n.Content, cp.Content)
		require.NoError(t, cp.Validate())
	}

	card := sampleNodes()[2].CopyWithIDs(rewrite)
	assert.Equal(t, "nb|col", card.Parent)
	assert.Equal(t, "nb|col", card.ColumnHeaderID)
	assert.Empty(t, card.Child)
}

func TestBoardIDOf(t *testing.T) {
	assert.Equal(t, "b", BoardIDOf("b|1234"))
	assert.Equal(t, "b", BoardIDOf("b"))
}

func TestNodeJSONRoundTrip(t *testing.T) {
	for _, n := range sampleNodes() {
		data, err := json.Marshal(n)
		require.NoError(t, err)

		decoded, err := DecodeNode(data)
		require.NoError(t, err)
		assert.True(t, n.Equal(decoded), "%s did not survive JSON", n.ID)
	}
}
