package board

import (
	"fmt"
	"sort"
	"strings"
)

// NodeType discriminates the three node variants that make up a board.
type NodeType string

const (
	// TypeBoard is the root of a board. Its children are the column headers.
	TypeBoard NodeType = "Board"

	// TypeColumnHeader heads a column and starts that column's chain of cards.
	TypeColumnHeader NodeType = "ColumnHeader"

	// TypeContent is a card inside a column chain.
	TypeContent NodeType = "Content"
)

// Validate checks that the node type is one of the known variants.
func (t NodeType) Validate() error {
	switch t {
	case TypeBoard, TypeColumnHeader, TypeContent:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, string(t))
	}
}

// IDSeparator joins a board id and a node-local uuid into a node id.
const IDSeparator = "|"

// Content is the opaque key/value payload carried by every node.
type Content map[string]any

// Clone returns a shallow copy of the content map.
func (c Content) Clone() Content {
	if c == nil {
		return Content{}
	}
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Node is one element of a board. The Type field selects which of the
// link fields are meaningful:
//
//	Board        Children
//	ColumnHeader Parent, Child
//	Content      Parent, Child, ColumnHeaderID
//
// Link fields hold node ids, never pointers. A board is an arena of nodes
// addressed by id.
type Node struct {
	Type           NodeType `json:"type"`
	ID             string   `json:"id"`
	Content        Content  `json:"content"`
	Version        int64    `json:"version"`
	OrigVersion    int64    `json:"orig_version"` // 0 until the first commit that persists the node
	Creator        string   `json:"creator"`
	CreateTime     int64    `json:"create_time"`      // unix ms
	LastUpdateTime int64    `json:"last_update_time"` // unix ms

	Children       []string `json:"children,omitempty"`      // Board only, kept sorted
	Parent         string   `json:"parent,omitempty"`        // ColumnHeader and Content
	Child          string   `json:"child,omitempty"`         // ColumnHeader and Content
	ColumnHeaderID string   `json:"column_header,omitempty"` // Content only
}

// NewBoardNode creates a board root. The board id is also the root node id.
func NewBoardNode(boardID string, content Content, creator string, nowMs int64) *Node {
	return &Node{
		Type:           TypeBoard,
		ID:             boardID,
		Content:        content.Clone(),
		Version:        1,
		Creator:        creator,
		CreateTime:     nowMs,
		LastUpdateTime: nowMs,
		Children:       []string{},
	}
}

// BoardID returns the id of the board this node belongs to.
func (n *Node) BoardID() string {
	return BoardIDOf(n.ID)
}

// BoardIDOf extracts the board id from a node id of the form "{board}|{uuid}".
// A bare board id is returned unchanged.
func BoardIDOf(nodeID string) string {
	if i := strings.Index(nodeID, IDSeparator); i >= 0 {
		return nodeID[:i]
	}
	return nodeID
}

// IsRoot reports whether the node is a board root.
func (n *Node) IsRoot() bool {
	return n.Type == TypeBoard
}

// Neighbors returns every node id directly linked to this node.
func (n *Node) Neighbors() []string {
	if n.Type == TypeBoard {
		out := make([]string, len(n.Children))
		copy(out, n.Children)
		return out
	}
	var out []string
	if n.Parent != "" {
		out = append(out, n.Parent)
	}
	if n.Child != "" {
		out = append(out, n.Child)
	}
	return out
}

// HasChild reports whether id is linked below this node.
func (n *Node) HasChild(id string) bool {
	if n.Type == TypeBoard {
		i := sort.SearchStrings(n.Children, id)
		return i < len(n.Children) && n.Children[i] == id
	}
	return id != "" && n.Child == id
}

// SetChild links id below this node. On a board it joins the column set;
// on a chain node it replaces the single child link.
func (n *Node) SetChild(id string) {
	if n.Type != TypeBoard {
		n.Child = id
		return
	}
	if id == "" || n.HasChild(id) {
		return
	}
	n.Children = append(n.Children, id)
	sort.Strings(n.Children)
}

// RemoveChild unlinks id from this node. Unlinking an id that is not a
// child is a no-op.
func (n *Node) RemoveChild(id string) {
	if n.Type != TypeBoard {
		if n.Child == id {
			n.Child = ""
		}
		return
	}
	for i, c := range n.Children {
		if c == id {
			n.Children = append(n.Children[:i:i], n.Children[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := *n
	out.Content = n.Content.Clone()
	if n.Children != nil {
		out.Children = make([]string, len(n.Children))
		copy(out.Children, n.Children)
	}
	return &out
}

// CopyWithIDs returns a copy of the node with every id it carries passed
// through rewrite. Versions restart so the copy is indistinguishable from a
// freshly created node. Used when duplicating a whole board.
func (n *Node) CopyWithIDs(rewrite func(string) string) *Node {
	out := n.Clone()
	out.ID = rewrite(n.ID)
	out.Version = 1
	out.OrigVersion = 0
	mapID := func(id string) string {
		if id == "" {
			return ""
		}
		return rewrite(id)
	}
	out.Parent = mapID(n.Parent)
	out.Child = mapID(n.Child)
	out.ColumnHeaderID = mapID(n.ColumnHeaderID)
	if n.Children != nil {
		out.Children = make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			out.Children = append(out.Children, rewrite(c))
		}
		sort.Strings(out.Children)
	}
	return out
}

// Equal reports structural equality over every persisted field.
// Board children are compared as a set.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Type != o.Type || n.ID != o.ID || n.Version != o.Version ||
		n.OrigVersion != o.OrigVersion || n.Creator != o.Creator ||
		n.CreateTime != o.CreateTime || n.LastUpdateTime != o.LastUpdateTime ||
		n.Parent != o.Parent || n.Child != o.Child || n.ColumnHeaderID != o.ColumnHeaderID {
		return false
	}
	if !sameSet(n.Children, o.Children) {
		return false
	}
	return contentEqual(n.Content, o.Content)
}

// sameLinks reports whether two nodes share content and links, ignoring
// version and timestamps.
func sameLinks(a, b *Node) bool {
	return a.Parent == b.Parent && a.Child == b.Child &&
		a.ColumnHeaderID == b.ColumnHeaderID && sameSet(a.Children, b.Children) &&
		contentEqual(a.Content, b.Content)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

// Validate checks the per-variant structural rules of a node.
func (n *Node) Validate() error {
	if err := n.Type.Validate(); err != nil {
		return err
	}
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if n.Version < 1 {
		return fmt.Errorf("node %s: version must be >= 1 (got %d)", n.ID, n.Version)
	}
	if n.OrigVersion > n.Version {
		return fmt.Errorf("node %s: orig_version %d exceeds version %d", n.ID, n.OrigVersion, n.Version)
	}

	switch n.Type {
	case TypeBoard:
		if n.Parent != "" || n.Child != "" || n.ColumnHeaderID != "" {
			return fmt.Errorf("board %s: root cannot carry chain links", n.ID)
		}
		for _, c := range n.Children {
			if c == n.ID {
				return fmt.Errorf("board %s: cannot contain itself", n.ID)
			}
		}
	case TypeColumnHeader, TypeContent:
		if n.Parent == "" {
			return fmt.Errorf("node %s: parent is required", n.ID)
		}
		if n.Parent == n.ID || n.Child == n.ID {
			return fmt.Errorf("node %s: cannot be its own neighbor", n.ID)
		}
		if len(n.Children) > 0 {
			return fmt.Errorf("node %s: only a board may have a children set", n.ID)
		}
		if n.Type == TypeContent && n.ColumnHeaderID == "" {
			return fmt.Errorf("node %s: column_header is required", n.ID)
		}
		if n.Type == TypeColumnHeader && n.ColumnHeaderID != "" {
			return fmt.Errorf("column %s: cannot reference a column header", n.ID)
		}
	}
	return nil
}
