package board

import (
	"context"
	"fmt"
)

// session is the working set of one mutation function. Every node id is
// materialised exactly once, so splices that touch adjacent nodes mutate a
// single instance and the resulting update list holds each node once.
type session struct {
	ctx     context.Context
	r       Reader
	nodes   map[string]*Node
	orig    map[string]*Node
	order   []string
	created []*Node
	deleted map[string]bool
}

func newSession(ctx context.Context, r Reader) *session {
	return &session{
		ctx:     ctx,
		r:       r,
		nodes:   make(map[string]*Node),
		orig:    make(map[string]*Node),
		deleted: make(map[string]bool),
	}
}

func (s *session) get(id string) (*Node, error) {
	if n, ok := s.nodes[id]; ok {
		return n, nil
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNodeNotFound)
	}
	n, err := s.r.GetNode(s.ctx, id)
	if err != nil {
		return nil, err
	}
	s.nodes[id] = n
	s.orig[id] = n.Clone()
	s.order = append(s.order, id)
	return n, nil
}

func (s *session) create(n *Node) {
	s.nodes[n.ID] = n
	s.created = append(s.created, n)
}

func (s *session) remove(n *Node) {
	s.deleted[n.ID] = true
}

// changes reports the nodes read and every node whose links or content
// differ from what was read.
func (s *session) changes() *Changes {
	c := &Changes{}
	for _, id := range s.order {
		n := s.nodes[id]
		c.Reads = append(c.Reads, n)
		if s.deleted[id] {
			c.Deletes = append(c.Deletes, n)
			continue
		}
		if !sameLinks(n, s.orig[id]) {
			c.Updates = append(c.Updates, n)
		}
	}
	for _, n := range s.created {
		if !s.deleted[n.ID] {
			c.Updates = append(c.Updates, n)
		}
	}
	return c
}

// columnOf resolves the column header a chain node belongs to. It returns ""
// when the walk reaches the board root without meeting a column header.
func (s *session) columnOf(n *Node) (string, error) {
	seen := make(map[string]bool)
	cur := n
	for {
		switch cur.Type {
		case TypeColumnHeader:
			return cur.ID, nil
		case TypeBoard:
			return "", nil
		}
		if cur.ColumnHeaderID != "" {
			return cur.ColumnHeaderID, nil
		}
		if seen[cur.ID] {
			return "", fmt.Errorf("cycle detected at node %s", cur.ID)
		}
		seen[cur.ID] = true
		next, err := s.get(cur.Parent)
		if err != nil {
			return "", err
		}
		cur = next
	}
}

// collect walks depth-first from start, never stepping back to the node it
// arrived from, and returns every node reached including start.
func (s *session) collect(start *Node, cameFrom string) ([]*Node, error) {
	type frame struct {
		id   string
		from string
	}
	visited := map[string]bool{start.ID: true}
	out := []*Node{start}
	stack := []frame{}
	for _, nb := range start.Neighbors() {
		if nb != cameFrom {
			stack = append(stack, frame{id: nb, from: start.ID})
		}
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[f.id] {
			continue
		}
		n, err := s.get(f.id)
		if err != nil {
			return nil, err
		}
		visited[f.id] = true
		out = append(out, n)
		for _, nb := range n.Neighbors() {
			if nb != f.from && !visited[nb] {
				stack = append(stack, frame{id: nb, from: n.ID})
			}
		}
	}
	return out, nil
}

func newChainNode(t NodeType, id string, content Content, creator string, nowMs int64) *Node {
	return &Node{
		Type:           t,
		ID:             id,
		Content:        content.Clone(),
		Version:        1,
		Creator:        creator,
		CreateTime:     nowMs,
		LastUpdateTime: nowMs,
	}
}

// AddNodeFunc inserts a new node with id newID below parentID. Under the
// board root (or any node with no column header above it) the new node is a
// column header; otherwise it is a card placed directly after the parent.
func AddNodeFunc(newID string, content Content, parentID, creator string, nowMs int64) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		parent, err := s.get(parentID)
		if err != nil {
			return nil, err
		}

		columnID, err := s.columnOf(parent)
		if err != nil {
			return nil, err
		}

		if columnID == "" {
			root := parent
			if !parent.IsRoot() {
				if root, err = s.get(parent.BoardID()); err != nil {
					return nil, err
				}
			}
			column := newChainNode(TypeColumnHeader, newID, content, creator, nowMs)
			column.Parent = root.ID
			root.SetChild(column.ID)
			s.create(column)
			return s.changes(), nil
		}

		node := newChainNode(TypeContent, newID, content, creator, nowMs)
		node.Parent = parent.ID
		node.ColumnHeaderID = columnID
		if parent.Child != "" {
			oldChild, err := s.get(parent.Child)
			if err != nil {
				return nil, err
			}
			oldChild.Parent = node.ID
			node.Child = oldChild.ID
		}
		parent.SetChild(node.ID)
		s.create(node)
		return s.changes(), nil
	}
}

// MoveNodeFunc splices a card out of its chain and back in directly after
// newParentID, which may be in another column.
func MoveNodeFunc(nodeID, newParentID string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		if nodeID == newParentID {
			return nil, fmt.Errorf("%w: node %s cannot be its own parent", ErrInvalidMove, nodeID)
		}
		s := newSession(ctx, r)
		node, err := s.get(nodeID)
		if err != nil {
			return nil, err
		}
		if node.Type != TypeContent {
			return nil, fmt.Errorf("%w: only cards can be moved (node %s is %s)", ErrInvalidMove, nodeID, node.Type)
		}
		newParent, err := s.get(newParentID)
		if err != nil {
			return nil, err
		}
		if newParent.IsRoot() {
			return nil, fmt.Errorf("%w: cards must be placed inside a column", ErrInvalidMove)
		}
		if newParent.BoardID() != node.BoardID() {
			return nil, fmt.Errorf("%w: cannot move across boards", ErrInvalidMove)
		}
		if node.Parent == newParent.ID {
			return s.changes(), nil
		}

		oldParent, err := s.get(node.Parent)
		if err != nil {
			return nil, err
		}
		oldParent.RemoveChild(node.ID)
		if node.Child != "" {
			oldChild, err := s.get(node.Child)
			if err != nil {
				return nil, err
			}
			oldChild.Parent = oldParent.ID
			oldParent.SetChild(oldChild.ID)
		}
		node.Parent = ""
		node.Child = ""

		columnID, err := s.columnOf(newParent)
		if err != nil {
			return nil, err
		}
		if newParent.Child != "" {
			newChild, err := s.get(newParent.Child)
			if err != nil {
				return nil, err
			}
			newChild.Parent = node.ID
			node.Child = newChild.ID
		}
		node.Parent = newParent.ID
		node.ColumnHeaderID = columnID
		newParent.SetChild(node.ID)
		return s.changes(), nil
	}
}

// EditNodeFunc applies content operations to a node, honouring its lock.
// A matching unlockToken releases the lock; lockToken takes a new lock when
// the node was unlocked.
func EditNodeFunc(nodeID string, ops []Operation, lockToken, unlockToken string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		node, err := s.get(nodeID)
		if err != nil {
			return nil, err
		}
		current, err := r.GetNodeLock(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		state := EvaluateLock(current, unlockToken)
		if err := state.Err(); err != nil {
			return nil, fmt.Errorf("edit %s: %w", nodeID, err)
		}

		if node.Content == nil {
			node.Content = Content{}
		}
		for _, op := range ops {
			if err := op.Apply(node.Content); err != nil {
				return nil, err
			}
		}

		c := s.changes()
		if len(ops) > 0 && len(c.Updates) == 0 {
			c.Updates = append(c.Updates, node)
		}
		if state == Released {
			c.Unlocks = append(c.Unlocks, nodeID)
		}
		if lockToken != "" && current == "" {
			c.Locks = append(c.Locks, Lock{NodeID: nodeID, Token: lockToken})
		}
		return c, nil
	}
}

// LockNodeFunc takes a lock on an unlocked node.
func LockNodeFunc(nodeID, token string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		if token == "" {
			return nil, fmt.Errorf("lock %s: token is required", nodeID)
		}
		s := newSession(ctx, r)
		if _, err := s.get(nodeID); err != nil {
			return nil, err
		}
		current, err := r.GetNodeLock(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		if current != "" {
			return nil, fmt.Errorf("lock %s: %w", nodeID, ErrLockFailure)
		}
		c := s.changes()
		c.Locks = []Lock{{NodeID: nodeID, Token: token}}
		return c, nil
	}
}

// UnlockNodeFunc releases a lock held with token. Unlocking an unlocked node
// changes nothing.
func UnlockNodeFunc(nodeID, token string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		if _, err := s.get(nodeID); err != nil {
			return nil, err
		}
		current, err := r.GetNodeLock(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		c := s.changes()
		switch EvaluateLock(current, token) {
		case Unlocked:
			return c, nil
		case Released:
			c.Unlocks = []string{nodeID}
			return c, nil
		default:
			return nil, fmt.Errorf("unlock %s: %w", nodeID, ErrUnlockFailure)
		}
	}
}

// RemoveNodeFunc deletes a node. Without cascade the chain closes over the
// gap; with cascade everything below the node goes too.
func RemoveNodeFunc(nodeID string, cascade bool) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		node, err := s.get(nodeID)
		if err != nil {
			return nil, err
		}
		if node.IsRoot() {
			return nil, fmt.Errorf("%w: the board root is removed by deleting the board", ErrInvalidRemove)
		}
		parent, err := s.get(node.Parent)
		if err != nil {
			return nil, err
		}

		if !cascade {
			if node.Type == TypeColumnHeader && node.Child != "" {
				return nil, fmt.Errorf("remove %s: %w", nodeID, ErrColumnNotEmpty)
			}
			parent.RemoveChild(node.ID)
			if node.Child != "" {
				child, err := s.get(node.Child)
				if err != nil {
					return nil, err
				}
				child.Parent = parent.ID
				parent.SetChild(child.ID)
			}
			s.remove(node)
			return s.changes(), nil
		}

		parent.RemoveChild(node.ID)
		subtree, err := s.collect(node, parent.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range subtree {
			s.remove(n)
		}
		return s.changes(), nil
	}
}

// GetNodeFunc reads a single node.
func GetNodeFunc(nodeID string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		if _, err := s.get(nodeID); err != nil {
			return nil, err
		}
		return s.changes(), nil
	}
}

// NodesFunc reads every node reachable from the board root.
func NodesFunc(boardID string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		root, err := s.get(boardID)
		if err != nil {
			return nil, err
		}
		all, err := s.collect(root, "")
		if err != nil {
			return nil, err
		}
		return &Changes{Reads: all}, nil
	}
}

// DeleteFunc deletes every node reachable from the board root.
func DeleteFunc(boardID string) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		s := newSession(ctx, r)
		root, err := s.get(boardID)
		if err != nil {
			return nil, err
		}
		all, err := s.collect(root, "")
		if err != nil {
			return nil, err
		}
		return &Changes{Reads: all, Deletes: all}, nil
	}
}

// ImportFunc writes a set of already linked nodes, typically a board export,
// in one commit. The board root must already exist and be part of nodes.
// Unless force is set, any other node id that is already stored fails the
// import with ErrExistingNode.
func ImportFunc(boardID string, nodes []*Node, force bool) TxFunc {
	return func(ctx context.Context, r Reader) (*Changes, error) {
		c := &Changes{}
		sawRoot := false
		for _, n := range nodes {
			if BoardIDOf(n.ID) != boardID {
				return nil, fmt.Errorf("import: node %s does not belong to board %s", n.ID, boardID)
			}
			if err := n.Validate(); err != nil {
				return nil, fmt.Errorf("import: %w", err)
			}
			if n.IsRoot() {
				sawRoot = true
			} else if !force {
				_, err := r.GetNode(ctx, n.ID)
				if err == nil {
					return nil, fmt.Errorf("%w: %s", ErrExistingNode, n.ID)
				}
				if !IsNotFound(err) {
					return nil, err
				}
			}
			c.Updates = append(c.Updates, n.Clone())
		}
		if !sawRoot {
			return nil, fmt.Errorf("import: board node %s is missing", boardID)
		}
		return c, nil
	}
}
