package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces the node-local part of a node id.
type IDGenerator func() string

// Board runs chain operations for one board through a Transactor.
// A Board holds no node state of its own and is safe for concurrent use.
type Board struct {
	id    string
	store Transactor
	newID IDGenerator
	now   func() time.Time
}

// Option configures a Board.
type Option func(*Board)

// WithIDGenerator overrides uuid-based id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Board) { b.newID = g }
}

// WithClock overrides the wall clock used for create timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// New returns a Board bound to boardID.
func New(boardID string, store Transactor, opts ...Option) *Board {
	b := &Board{
		id:    boardID,
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ID returns the board id.
func (b *Board) ID() string {
	return b.id
}

// NewNodeID returns a fresh id inside this board's key space.
func (b *Board) NewNodeID() string {
	return b.id + IDSeparator + b.newID()
}

func (b *Board) owns(nodeID string) error {
	if BoardIDOf(nodeID) != b.id {
		return fmt.Errorf("%w: %s is not part of board %s", ErrNodeNotFound, nodeID, b.id)
	}
	return nil
}

func (b *Board) run(ctx context.Context, fn TxFunc) (*Changes, error) {
	return b.store.Transaction(ctx, b.id, fn)
}

// GetNode reads one node of the board.
func (b *Board) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	c, err := b.run(ctx, GetNodeFunc(nodeID))
	if err != nil {
		return nil, err
	}
	return c.Reads[0], nil
}

// Nodes returns every node of the board, root first.
func (b *Board) Nodes(ctx context.Context) ([]*Node, error) {
	c, err := b.run(ctx, NodesFunc(b.id))
	if err != nil {
		return nil, err
	}
	return c.Reads, nil
}

// AddNode creates a column (when parentID is the board) or a card placed
// directly after parentID. The created node is returned as committed.
func (b *Board) AddNode(ctx context.Context, content Content, parentID, creator string) (*Node, *Changes, error) {
	if err := b.owns(parentID); err != nil {
		return nil, nil, err
	}
	newID := b.NewNodeID()
	c, err := b.run(ctx, AddNodeFunc(newID, content, parentID, creator, b.now().UnixMilli()))
	if err != nil {
		return nil, nil, err
	}
	return c.Updated(newID), c, nil
}

// MoveNode places nodeID directly after newParentID.
func (b *Board) MoveNode(ctx context.Context, nodeID, newParentID string) (*Changes, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	if err := b.owns(newParentID); err != nil {
		return nil, err
	}
	return b.run(ctx, MoveNodeFunc(nodeID, newParentID))
}

// EditNode applies content operations to nodeID.
func (b *Board) EditNode(ctx context.Context, nodeID string, ops []Operation, lockToken, unlockToken string) (*Changes, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, err
		}
	}
	return b.run(ctx, EditNodeFunc(nodeID, ops, lockToken, unlockToken))
}

// LockNode takes an advisory editing lock on nodeID.
func (b *Board) LockNode(ctx context.Context, nodeID, token string) (*Changes, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	return b.run(ctx, LockNodeFunc(nodeID, token))
}

// UnlockNode releases the lock on nodeID held with token.
func (b *Board) UnlockNode(ctx context.Context, nodeID, token string) (*Changes, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	return b.run(ctx, UnlockNodeFunc(nodeID, token))
}

// RemoveNode deletes nodeID, optionally with everything below it.
func (b *Board) RemoveNode(ctx context.Context, nodeID string, cascade bool) (*Changes, error) {
	if err := b.owns(nodeID); err != nil {
		return nil, err
	}
	return b.run(ctx, RemoveNodeFunc(nodeID, cascade))
}

// Delete removes every node of the board, root included.
func (b *Board) Delete(ctx context.Context) (*Changes, error) {
	return b.run(ctx, DeleteFunc(b.id))
}

// Import writes nodes, root included, into the board in one commit and
// returns them as committed, in the order given.
func (b *Board) Import(ctx context.Context, nodes []*Node, force bool) ([]*Node, error) {
	c, err := b.run(ctx, ImportFunc(b.id, nodes, force))
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, c.Updated(n.ID))
	}
	return out, nil
}

// Updated returns the updated node with the given id, or nil.
func (c *Changes) Updated(id string) *Node {
	if c == nil {
		return nil
	}
	for _, n := range c.Updates {
		if n.ID == id {
			return n
		}
	}
	return nil
}
