package board

import (
	"context"
	"errors"
)

// Changes is the result of a mutation function: the nodes it looked at and
// the writes a store must commit on its behalf.
type Changes struct {
	Reads   []*Node
	Updates []*Node
	Deletes []*Node
	Locks   []Lock
	Unlocks []string
}

// HasWrites reports whether committing the changes would write anything.
func (c *Changes) HasWrites() bool {
	return c != nil && (len(c.Updates) > 0 || len(c.Deletes) > 0 || len(c.Locks) > 0 || len(c.Unlocks) > 0)
}

// Reader gives a mutation function a consistent view of one board.
type Reader interface {
	// GetNode returns the node or an error wrapping ErrNodeNotFound.
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	// GetNodeLock returns the current lock token, or "" when unlocked.
	GetNodeLock(ctx context.Context, nodeID string) (string, error)
}

// TxFunc computes the changes for one transaction. It must be free of side
// effects because a store may call it more than once.
type TxFunc func(ctx context.Context, r Reader) (*Changes, error)

// Transactor runs mutation functions atomically against one board.
type Transactor interface {
	Transaction(ctx context.Context, boardID string, fn TxFunc) (*Changes, error)
}

// IsNotFound reports whether err is a missing-node error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}
