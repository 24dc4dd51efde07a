// Package store provides transactional persistence for boards.
//
// Two backends implement Store: MemStore keeps everything in process behind
// a single mutex; RedisStore uses optimistic WATCH/MULTI transactions keyed
// on each board's root hash and publishes change events on a per-board
// pub/sub channel. Both run the pure mutation functions of package board,
// stamp versions, persist advisory locks with a TTL and deliver the same
// typed events from package events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"go.uber.org/zap"
)

// DefaultLockTTL is how long an editing lock lives unless released.
const DefaultLockTTL = time.Hour

// DefaultMaxRetries bounds optimistic transaction retries.
const DefaultMaxRetries = 100

// ErrTooManyConflicts is returned when a transaction keeps losing the race
// for its board and the retry budget runs out.
var ErrTooManyConflicts = errors.New("store: too many transaction conflicts")

// Store is the full persistence surface used by the application layer.
type Store interface {
	board.Transactor

	// CreateBoard persists a new board root. It fails with board.ErrExistingNode
	// when the id is taken, unless force is set.
	CreateBoard(ctx context.Context, root *board.Node, force bool) error

	// RemoveBoard drops the board from the board set and announces board_del.
	// Node deletion is done beforehand through a transaction.
	RemoveBoard(ctx context.Context, boardID string) error

	GetNode(ctx context.Context, nodeID string) (*board.Node, error)
	GetNodeLock(ctx context.Context, nodeID string) (string, error)
	NodeExists(ctx context.Context, nodeID string) (bool, error)
	BoardIDs(ctx context.Context) ([]string, error)

	// Listen delivers events for every board until ctx ends or h returns false.
	Listen(ctx context.Context, h events.Handler) error

	// ListenBoard delivers events for one board until ctx ends or h returns false.
	ListenBoard(ctx context.Context, boardID string, h events.Handler) error

	Ping(ctx context.Context) error
	Close() error
}

// BoardIndexer receives board roots after every commit so an external
// listing index stays current.
type BoardIndexer interface {
	CreateBoard(ctx context.Context, root *board.Node) error
	UpdateBoard(ctx context.Context, root *board.Node) error
	RemoveBoard(ctx context.Context, boardID string) error
}

// Options configures a store backend.
type Options struct {
	Logger     *zap.Logger
	Metrics    *Metrics
	Index      BoardIndexer
	LockTTL    time.Duration
	MaxRetries int // 0 uses DefaultMaxRetries, negative retries forever
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DefaultOptions returns options with the default lock TTL and retry budget.
func DefaultOptions() Options {
	return Options{LockTTL: DefaultLockTTL, MaxRetries: DefaultMaxRetries}
}

// stamp applies commit metadata to the changes of a transaction and returns
// the board root as it will be after the commit.
func stamp(c *board.Changes, root *board.Node, nowMs int64) *board.Node {
	version := root.Version + 1
	var updatedRoot *board.Node
	for _, n := range c.Updates {
		n.Version = version
		if n.OrigVersion == 0 {
			n.OrigVersion = version
		}
		n.LastUpdateTime = nowMs
		if n.ID == root.ID {
			updatedRoot = n
		}
	}
	if updatedRoot == nil {
		updatedRoot = root.Clone()
		updatedRoot.Version = version
		updatedRoot.LastUpdateTime = nowMs
	}
	return updatedRoot
}

func rootDeleted(c *board.Changes, boardID string) bool {
	for _, n := range c.Deletes {
		if n.ID == boardID {
			return true
		}
	}
	return false
}
