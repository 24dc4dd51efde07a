// Package engine is the application layer over the board store: board
// lifecycle, templates, listing, node operations and import/export. The HTTP
// server and the CLI both drive boards through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBoardNameRequired is returned when a board is created without a name.
	ErrBoardNameRequired = errors.New("engine: board name is required")
	// ErrUnknownTemplate is returned for a template name that is not configured.
	ErrUnknownTemplate = errors.New("engine: unknown board template")
	// ErrLockAndUnlock is returned when one edit asks to both lock and unlock.
	ErrLockAndUnlock = errors.New("engine: cannot lock and unlock in the same request")
	// ErrInvalidExport is returned for an export document without a board node.
	ErrInvalidExport = errors.New("engine: invalid board export")
)

// Lister queries the board listing index.
type Lister interface {
	GetBoards(ctx context.Context, q index.Query) ([]*board.Node, error)
}

// Engine runs board operations against a store.
type Engine struct {
	store     store.Store
	index     Lister
	templates map[string][]string
	logger    *zap.Logger
	now       func() time.Time
	newID     board.IDGenerator
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndex lists boards from idx instead of scanning the store.
func WithIndex(idx Lister) Option {
	return func(e *Engine) { e.index = idx }
}

// WithTemplates sets the board templates available to CreateBoard.
func WithTemplates(templates map[string][]string) Option {
	return func(e *Engine) { e.templates = templates }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides uuid-based id generation for boards and nodes.
func WithIDGenerator(g board.IDGenerator) Option {
	return func(e *Engine) { e.newID = g }
}

// New creates an engine over st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		templates: map[string][]string{},
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) board(boardID string) *board.Board {
	return board.New(boardID, e.store, board.WithIDGenerator(e.newID), board.WithClock(e.now))
}

// Templates returns the configured templates keyed by name.
func (e *Engine) Templates() map[string][]string {
	out := make(map[string][]string, len(e.templates))
	for name, columns := range e.templates {
		out[name] = append([]string(nil), columns...)
	}
	return out
}

// CreateBoard creates a board called name. With a template, the template's
// columns are added in order. The new board's nodes are returned root first.
func (e *Engine) CreateBoard(ctx context.Context, name, template, creator string) ([]*board.Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrBoardNameRequired
	}
	var columns []string
	if template != "" {
		var ok bool
		columns, ok = e.templates[template]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
		}
	}

	boardID := e.newID()
	root := board.NewBoardNode(boardID, board.Content{"name": name}, creator, e.now().UnixMilli())
	if err := e.store.CreateBoard(ctx, root, false); err != nil {
		return nil, fmt.Errorf("failed to create board: %w", err)
	}

	b := e.board(boardID)
	for _, column := range columns {
		if _, _, err := b.AddNode(ctx, board.Content{"name": column}, boardID, creator); err != nil {
			return nil, fmt.Errorf("failed to add column %q: %w", column, err)
		}
	}

	e.logger.Info("board created",
		zap.String("board_id", boardID),
		zap.String("template", template),
		zap.Int("columns", len(columns)))
	return b.Nodes(ctx)
}

// GetBoard returns every node of a board, root first.
func (e *Engine) GetBoard(ctx context.Context, boardID string) ([]*board.Node, error) {
	return e.board(boardID).Nodes(ctx)
}

// ListBoards returns board roots. Without an index the store is scanned and
// only Filters, SearchTerms on creator and content fields, CreatedSince and
// paging are honoured, sorted by create_time.
func (e *Engine) ListBoards(ctx context.Context, q index.Query) ([]*board.Node, error) {
	if e.index != nil {
		return e.index.GetBoards(ctx, q)
	}

	ids, err := e.store.BoardIDs(ctx)
	if err != nil {
		return nil, err
	}
	var roots []*board.Node
	for _, id := range ids {
		root, err := e.store.GetNode(ctx, id)
		if board.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if root.CreateTime < q.CreatedSince || !matches(root, q) {
			continue
		}
		roots = append(roots, root)
	}

	desc := strings.EqualFold(q.SortOrder, "desc")
	sort.SliceStable(roots, func(i, j int) bool {
		if roots[i].CreateTime == roots[j].CreateTime {
			return roots[i].ID < roots[j].ID
		}
		if desc {
			return roots[i].CreateTime > roots[j].CreateTime
		}
		return roots[i].CreateTime < roots[j].CreateTime
	})

	count := q.Count
	if count <= 0 {
		count = index.DefaultCount
	}
	start := q.Start
	if start < 0 {
		start = 0
	}
	if start >= len(roots) {
		return []*board.Node{}, nil
	}
	end := start + count
	if end > len(roots) {
		end = len(roots)
	}
	return roots[start:end], nil
}

func fieldValue(root *board.Node, key string) (string, bool) {
	if key == "creator" {
		return root.Creator, true
	}
	if key == "id" {
		return root.ID, true
	}
	if field, ok := strings.CutPrefix(key, "content."); ok {
		v, ok := root.Content[field]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprint(v), true
	}
	return "", false
}

func matches(root *board.Node, q index.Query) bool {
	for key, want := range q.Filters {
		got, ok := fieldValue(root, key)
		if !ok || got != want {
			return false
		}
	}
	for key, term := range q.SearchTerms {
		got, ok := fieldValue(root, key)
		if !ok || !strings.Contains(strings.ToLower(got), strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// DeleteBoard removes every node of a board and the board itself. The
// deleted nodes are returned.
func (e *Engine) DeleteBoard(ctx context.Context, boardID string) ([]*board.Node, error) {
	c, err := e.board(boardID).Delete(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.store.RemoveBoard(ctx, boardID); err != nil {
		return nil, err
	}
	e.logger.Info("board deleted", zap.String("board_id", boardID), zap.Int("nodes", len(c.Deletes)))
	return c.Deletes, nil
}

// AddNode adds a column under the board or a card after parentID.
func (e *Engine) AddNode(ctx context.Context, boardID, parentID string, content board.Content, creator string) (*board.Node, error) {
	if content == nil {
		content = board.Content{}
	}
	n, _, err := e.board(boardID).AddNode(ctx, content, parentID, creator)
	return n, err
}

// MoveNode places a card after newParentID and returns every node the move
// touched. Moving a card to where it already is returns just the card.
func (e *Engine) MoveNode(ctx context.Context, boardID, nodeID, newParentID string) ([]*board.Node, error) {
	c, err := e.board(boardID).MoveNode(ctx, nodeID, newParentID)
	if err != nil {
		return nil, err
	}
	if len(c.Updates) > 0 {
		return c.Updates, nil
	}
	for _, n := range c.Reads {
		if n.ID == nodeID {
			return []*board.Node{n}, nil
		}
	}
	return nil, nil
}

// EditNode applies ops to a node, optionally taking or releasing its lock,
// and returns the node as it is afterwards.
func (e *Engine) EditNode(ctx context.Context, boardID, nodeID string, ops []board.Operation, lockToken, unlockToken string) (*board.Node, error) {
	if lockToken != "" && unlockToken != "" {
		return nil, ErrLockAndUnlock
	}
	b := e.board(boardID)
	c, err := b.EditNode(ctx, nodeID, ops, lockToken, unlockToken)
	if err != nil {
		return nil, err
	}
	if n := c.Updated(nodeID); n != nil {
		return n, nil
	}
	for _, n := range c.Reads {
		if n.ID == nodeID {
			return n, nil
		}
	}
	return b.GetNode(ctx, nodeID)
}

// LockNode takes the editing lock on a node.
func (e *Engine) LockNode(ctx context.Context, boardID, nodeID, token string) error {
	_, err := e.board(boardID).LockNode(ctx, nodeID, token)
	return err
}

// UnlockNode releases the editing lock on a node.
func (e *Engine) UnlockNode(ctx context.Context, boardID, nodeID, token string) error {
	_, err := e.board(boardID).UnlockNode(ctx, nodeID, token)
	return err
}

// RemoveNode deletes a node and returns every deleted node.
func (e *Engine) RemoveNode(ctx context.Context, boardID, nodeID string, cascade bool) ([]*board.Node, error) {
	c, err := e.board(boardID).RemoveNode(ctx, nodeID, cascade)
	if err != nil {
		return nil, err
	}
	return c.Deletes, nil
}
