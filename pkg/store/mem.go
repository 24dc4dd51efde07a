package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"go.uber.org/zap"
)

const (
	memBackend  = "memory"
	memInstance = "local"
)

// MemStore keeps boards in process memory. Transactions are serialised by a
// single mutex, so they never conflict and never retry.
type MemStore struct {
	mu     sync.Mutex
	nodes  map[string]*board.Node
	boards map[string]bool
	locks  map[string]*memLock
	gen    uint64
	closed bool

	broker    *broker
	processor *events.Processor
	opts      Options
}

type memLock struct {
	token     string
	gen       uint64
	expiresAt time.Time
	timer     *time.Timer
}

// NewMemStore returns an empty in-memory store.
func NewMemStore(opts Options) *MemStore {
	return &MemStore{
		nodes:  make(map[string]*board.Node),
		boards: make(map[string]bool),
		locks:  make(map[string]*memLock),
		broker: newBroker(),
		processor: &events.Processor{
			BoardFromChannel: func(ch string) (string, bool) { return ParseBoardChannel(memInstance, ch) },
		},
		opts: opts.withDefaults(),
	}
}

type memReader struct {
	s *MemStore
}

func (r memReader) GetNode(_ context.Context, nodeID string) (*board.Node, error) {
	return r.s.getNodeLocked(nodeID)
}

func (r memReader) GetNodeLock(_ context.Context, nodeID string) (string, error) {
	return r.s.getLockLocked(nodeID), nil
}

func (s *MemStore) getNodeLocked(nodeID string) (*board.Node, error) {
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", board.ErrNodeNotFound, nodeID)
	}
	return n.Clone(), nil
}

func (s *MemStore) getLockLocked(nodeID string) string {
	l, ok := s.locks[nodeID]
	if !ok || !s.opts.Now().Before(l.expiresAt) {
		return ""
	}
	return l.token
}

// Transaction runs fn against a consistent view of the board and commits
// its changes.
func (s *MemStore) Transaction(ctx context.Context, boardID string, fn board.TxFunc) (*board.Changes, error) {
	start := time.Now()
	c, root, err := s.transaction(ctx, boardID, fn)
	switch {
	case err != nil:
		s.opts.Metrics.RecordTransaction(memBackend, outcomeError, time.Since(start))
		return nil, err
	case root == nil:
		s.opts.Metrics.RecordTransaction(memBackend, outcomeRead, time.Since(start))
		return c, nil
	}
	s.opts.Metrics.RecordTransaction(memBackend, outcomeCommit, time.Since(start))

	if s.opts.Index != nil && !rootDeleted(c, boardID) {
		if err := s.opts.Index.UpdateBoard(ctx, root); err != nil {
			s.opts.Logger.Warn("failed to update board index", zap.String("board_id", boardID), zap.Error(err))
		}
	}
	return c, nil
}

func (s *MemStore) transaction(ctx context.Context, boardID string, fn board.TxFunc) (*board.Changes, *board.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, fmt.Errorf("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	c, err := fn(ctx, memReader{s: s})
	if err != nil {
		return nil, nil, err
	}
	if !c.HasWrites() {
		return c, nil, nil
	}

	stored, ok := s.nodes[boardID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: board %s", board.ErrNodeNotFound, boardID)
	}
	now := s.opts.Now()
	root := stamp(c, stored, now.UnixMilli())

	for _, n := range c.Deletes {
		delete(s.nodes, n.ID)
		s.dropLockLocked(n.ID)
	}
	for _, n := range c.Updates {
		s.nodes[n.ID] = n.Clone()
	}
	for _, l := range c.Locks {
		s.setLockLocked(l, now)
	}
	for _, id := range c.Unlocks {
		s.dropLockLocked(id)
	}
	if current, ok := s.nodes[boardID]; ok {
		current.Version = root.Version
		current.LastUpdateTime = root.LastUpdateTime
	}

	channel := BoardChannel(memInstance, boardID)
	for _, msg := range events.FromChanges(c) {
		s.publishLocked(channel, msg)
	}
	return c, root.Clone(), nil
}

func (s *MemStore) publishLocked(channel string, msg events.Message) {
	payload, err := events.Encode(msg)
	if err != nil {
		s.opts.Logger.Warn("failed to encode event", zap.String("type", string(msg.Type())), zap.Error(err))
		return
	}
	s.broker.Publish(channel, payload)
	s.opts.Metrics.RecordEvent(msg.Type())
}

func (s *MemStore) setLockLocked(l board.Lock, now time.Time) {
	s.dropLockLocked(l.NodeID)
	s.gen++
	gen := s.gen
	nodeID := l.NodeID
	s.locks[nodeID] = &memLock{
		token:     l.Token,
		gen:       gen,
		expiresAt: now.Add(s.opts.LockTTL),
		timer:     time.AfterFunc(s.opts.LockTTL, func() { s.expireLock(nodeID, gen) }),
	}
}

func (s *MemStore) dropLockLocked(nodeID string) {
	if l, ok := s.locks[nodeID]; ok {
		l.timer.Stop()
		delete(s.locks, nodeID)
	}
}

// expireLock releases a lock whose TTL elapsed and announces the unlock.
func (s *MemStore) expireLock(nodeID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[nodeID]
	if !ok || l.gen != gen || s.closed {
		return
	}
	delete(s.locks, nodeID)
	boardID := board.BoardIDOf(nodeID)
	s.publishLocked(BoardChannel(memInstance, boardID), events.NodeUnlockMessage{NodeIDs: []string{nodeID}})
	s.opts.Metrics.RecordLockExpired(1)
	s.opts.Logger.Debug("lock expired", zap.String("node_id", nodeID))
}

// CreateBoard stores a new board root.
func (s *MemStore) CreateBoard(ctx context.Context, root *board.Node, force bool) error {
	if root.Type != board.TypeBoard {
		return fmt.Errorf("invalid board root: node %s is %s", root.ID, root.Type)
	}
	if err := root.Validate(); err != nil {
		return fmt.Errorf("invalid board root: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.nodes[root.ID]; exists && !force {
		s.mu.Unlock()
		return fmt.Errorf("%w: board %s", board.ErrExistingNode, root.ID)
	}
	stored := root.Clone()
	if stored.OrigVersion == 0 {
		stored.OrigVersion = stored.Version
	}
	s.nodes[stored.ID] = stored
	s.boards[stored.ID] = true
	s.publishLocked(BoardChannel(memInstance, stored.ID), events.NodeUpdateMessage{Nodes: []*board.Node{stored.Clone()}})
	created := stored.Clone()
	s.mu.Unlock()

	root.OrigVersion = created.OrigVersion
	if s.opts.Index != nil {
		if err := s.opts.Index.CreateBoard(ctx, created); err != nil {
			s.opts.Logger.Warn("failed to index board", zap.String("board_id", created.ID), zap.Error(err))
		}
	}
	return nil
}

// RemoveBoard forgets a board and announces its deletion.
func (s *MemStore) RemoveBoard(ctx context.Context, boardID string) error {
	s.mu.Lock()
	delete(s.boards, boardID)
	delete(s.nodes, boardID)
	s.dropLockLocked(boardID)
	s.publishLocked(BoardChannel(memInstance, boardID), events.BoardDeleteMessage{BoardID: boardID})
	s.mu.Unlock()

	if s.opts.Index != nil {
		if err := s.opts.Index.RemoveBoard(ctx, boardID); err != nil {
			s.opts.Logger.Warn("failed to remove board from index", zap.String("board_id", boardID), zap.Error(err))
		}
	}
	return nil
}

// GetNode returns a copy of a node.
func (s *MemStore) GetNode(_ context.Context, nodeID string) (*board.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getNodeLocked(nodeID)
}

// GetNodeLock returns the node's lock token, or "" when unlocked.
func (s *MemStore) GetNodeLock(_ context.Context, nodeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLockLocked(nodeID), nil
}

// NodeExists reports whether a node is stored.
func (s *MemStore) NodeExists(_ context.Context, nodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[nodeID]
	return ok, nil
}

// BoardIDs lists every board id in sorted order.
func (s *MemStore) BoardIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.boards))
	for id := range s.boards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Listen delivers events for every board.
func (s *MemStore) Listen(ctx context.Context, h events.Handler) error {
	return s.listen(ctx, allTopics, h, nil)
}

// ListenBoard delivers events for one board.
func (s *MemStore) ListenBoard(ctx context.Context, boardID string, h events.Handler) error {
	return s.listen(ctx, BoardChannel(memInstance, boardID), h, nil)
}

func (s *MemStore) listen(ctx context.Context, topic string, h events.Handler, ready func()) error {
	stream, cancel := s.broker.Subscribe(ctx, topic)
	defer cancel()
	if ready != nil {
		ready()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-stream:
			keep, err := s.processor.Dispatch(n, h)
			if err != nil {
				s.opts.Logger.Warn("skipping undecodable event", zap.String("channel", n.Channel), zap.Error(err))
			}
			if !keep {
				return nil
			}
		}
	}
}

// Ping fails only once the store is closed.
func (s *MemStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close stops lock timers. The store must not be used afterwards.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.locks {
		s.dropLockLocked(id)
	}
	s.closed = true
	return nil
}
