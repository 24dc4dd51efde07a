package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisBackend = "redis"

// RedisStore persists boards in Redis. Each board's root hash is the
// optimistic-concurrency anchor: a transaction WATCHes it, computes its
// changes, and commits them in one MULTI/EXEC that also bumps the root
// version. A concurrent commit on the same board aborts the EXEC and the
// transaction is retried from scratch.
//
// All keys and channels are namespaced with the instance name.
type RedisStore struct {
	rdb       *redis.Client
	instance  string
	opts      Options
	processor *events.Processor

	// KeyspaceNotifications makes listeners also translate Redis key expiry
	// events for lock keys into node_unlock messages. The server must run
	// with notify-keyspace-events including "Ex".
	keyspace bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyspaceNotifications enables lock expiry detection through Redis
// keyevent notifications instead of (or alongside) the lock reaper.
func WithKeyspaceNotifications() RedisOption {
	return func(s *RedisStore) { s.keyspace = true }
}

// NewRedisStore creates a Redis-backed store for the given instance.
// Returns an error if instance is empty.
func NewRedisStore(redisOpts *redis.Options, instance string, opts Options, ropts ...RedisOption) (*RedisStore, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	s := &RedisStore{
		rdb:      redis.NewClient(redisOpts),
		instance: instance,
		opts:     opts.withDefaults(),
	}
	for _, o := range ropts {
		o(s)
	}
	s.processor = &events.Processor{
		BoardFromChannel: func(ch string) (string, bool) { return ParseBoardChannel(instance, ch) },
		NodeFromLockKey:  func(key string) (string, bool) { return ParseLockKey(instance, key) },
	}
	return s, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// redisReader reads through the connection holding the WATCH.
type redisReader struct {
	tx       *redis.Tx
	instance string
}

func (r *redisReader) GetNode(ctx context.Context, nodeID string) (*board.Node, error) {
	return readNode(ctx, r.tx, r.instance, nodeID)
}

func (r *redisReader) GetNodeLock(ctx context.Context, nodeID string) (string, error) {
	return readLock(ctx, r.tx, r.instance, nodeID)
}

func readNode(ctx context.Context, c redis.Cmdable, instance, nodeID string) (*board.Node, error) {
	hash, err := c.HGetAll(ctx, NodeKey(instance, nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s from Redis: %w", nodeID, err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("%w: %s", board.ErrNodeNotFound, nodeID)
	}
	n, err := board.HashToNode(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize node %s: %w", nodeID, err)
	}
	return n, nil
}

func readLock(ctx context.Context, c redis.Cmdable, instance, nodeID string) (string, error) {
	token, err := c.Get(ctx, LockKey(instance, nodeID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock for %s: %w", nodeID, err)
	}
	return token, nil
}

// retryPolicy builds the backoff used between conflicting attempts.
func (s *RedisStore) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Millisecond
	exp.MaxInterval = 50 * time.Millisecond
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = exp
	if s.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// Transaction runs fn under optimistic concurrency on the board's root.
func (s *RedisStore) Transaction(ctx context.Context, boardID string, fn board.TxFunc) (*board.Changes, error) {
	start := time.Now()
	rootKey := NodeKey(s.instance, boardID)

	var (
		result    *board.Changes
		committed *board.Node
		attempts  int
	)

	op := func() error {
		attempts++
		result, committed = nil, nil
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			root, err := readNode(ctx, tx, s.instance, boardID)
			if err != nil {
				return err
			}
			c, err := fn(ctx, &redisReader{tx: tx, instance: s.instance})
			if err != nil {
				return err
			}
			if !c.HasWrites() {
				result = c
				return nil
			}

			updatedRoot := stamp(c, root, s.opts.Now().UnixMilli())
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.queueCommit(ctx, pipe, boardID, c, updatedRoot)
			}); err != nil {
				return err
			}
			result = c
			committed = updatedRoot
			return nil
		}, rootKey)

		if errors.Is(err, redis.TxFailedErr) {
			s.opts.Metrics.RecordConflict(redisBackend)
			s.opts.Logger.Debug("transaction conflict, retrying",
				zap.String("board_id", boardID), zap.Int("attempt", attempts))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		s.opts.Metrics.RecordTransaction(redisBackend, outcomeError, time.Since(start))
		if errors.Is(err, redis.TxFailedErr) {
			s.opts.Logger.Warn("transaction abandoned after repeated conflicts",
				zap.String("board_id", boardID), zap.Int("attempts", attempts))
			return nil, fmt.Errorf("%w: board %s after %d attempts", ErrTooManyConflicts, boardID, attempts)
		}
		return nil, err
	}

	if committed == nil {
		s.opts.Metrics.RecordTransaction(redisBackend, outcomeRead, time.Since(start))
		return result, nil
	}
	s.opts.Metrics.RecordTransaction(redisBackend, outcomeCommit, time.Since(start))
	for _, msg := range events.FromChanges(result) {
		s.opts.Metrics.RecordEvent(msg.Type())
	}

	if s.opts.Index != nil && !rootDeleted(result, boardID) {
		if err := s.opts.Index.UpdateBoard(ctx, committed); err != nil {
			s.opts.Logger.Warn("failed to update board index", zap.String("board_id", boardID), zap.Error(err))
		}
	}
	return result, nil
}

// queueCommit writes the changes into the MULTI block: deletes, updates,
// locks and unlocks, each followed by its event, then the root version bump.
func (s *RedisStore) queueCommit(ctx context.Context, pipe redis.Pipeliner, boardID string, c *board.Changes, root *board.Node) error {
	channel := BoardChannel(s.instance, boardID)
	expiryKey := LockExpiryKey(s.instance)

	for _, msg := range events.FromChanges(c) {
		switch msg.(type) {
		case events.NodeDeleteMessage:
			for _, n := range c.Deletes {
				pipe.Del(ctx, NodeKey(s.instance, n.ID), LockKey(s.instance, n.ID))
				pipe.ZRem(ctx, expiryKey, n.ID)
			}
		case events.NodeUpdateMessage:
			for _, n := range c.Updates {
				hash, err := board.NodeToHash(n)
				if err != nil {
					return fmt.Errorf("failed to serialize node %s: %w", n.ID, err)
				}
				pipe.HSet(ctx, NodeKey(s.instance, n.ID), hash)
			}
		case events.NodeLockMessage:
			expiresAt := s.opts.Now().Add(s.opts.LockTTL).UnixMilli()
			for _, l := range c.Locks {
				pipe.Set(ctx, LockKey(s.instance, l.NodeID), l.Token, s.opts.LockTTL)
				pipe.ZAdd(ctx, expiryKey, redis.Z{Score: float64(expiresAt), Member: l.NodeID})
			}
		case events.NodeUnlockMessage:
			for _, id := range c.Unlocks {
				pipe.Del(ctx, LockKey(s.instance, id))
				pipe.ZRem(ctx, expiryKey, id)
			}
		}

		payload, err := events.Encode(msg)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, channel, payload)
	}

	if !rootDeleted(c, boardID) {
		pipe.HSet(ctx, NodeKey(s.instance, boardID),
			"version", board.EncodeInt(root.Version),
			"last_update_time", board.EncodeInt(root.LastUpdateTime))
	} else {
		pipe.SRem(ctx, BoardsKey(s.instance), boardID)
	}
	return nil
}

// CreateBoard writes a new board root, registers it in the board set and
// announces it.
func (s *RedisStore) CreateBoard(ctx context.Context, root *board.Node, force bool) error {
	if root.Type != board.TypeBoard {
		return fmt.Errorf("invalid board root: node %s is %s", root.ID, root.Type)
	}
	if err := root.Validate(); err != nil {
		return fmt.Errorf("invalid board root: %w", err)
	}

	stored := root.Clone()
	if stored.OrigVersion == 0 {
		stored.OrigVersion = stored.Version
	}
	hash, err := board.NodeToHash(stored)
	if err != nil {
		return fmt.Errorf("failed to serialize board: %w", err)
	}
	payload, err := events.Encode(events.NodeUpdateMessage{Nodes: []*board.Node{stored}})
	if err != nil {
		return err
	}

	key := NodeKey(s.instance, stored.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check board existence: %w", err)
		}
		if exists > 0 && !force {
			return fmt.Errorf("%w: board %s", board.ErrExistingNode, stored.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, BoardsKey(s.instance), stored.ID)
			pipe.Publish(ctx, BoardChannel(s.instance, stored.ID), payload)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: board %s was created concurrently", board.ErrExistingNode, stored.ID)
	}
	if err != nil {
		return err
	}
	s.opts.Metrics.RecordEvent(events.TypeNodeUpdate)

	root.OrigVersion = stored.OrigVersion
	if s.opts.Index != nil {
		if err := s.opts.Index.CreateBoard(ctx, stored); err != nil {
			s.opts.Logger.Warn("failed to index board", zap.String("board_id", stored.ID), zap.Error(err))
		}
	}
	return nil
}

// RemoveBoard drops the board from the board set, deletes a remaining root
// hash and publishes board_del.
func (s *RedisStore) RemoveBoard(ctx context.Context, boardID string) error {
	payload, err := events.Encode(events.BoardDeleteMessage{BoardID: boardID})
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, BoardsKey(s.instance), boardID)
		pipe.Del(ctx, NodeKey(s.instance, boardID), LockKey(s.instance, boardID))
		pipe.ZRem(ctx, LockExpiryKey(s.instance), boardID)
		pipe.Publish(ctx, BoardChannel(s.instance, boardID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove board %s: %w", boardID, err)
	}
	s.opts.Metrics.RecordEvent(events.TypeBoardDelete)

	if s.opts.Index != nil {
		if err := s.opts.Index.RemoveBoard(ctx, boardID); err != nil {
			s.opts.Logger.Warn("failed to remove board from index", zap.String("board_id", boardID), zap.Error(err))
		}
	}
	return nil
}

// GetNode reads a node outside any transaction.
func (s *RedisStore) GetNode(ctx context.Context, nodeID string) (*board.Node, error) {
	return readNode(ctx, s.rdb, s.instance, nodeID)
}

// GetNodeLock returns a node's lock token, or "" when unlocked.
func (s *RedisStore) GetNodeLock(ctx context.Context, nodeID string) (string, error) {
	return readLock(ctx, s.rdb, s.instance, nodeID)
}

// NodeExists checks for a node without fetching it.
func (s *RedisStore) NodeExists(ctx context.Context, nodeID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, NodeKey(s.instance, nodeID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check node existence: %w", err)
	}
	return n > 0, nil
}

// BoardIDs lists every board id in sorted order.
func (s *RedisStore) BoardIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, BoardsKey(s.instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
