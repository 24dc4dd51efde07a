package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// expireLockScript releases one lock if its scheduled expiry is due.
// Re-locking a node rewrites its score, so a lock taken after the reaper
// read the schedule is left alone.
//
// KEYS[1] expiry schedule, KEYS[2] lock key
// ARGV[1] node id, ARGV[2] now (ms), ARGV[3] channel, ARGV[4] payload
var expireLockScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
redis.call('PUBLISH', ARGV[3], ARGV[4])
return 1
`)

// ExpireLocks releases every lock whose TTL has elapsed and publishes a
// node_unlock for each. Safe to run from several processes at once: each
// lock is released, and announced, exactly once.
func (s *RedisStore) ExpireLocks(ctx context.Context) (int, error) {
	nowMs := s.opts.Now().UnixMilli()
	expiryKey := LockExpiryKey(s.instance)

	due, err := s.rdb.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read lock expiry schedule: %w", err)
	}

	released := 0
	for _, nodeID := range due {
		payload, err := events.Encode(events.NodeUnlockMessage{NodeIDs: []string{nodeID}})
		if err != nil {
			return released, err
		}
		channel := BoardChannel(s.instance, board.BoardIDOf(nodeID))
		n, err := expireLockScript.Run(ctx, s.rdb,
			[]string{expiryKey, LockKey(s.instance, nodeID)},
			nodeID, nowMs, channel, payload,
		).Int()
		if err != nil {
			return released, fmt.Errorf("failed to expire lock for %s: %w", nodeID, err)
		}
		if n == 1 {
			released++
			s.opts.Metrics.RecordEvent(events.TypeNodeUnlock)
			s.opts.Logger.Debug("lock expired", zap.String("node_id", nodeID))
		}
	}
	s.opts.Metrics.RecordLockExpired(released)
	return released, nil
}

// RunLockReaper calls ExpireLocks every interval until ctx ends.
func (s *RedisStore) RunLockReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.opts.Logger.Info("lock reaper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Info("lock reaper stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpireLocks(ctx); err != nil && ctx.Err() == nil {
				s.opts.Logger.Warn("lock reaper pass failed", zap.Error(err))
			}
		}
	}
}
