package store

import (
	"fmt"
	"strings"
)

// Redis key pattern helpers
//
// All keys and channels are namespaced by instance name so several retro
// deployments can share one Redis server.
//
// Key pattern: retro:{instance}:{entity}:{id}
// Channel pattern: retro:{instance}:board:{board_id}:events

// NodeKey returns the Redis key of a node hash.
// Pattern: retro:{instance}:node:{node_id}
func NodeKey(instance, nodeID string) string {
	return fmt.Sprintf("retro:%s:node:%s", instance, nodeID)
}

// LockKey returns the Redis key holding a node's lock token.
// Pattern: retro:{instance}:nodelock:{node_id}
func LockKey(instance, nodeID string) string {
	return fmt.Sprintf("retro:%s:nodelock:%s", instance, nodeID)
}

// LockExpiryKey returns the sorted set scheduling lock expiry.
// Members are node ids scored by expiry time in unix ms.
// Pattern: retro:{instance}:lock_expiry
func LockExpiryKey(instance string) string {
	return fmt.Sprintf("retro:%s:lock_expiry", instance)
}

// BoardsKey returns the set of all board ids.
// Pattern: retro:{instance}:boards
func BoardsKey(instance string) string {
	return fmt.Sprintf("retro:%s:boards", instance)
}

// BoardChannel returns the pub/sub channel carrying a board's events.
// Pattern: retro:{instance}:board:{board_id}:events
func BoardChannel(instance, boardID string) string {
	return fmt.Sprintf("retro:%s:board:%s:events", instance, boardID)
}

// BoardChannelPattern returns the PSUBSCRIBE pattern matching every board channel.
func BoardChannelPattern(instance string) string {
	return fmt.Sprintf("retro:%s:board:*:events", instance)
}

// ExpiredKeyChannelPattern matches Redis keyevent expiry channels on every database.
const ExpiredKeyChannelPattern = "__keyevent@*__:expired"

// ParseBoardChannel extracts the board id from a board channel name.
func ParseBoardChannel(instance, channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, fmt.Sprintf("retro:%s:board:", instance))
	if !ok {
		return "", false
	}
	boardID, ok := strings.CutSuffix(rest, ":events")
	if !ok || boardID == "" {
		return "", false
	}
	return boardID, true
}

// ParseLockKey extracts the node id from a lock key.
func ParseLockKey(instance, key string) (string, bool) {
	nodeID, ok := strings.CutPrefix(key, fmt.Sprintf("retro:%s:nodelock:", instance))
	if !ok || nodeID == "" {
		return "", false
	}
	return nodeID, true
}
