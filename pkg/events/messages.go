// Package events defines the change messages published for a board and maps
// raw pub/sub notifications back into them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/retro/pkg/board"
)

// ErrUnknownEvent is returned when a notification or payload cannot be mapped
// to a known message type.
var ErrUnknownEvent = errors.New("events: unknown event")

// MessageType is the "type" tag of a change message on the wire.
type MessageType string

const (
	// TypeNodeUpdate carries nodes created or changed by a commit.
	TypeNodeUpdate MessageType = "node_update"
	// TypeNodeDelete carries the ids of nodes removed by a commit.
	TypeNodeDelete MessageType = "node_del"
	// TypeNodeLock carries the ids of nodes locked by a commit.
	TypeNodeLock MessageType = "node_lock"
	// TypeNodeUnlock carries the ids of nodes unlocked by a commit or by lock expiry.
	TypeNodeUnlock MessageType = "node_unlock"
	// TypeBoardDelete announces that a board was removed.
	TypeBoardDelete MessageType = "board_del"
)

// Message is one change notification for a board.
type Message interface {
	Type() MessageType
}

// NodeUpdateMessage carries every node created or updated by one commit.
type NodeUpdateMessage struct {
	Nodes []*board.Node `json:"nodes"`
}

// NodeDeleteMessage carries the ids of every node deleted by one commit.
type NodeDeleteMessage struct {
	NodeIDs []string `json:"node_id"`
}

// NodeLockMessage carries the ids of nodes locked by one commit.
type NodeLockMessage struct {
	NodeIDs []string `json:"node_id"`
}

// NodeUnlockMessage carries the ids of nodes unlocked by a commit or by lock expiry.
type NodeUnlockMessage struct {
	NodeIDs []string `json:"node_id"`
}

// BoardDeleteMessage announces that a whole board is gone.
type BoardDeleteMessage struct {
	BoardID string `json:"board_id"`
}

func (NodeUpdateMessage) Type() MessageType  { return TypeNodeUpdate }
func (NodeDeleteMessage) Type() MessageType  { return TypeNodeDelete }
func (NodeLockMessage) Type() MessageType    { return TypeNodeLock }
func (NodeUnlockMessage) Type() MessageType  { return TypeNodeUnlock }
func (BoardDeleteMessage) Type() MessageType { return TypeBoardDelete }

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode renders a message as {"type": ..., "data": ...}.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Data: data})
}

// Decode parses a wire payload back into a typed message.
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case TypeNodeUpdate:
		var msg NodeUpdateMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		m = msg
	case TypeNodeDelete:
		var msg NodeDeleteMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		m = msg
	case TypeNodeLock:
		var msg NodeLockMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		m = msg
	case TypeNodeUnlock:
		var msg NodeUnlockMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		m = msg
	case TypeBoardDelete:
		var msg BoardDeleteMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		m = msg
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownEvent, string(env.Type))
	}
	return m, nil
}

// FromChanges builds the ordered message batches for one committed
// transaction: deletes, updates, locks, unlocks. Empty batches are skipped.
func FromChanges(c *board.Changes) []Message {
	if c == nil {
		return nil
	}
	var out []Message
	if len(c.Deletes) > 0 {
		ids := make([]string, 0, len(c.Deletes))
		for _, n := range c.Deletes {
			ids = append(ids, n.ID)
		}
		out = append(out, NodeDeleteMessage{NodeIDs: ids})
	}
	if len(c.Updates) > 0 {
		out = append(out, NodeUpdateMessage{Nodes: c.Updates})
	}
	if len(c.Locks) > 0 {
		ids := make([]string, 0, len(c.Locks))
		for _, l := range c.Locks {
			ids = append(ids, l.NodeID)
		}
		out = append(out, NodeLockMessage{NodeIDs: ids})
	}
	if len(c.Unlocks) > 0 {
		ids := make([]string, len(c.Unlocks))
		copy(ids, c.Unlocks)
		out = append(out, NodeUnlockMessage{NodeIDs: ids})
	}
	return out
}
