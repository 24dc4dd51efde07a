package events

import (
	"fmt"
	"strings"

	"github.com/dyluth/retro/pkg/board"
)

// Notification is a raw message received from a pub/sub medium.
type Notification struct {
	Channel string
	Payload []byte
}

// Handler receives decoded messages with the board they belong to. Returning
// false stops the listening loop that delivered the message.
type Handler func(msg Message, boardID string) bool

// Processor maps raw notifications to typed messages. The channel naming
// scheme is injected so the same processor serves every backend.
type Processor struct {
	// BoardFromChannel extracts the board id from a board event channel.
	BoardFromChannel func(channel string) (string, bool)

	// NodeFromLockKey extracts the node id from an expired lock key. When nil,
	// expiry notifications are not recognised.
	NodeFromLockKey func(key string) (string, bool)
}

// IsExpiredKeyChannel reports whether channel carries Redis key expiry events.
func IsExpiredKeyChannel(channel string) bool {
	return strings.HasPrefix(channel, "__keyevent@") && strings.HasSuffix(channel, "__:expired")
}

// Process decodes a notification. Board channel payloads are decoded as
// messages; an expired lock key becomes a NodeUnlockMessage for that node.
// Anything else yields ErrUnknownEvent.
func (p *Processor) Process(n Notification) (Message, string, error) {
	if IsExpiredKeyChannel(n.Channel) {
		if p.NodeFromLockKey == nil {
			return nil, "", fmt.Errorf("%w: expiry of %s", ErrUnknownEvent, string(n.Payload))
		}
		nodeID, ok := p.NodeFromLockKey(string(n.Payload))
		if !ok {
			return nil, "", fmt.Errorf("%w: expiry of %s", ErrUnknownEvent, string(n.Payload))
		}
		return NodeUnlockMessage{NodeIDs: []string{nodeID}}, board.BoardIDOf(nodeID), nil
	}

	boardID, ok := p.BoardFromChannel(n.Channel)
	if !ok {
		return nil, "", fmt.Errorf("%w: channel %s", ErrUnknownEvent, n.Channel)
	}
	msg, err := Decode(n.Payload)
	if err != nil {
		return nil, "", err
	}
	return msg, boardID, nil
}

// Dispatch processes n and hands the result to h. It returns whether the
// caller should keep listening; undecodable notifications are skipped.
func (p *Processor) Dispatch(n Notification, h Handler) (bool, error) {
	msg, boardID, err := p.Process(n)
	if err != nil {
		return true, err
	}
	return h(msg, boardID), nil
}
