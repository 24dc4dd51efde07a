package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/retro/pkg/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Listen delivers events for every board of the instance. With keyspace
// notifications enabled, expired lock keys are delivered as node_unlock.
func (s *RedisStore) Listen(ctx context.Context, h events.Handler) error {
	return s.listenReady(ctx, "", h, nil)
}

// ListenBoard delivers events for a single board.
func (s *RedisStore) ListenBoard(ctx context.Context, boardID string, h events.Handler) error {
	return s.listenReady(ctx, boardID, h, nil)
}

func (s *RedisStore) listenReady(ctx context.Context, boardID string, h events.Handler, ready func()) error {
	var pubsub *redis.PubSub
	if boardID == "" {
		patterns := []string{BoardChannelPattern(s.instance)}
		if s.keyspace {
			patterns = append(patterns, ExpiredKeyChannelPattern)
		}
		pubsub = s.rdb.PSubscribe(ctx, patterns...)
	} else {
		pubsub = s.rdb.Subscribe(ctx, BoardChannel(s.instance, boardID))
		if s.keyspace {
			if err := pubsub.PSubscribe(ctx, ExpiredKeyChannelPattern); err != nil {
				pubsub.Close()
				return fmt.Errorf("failed to subscribe to key expiry events: %w", err)
			}
		}
	}
	defer pubsub.Close()

	// Wait for every subscription to be confirmed before reporting ready.
	confirmations := 1
	if s.keyspace {
		confirmations = 2
	}
	for i := 0; i < confirmations; i++ {
		if _, err := pubsub.Receive(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to board events: %w", err)
		}
	}
	if ready != nil {
		ready()
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n := events.Notification{Channel: msg.Channel, Payload: []byte(msg.Payload)}
			keep, err := s.processor.Dispatch(n, func(m events.Message, id string) bool {
				if boardID != "" && id != boardID {
					return true
				}
				return h(m, id)
			})
			if err != nil {
				s.opts.Logger.Warn("skipping undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
			}
			if !keep {
				return nil
			}
		}
	}
}

func (s *MemStore) listenReady(ctx context.Context, boardID string, h events.Handler, ready func()) error {
	topic := allTopics
	if boardID != "" {
		topic = BoardChannel(memInstance, boardID)
	}
	return s.listen(ctx, topic, h, ready)
}

type readyListener interface {
	listenReady(ctx context.Context, boardID string, h events.Handler, ready func()) error
}

// Event is a decoded message with the board it belongs to.
type Event struct {
	BoardID string
	Message events.Message
}

// Subscription is an active listener exposing events as a channel.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns the channel carrying the error that ended the subscription.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe listens on st for one board, or every board when boardID is
// empty. It returns once the underlying subscription is established, so
// events committed afterwards are delivered.
func Subscribe(ctx context.Context, st Store, boardID string) (*Subscription, error) {
	rl, ok := st.(readyListener)
	if !ok {
		return nil, fmt.Errorf("store %T does not support subscriptions", st)
	}

	eventsChan := make(chan Event, 10)
	errorsChan := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	readyCh := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(readyCh) }) }

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		err := rl.listenReady(subCtx, boardID, func(m events.Message, id string) bool {
			select {
			case eventsChan <- Event{BoardID: id, Message: m}:
				return true
			case <-subCtx.Done():
				return false
			}
		}, markReady)
		markReady()
		if err != nil && subCtx.Err() == nil {
			errorsChan <- err
		}
	}()

	select {
	case <-readyCh:
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancel,
	}, nil
}
