package store

import (
	"context"
	"sync"

	"github.com/dyluth/retro/pkg/events"
)

// allTopics subscribes to every topic published on a broker.
const allTopics = "*"

// broker is the in-process pub/sub used by MemStore. Subscribers get a
// buffered stream; a subscriber whose buffer is full misses the message
// rather than stalling the publisher.
type broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*brokerSubscriber
	nextID      int64
	bufferSize  int
}

type brokerSubscriber struct {
	id     int64
	stream chan events.Notification
}

func newBroker() *broker {
	return &broker{
		subscribers: make(map[string]map[int64]*brokerSubscriber),
		bufferSize:  256,
	}
}

// Subscribe registers for topic until ctx ends or the returned cancel runs.
func (b *broker) Subscribe(ctx context.Context, topic string) (<-chan events.Notification, func()) {
	subscriber := &brokerSubscriber{
		id:     b.nextSequence(),
		stream: make(chan events.Notification, b.bufferSize),
	}
	b.register(topic, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unregister(topic, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers to subscribers of topic and of allTopics.
func (b *broker) Publish(topic string, payload []byte) {
	n := events.Notification{Channel: topic, Payload: payload}
	b.mu.RLock()
	var targets []*brokerSubscriber
	for _, key := range []string{topic, allTopics} {
		for _, s := range b.subscribers[key] {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range targets {
		select {
		case s.stream <- n:
		default:
		}
	}
}

func (b *broker) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *broker) register(topic string, s *brokerSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*brokerSubscriber)
	}
	b.subscribers[topic][s.id] = s
}

func (b *broker) unregister(topic string, id int64) {
	b.mu.Lock()
	subscribers := b.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.mu.Unlock()
}

// subscriberCount reports live subscribers on topic.
func (b *broker) subscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
