package server

import (
	"context"
	"errors"
	"sync"

	"github.com/dyluth/retro/pkg/events"
	"github.com/dyluth/retro/pkg/store"
	"go.uber.org/zap"
)

const clientBufferSize = 32

var errHubClosed = errors.New("websocket hub is closed")

// Hub relays board events to websocket clients. A board is subscribed to
// while at least one client watches it; the subscription ends with the last
// client or when the board is deleted.
type Hub struct {
	store  store.Store
	logger *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	boardID string
	clients map[*Client]struct{}
	cancel  context.CancelFunc
	ready   bool
}

// Client is one websocket connection watching a board.
type Client struct {
	room *room
	send chan []byte
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Messages returns the encoded events for this client. The channel is closed
// when the client leaves or its board subscription ends.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// NewHub creates a hub reading events from st.
func NewHub(st store.Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:  st,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// Join registers a client for boardID, subscribing to the board if it is
// the first one.
func (h *Hub) Join(boardID string) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errHubClosed
	}
	if r, ok := h.rooms[boardID]; ok {
		c := &Client{room: r, send: make(chan []byte, clientBufferSize)}
		r.clients[c] = struct{}{}
		h.mu.Unlock()
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &room{boardID: boardID, clients: make(map[*Client]struct{}), cancel: cancel}
	c := &Client{room: r, send: make(chan []byte, clientBufferSize)}
	r.clients[c] = struct{}{}
	h.rooms[boardID] = r
	h.mu.Unlock()

	sub, err := store.Subscribe(ctx, h.store, boardID)
	if err != nil {
		cancel()
		h.closeRoom(r)
		return nil, err
	}
	h.mu.Lock()
	r.ready = true
	h.mu.Unlock()
	h.logger.Debug("board subscription started", zap.String("board_id", boardID))
	go h.run(ctx, r, sub)
	return c, nil
}

// Leave unregisters a client. The board subscription stops with the last client.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := c.room
	delete(r.clients, c)
	c.close()
	if len(r.clients) == 0 && h.rooms[r.boardID] == r {
		delete(h.rooms, r.boardID)
		r.cancel()
	}
}

// Watchers returns the number of clients receiving events for boardID. It
// is 0 until the board subscription is established.
func (h *Hub) Watchers(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[boardID]; ok && r.ready {
		return len(r.clients)
	}
	return 0
}

// Close ends every board subscription and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.cancel()
		h.closeRoom(r)
	}
}

func (h *Hub) run(ctx context.Context, r *room, sub *store.Subscription) {
	defer h.closeRoom(r)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Errors():
			if ok && err != nil {
				h.logger.Warn("board subscription failed", zap.String("board_id", r.boardID), zap.Error(err))
			}
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := events.Encode(ev.Message)
			if err != nil {
				h.logger.Warn("failed to encode board event", zap.String("board_id", r.boardID), zap.Error(err))
				continue
			}
			h.broadcast(r, payload)
			if ev.Message.Type() == events.TypeBoardDelete {
				return
			}
		}
	}
}

// broadcast delivers payload to every client of r. A client whose buffer
// is full misses the message.
func (h *Hub) broadcast(r *room, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range r.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping event for slow websocket client", zap.String("board_id", r.boardID))
		}
	}
}

func (h *Hub) closeRoom(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.boardID] == r {
		delete(h.rooms, r.boardID)
	}
	for c := range r.clients {
		c.close()
		delete(r.clients, c)
	}
}
