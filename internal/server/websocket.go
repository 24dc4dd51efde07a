package server

import (
	"fmt"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// handleBoardEvents upgrades the request to a websocket that receives every
// event of the board as a {type, data} JSON text message.
func (h *httpHandler) handleBoardEvents(c *gin.Context) {
	boardID := c.Param("board_id")
	exists, err := h.engine.Store().NodeExists(c.Request.Context(), boardID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !exists {
		h.fail(c, fmt.Errorf("%w: board %s", board.ErrNodeNotFound, boardID))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("board_id", boardID), zap.Error(err))
		return
	}

	client, err := h.hub.Join(boardID)
	if err != nil {
		h.logger.Warn("failed to join board events", zap.String("board_id", boardID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Debug("websocket client connected", zap.String("board_id", boardID))
	go h.readPump(conn, client)
	h.writePump(conn, client)
}

// readPump discards client messages and leaves the hub once the connection
// fails or closes.
func (h *httpHandler) readPump(conn *websocket.Conn, client *Client) {
	defer h.hub.Leave(client)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *httpHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
