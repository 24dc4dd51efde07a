// Package server exposes the board engine over HTTP: a JSON API under
// /api/v1, a websocket event stream per board and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/retro/internal/engine"
	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/pkg/board"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultRows = 20

var (
	errMissingEngine  = errors.New("engine dependency required")
	errInvalidRequest = errors.New("invalid request")
)

// Dependencies are the collaborators of the HTTP handler. Hub and Gatherer
// are optional: without a hub the websocket route is not registered, and
// metrics come from the default Prometheus registry.
type Dependencies struct {
	Engine      *engine.Engine
	Hub         *Hub
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.CORSOrigins))

	handler := &httpHandler{
		engine: deps.Engine,
		hub:    deps.Hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(deps.CORSOrigins),
		},
	}

	api := router.Group("/api/v1")
	api.GET("/healthcheck", handler.handleHealthcheck)
	api.GET("/templates", handler.handleTemplates)

	api.GET("/boards", handler.handleListBoards)
	api.POST("/boards", handler.handleCreateBoard)
	api.POST("/boards/import", handler.handleImportBoard)
	api.GET("/boards/:board_id", handler.handleGetBoard)
	api.PUT("/boards/:board_id", handler.handleUpdateBoard)
	api.DELETE("/boards/:board_id", handler.handleDeleteBoard)
	api.GET("/boards/:board_id/export", handler.handleExportBoard)

	api.POST("/boards/:board_id/nodes", handler.handleCreateNode)
	api.PUT("/boards/:board_id/nodes/:node_id", handler.handleUpdateNode)
	api.DELETE("/boards/:board_id/nodes/:node_id", handler.handleDeleteNode)

	if deps.Hub != nil {
		api.GET("/boards/:board_id/events", handler.handleBoardEvents)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return router, nil
}

type httpHandler struct {
	engine   *engine.Engine
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAnyOrigin(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func originChecker(origins []string) func(*http.Request) bool {
	if allowsAnyOrigin(origins) {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *httpHandler) handleHealthcheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.engine.Store().Ping(ctx); err != nil {
		h.logger.Warn("healthcheck failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.String(http.StatusOK, "Success")
}

func (h *httpHandler) handleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.engine.Templates()})
}

func parseQueryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidRequest, key)
	}
	return v, nil
}

func parseQueryBool(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", errInvalidRequest, key)
	}
	return v, nil
}

func (h *httpHandler) handleListBoards(c *gin.Context) {
	start, err := parseQueryInt(c, "start", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := parseQueryInt(c, "rows", defaultRows)
	if err != nil {
		h.fail(c, err)
		return
	}
	since, err := parseQueryInt(c, "created_since", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	q := index.Query{
		Filters:      c.QueryMap("filter"),
		SearchTerms:  c.QueryMap("search"),
		CreatedSince: int64(since),
		Start:        start,
		Count:        rows,
		SortKey:      c.Query("sort_key"),
		SortOrder:    c.Query("sort_order"),
	}
	boards, err := h.engine.ListBoards(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

type createBoardRequest struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	Creator  string `json:"creator"`
}

func (h *httpHandler) handleCreateBoard(c *gin.Context) {
	var request createBoardRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	nodes, err := h.engine.CreateBoard(c.Request.Context(), request.Name, request.Template, request.Creator)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (h *httpHandler) handleGetBoard(c *gin.Context) {
	nodes, err := h.engine.GetBoard(c.Request.Context(), c.Param("board_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (h *httpHandler) handleUpdateBoard(c *gin.Context) {
	boardID := c.Param("board_id")
	h.updateNode(c, boardID, boardID)
}

func (h *httpHandler) handleDeleteBoard(c *gin.Context) {
	deleted, err := h.engine.DeleteBoard(c.Request.Context(), c.Param("board_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, "Deleted %d nodes", len(deleted))
}

func (h *httpHandler) handleExportBoard(c *gin.Context) {
	exp, err := h.engine.ExportBoard(c.Request.Context(), c.Param("board_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (h *httpHandler) handleImportBoard(c *gin.Context) {
	asCopy, err := parseQueryBool(c, "copy")
	if err != nil {
		h.fail(c, err)
		return
	}
	force, err := parseQueryBool(c, "force")
	if err != nil {
		h.fail(c, err)
		return
	}
	var exp engine.Export
	if err := c.ShouldBindJSON(&exp); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	nodes, err := h.engine.ImportBoard(c.Request.Context(), &exp, asCopy, force)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

type createNodeRequest struct {
	ParentID string        `json:"parent_id"`
	Content  board.Content `json:"content"`
	Creator  string        `json:"creator"`
}

func (h *httpHandler) handleCreateNode(c *gin.Context) {
	var request createNodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	if strings.TrimSpace(request.ParentID) == "" {
		h.fail(c, fmt.Errorf("%w: no parent_id provided", errInvalidRequest))
		return
	}
	node, err := h.engine.AddNode(c.Request.Context(), c.Param("board_id"), request.ParentID, request.Content, request.Creator)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

type operationPayload struct {
	Operation string `json:"operation"`
	Field     string `json:"field"`
	Value     any    `json:"value"`
}

type updateNodeRequest struct {
	ParentID   string             `json:"parent_id"`
	Operations []operationPayload `json:"operations"`
	Lock       string             `json:"lock"`
	Unlock     string             `json:"unlock"`
}

func (h *httpHandler) handleUpdateNode(c *gin.Context) {
	h.updateNode(c, c.Param("board_id"), c.Param("node_id"))
}

// updateNode moves a node when parent_id is given, otherwise applies
// operations and lock changes.
func (h *httpHandler) updateNode(c *gin.Context, boardID, nodeID string) {
	var request updateNodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	ctx := c.Request.Context()
	switch {
	case request.ParentID != "":
		nodes, err := h.engine.MoveNode(ctx, boardID, nodeID, request.ParentID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes})

	case len(request.Operations) > 0 || request.Lock != "" || request.Unlock != "":
		ops := make([]board.Operation, 0, len(request.Operations))
		for _, o := range request.Operations {
			kind := o.Operation
			if kind == "" {
				kind = string(board.OpSet)
			}
			op, err := board.ParseOperation(kind, o.Field, o.Value)
			if err != nil {
				h.fail(c, err)
				return
			}
			ops = append(ops, op)
		}
		node, err := h.engine.EditNode(ctx, boardID, nodeID, ops, request.Lock, request.Unlock)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": []*board.Node{node}})

	default:
		h.fail(c, fmt.Errorf("%w: must send at least one of [parent_id operations lock unlock]", errInvalidRequest))
	}
}

func (h *httpHandler) handleDeleteNode(c *gin.Context) {
	cascade := strings.EqualFold(c.DefaultQuery("cascade", "false"), "true")
	deleted, err := h.engine.RemoveNode(c.Request.Context(), c.Param("board_id"), c.Param("node_id"), cascade)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
