package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is the HTTP server for the API and websocket events.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	logger     *zap.Logger
}

// New creates a server listening on addr. A websocket hub over the
// engine's store is created when deps has none.
func New(addr string, deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Engine.Store(), deps.Logger)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		hub:    deps.Hub,
		logger: deps.Logger,
	}, nil
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
