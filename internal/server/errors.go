package server

import (
	"errors"
	"net/http"

	"github.com/dyluth/retro/internal/engine"
	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var badRequestErrors = []error{
	board.ErrNodeLocked,
	board.ErrLockFailure,
	board.ErrUnlockFailure,
	board.ErrUnknownNodeType,
	board.ErrUnsupportedOperation,
	board.ErrInvalidMove,
	board.ErrInvalidRemove,
	board.ErrColumnNotEmpty,
	engine.ErrBoardNameRequired,
	engine.ErrUnknownTemplate,
	engine.ErrLockAndUnlock,
	engine.ErrInvalidExport,
	index.ErrInvalidSortOrder,
	index.ErrInvalidField,
	errInvalidRequest,
}

// statusFor maps a domain error to the HTTP status reported for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, board.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, board.ErrExistingNode):
		return http.StatusConflict
	case errors.Is(err, store.ErrTooManyConflicts):
		return http.StatusServiceUnavailable
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func (h *httpHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled request error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Unhandled exception. Check logs for details"})
		return
	}
	h.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}
