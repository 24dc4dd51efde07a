// Package watch follows board activity from the command line.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"github.com/dyluth/retro/pkg/store"
)

// ErrTimeout is returned when a wait gives up.
var ErrTimeout = errors.New("timeout")

// LockReader reads advisory node locks.
type LockReader interface {
	GetNodeLock(ctx context.Context, nodeID string) (string, error)
	NodeExists(ctx context.Context, nodeID string) (bool, error)
}

// WaitForUnlock polls until nodeID carries no lock. It fails at once when
// the node does not exist.
// Polls every 200ms for the specified timeout duration.
func WaitForUnlock(ctx context.Context, locks LockReader, nodeID string, timeout time.Duration) error {
	exists, err := locks.NodeExists(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to query node: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", board.ErrNodeNotFound, nodeID)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		token, err := locks.GetNodeLock(ctx, nodeID)
		if err != nil {
			return fmt.Errorf("failed to query lock: %w", err)
		}
		if token == "" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeoutCh:
			return fmt.Errorf("%w waiting for node %s to unlock after %v", ErrTimeout, nodeID, timeout)

		case <-ticker.C:
		}
	}
}

// StreamEvents writes the events of one board, or of every board when
// boardID is empty, until ctx ends.
func StreamEvents(ctx context.Context, st store.Store, boardID string, format OutputFormat, w io.Writer) error {
	if _, err := newFormatter(format, w); err != nil {
		return err
	}

	sub, err := store.Subscribe(ctx, st, boardID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	return Stream(ctx, sub, boardID, format, w)
}

// Stream writes events from an established subscription until ctx ends or
// the subscription closes. Watching a single board stops once that board is
// deleted.
func Stream(ctx context.Context, sub *store.Subscription, boardID string, format OutputFormat, w io.Writer) error {
	formatter, err := newFormatter(format, w)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				if err, ok := <-sub.Errors(); ok && err != nil {
					return fmt.Errorf("subscription failed: %w", err)
				}
				return nil
			}
			if err := formatter.Format(ev); err != nil {
				return fmt.Errorf("failed to format event: %w", err)
			}
			if _, deleted := ev.Message.(events.BoardDeleteMessage); deleted && boardID != "" {
				return nil
			}
		}
	}
}
