package view

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dyluth/retro/internal/filter"
	"github.com/dyluth/retro/pkg/board"
)

// BoardGetter returns every node of one board.
type BoardGetter interface {
	GetBoard(ctx context.Context, boardID string) ([]*board.Node, error)
}

// ShowBoard fetches a board and writes it in the requested format. A nil
// or empty criteria shows every node. The tree format walks the full
// chains and prints only the nodes criteria matches.
func ShowBoard(ctx context.Context, getter BoardGetter, boardID string, criteria *filter.Criteria, format OutputFormat, w io.Writer) error {
	nodes, err := getter.GetBoard(ctx, boardID)
	if err != nil {
		if board.IsNotFound(err) {
			return &BoardNotFoundError{BoardID: boardID}
		}
		return fmt.Errorf("failed to fetch board: %w", err)
	}
	if criteria == nil {
		criteria = &filter.Criteria{}
	}

	switch format {
	case OutputFormatDefault:
		FormatNodes(w, criteria.Apply(nodes))
	case OutputFormatJSONL:
		if err := FormatJSONL(w, criteria.Apply(nodes)); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	case OutputFormatTree:
		return FormatTree(w, nodes, criteria.Matches)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// BoardNotFoundError lets callers tell a missing board from other failures.
type BoardNotFoundError struct {
	BoardID string
}

func (e *BoardNotFoundError) Error() string {
	return fmt.Sprintf("board with ID '%s' not found", e.BoardID)
}

// IsNotFound returns true if the error is a BoardNotFoundError.
func IsNotFound(err error) bool {
	var target *BoardNotFoundError
	return errors.As(err, &target)
}
