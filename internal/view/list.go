package view

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/pkg/board"
)

// OutputFormat specifies how listings are written.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated content
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete nodes as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatTree outputs a board as an indented outline
	OutputFormatTree OutputFormat = "tree"
)

// ParseOutputFormat validates a format name from the command line.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL, OutputFormatTree:
		return f, nil
	case "":
		return OutputFormatDefault, nil
	}
	return "", fmt.Errorf("invalid output format '%s': must be 'default', 'jsonl' or 'tree'", s)
}

// BoardLister returns board roots for a query.
type BoardLister interface {
	ListBoards(ctx context.Context, q index.Query) ([]*board.Node, error)
}

// ListBoards writes the boards matching q. The tree format is not
// meaningful for a listing and is rejected.
func ListBoards(ctx context.Context, lister BoardLister, q index.Query, format OutputFormat, w io.Writer) error {
	roots, err := lister.ListBoards(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to list boards: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatBoards(w, roots)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, roots); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}
