// Package resolver expands the short board and node ids typed on the
// command line into full ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/retro/pkg/board"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// BoardSource lists the boards of a store.
type BoardSource interface {
	BoardIDs(ctx context.Context) ([]string, error)
}

// ResolveBoardID resolves a board id prefix to a full board id.
func ResolveBoardID(ctx context.Context, src BoardSource, shortID string) (string, error) {
	ids, err := src.BoardIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list boards: %w", err)
	}
	return resolve("board", ids, shortID, func(id string) string { return id })
}

// ResolveNodeID resolves a node reference within a board's nodes. The
// reference is either a full node id or a prefix of the part after the
// board id. The board id itself names the root.
func ResolveNodeID(nodes []*board.Node, shortID string) (string, error) {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return resolve("node", ids, shortID, func(id string) string {
		if _, local, ok := strings.Cut(id, board.IDSeparator); ok {
			return local
		}
		return id
	})
}

// resolve returns the candidate equal to shortID, or the single candidate
// whose key starts with it.
func resolve(kind string, candidates []string, shortID string, key func(string) string) (string, error) {
	for _, id := range candidates {
		if id == shortID {
			return id, nil
		}
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	var matches []string
	for _, id := range candidates {
		if strings.HasPrefix(key(id), shortID) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Kind: kind, ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Kind: kind, ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no ids matched the short ID.
type NotFoundError struct {
	Kind    string
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %ss found matching '%s'", e.Kind, e.ShortID)
}

// AmbiguousError indicates multiple ids matched the short ID.
type AmbiguousError struct {
	Kind    string
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d %ss", e.ShortID, len(e.Matches), e.Kind)
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching ids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d %ss:\n", err.ShortID, len(err.Matches), err.Kind)

	displayCount := min(len(err.Matches), 10)
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	fmt.Fprintf(&b, "\nUse a longer prefix to uniquely identify the %s.", err.Kind)
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var target *AmbiguousError
	return errors.As(err, &target)
}
