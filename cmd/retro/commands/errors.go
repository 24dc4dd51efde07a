package commands

import (
	"errors"
	"fmt"

	"github.com/dyluth/retro/internal/engine"
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/resolver"
	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/store"
)

// resolveError reports a failed short id lookup.
func resolveError(kind, ref string, err error) error {
	if resolver.IsNotFoundError(err) {
		return printer.Error(
			fmt.Sprintf("%s with ID '%s' not found", kind, ref),
			fmt.Sprintf("No %s id starts with '%s'.", kind, ref),
			[]string{"List boards:\n  retro board list", "Show a board's nodes:\n  retro board get <board>"},
		)
	}
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		fmt.Fprintln(printer.Stderr, resolver.FormatAmbiguousError(amb))
		return fmt.Errorf("ambiguous short ID")
	}
	return fmt.Errorf("failed to resolve %s ID: %w", kind, err)
}

// operationError renders the errors a board operation can end with.
func operationError(action string, err error) error {
	switch {
	case errors.Is(err, board.ErrNodeLocked):
		return printer.Error(
			fmt.Sprintf("failed to %s: node is locked", action),
			"Someone else is editing this node.",
			[]string{"Wait for the lock to be released:\n  retro node lock <board> <node> <token> --wait 30s",
				"Or pass the lock token with --unlock"},
		)
	case errors.Is(err, board.ErrColumnNotEmpty):
		return printer.Error(
			fmt.Sprintf("failed to %s: column is not empty", action),
			"A column can only be removed on its own when it has no cards.",
			[]string{"Remove the column and its cards:\n  retro node rm <board> <node> --cascade"},
		)
	case errors.Is(err, board.ErrExistingNode):
		return printer.Error(
			fmt.Sprintf("failed to %s: ids already exist", action),
			err.Error(),
			[]string{"Import under new ids:\n  retro board import <file> --copy",
				"Overwrite the stored nodes:\n  retro board import <file> --force"},
		)
	case errors.Is(err, store.ErrTooManyConflicts):
		return printer.Error(
			fmt.Sprintf("failed to %s: board is busy", action),
			"The change kept conflicting with concurrent edits.",
			[]string{"Try again"},
		)
	case board.IsNotFound(err),
		errors.Is(err, board.ErrLockFailure),
		errors.Is(err, board.ErrUnlockFailure),
		errors.Is(err, board.ErrInvalidMove),
		errors.Is(err, board.ErrInvalidRemove),
		errors.Is(err, board.ErrUnsupportedOperation),
		errors.Is(err, engine.ErrLockAndUnlock),
		errors.Is(err, engine.ErrUnknownTemplate),
		errors.Is(err, engine.ErrBoardNameRequired),
		errors.Is(err, engine.ErrInvalidExport):
		return printer.Error(fmt.Sprintf("failed to %s", action), err.Error(), nil)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
