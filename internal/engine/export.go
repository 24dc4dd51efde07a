package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"go.uber.org/zap"
)

// Export is the portable form of a board.
type Export struct {
	Board    *board.Node   `json:"board_node"`
	Children []*board.Node `json:"child_nodes"`
}

// ExportBoard returns every node of a board in export form.
func (e *Engine) ExportBoard(ctx context.Context, boardID string) (*Export, error) {
	nodes, err := e.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return &Export{Board: nodes[0], Children: nodes[1:]}, nil
}

// ImportBoard recreates an exported board. With asCopy, every id is rewritten
// under a fresh board id and versions restart. Without copy, ids and
// content are kept and every node is committed at the exported board
// version plus one. Unless force is set, an id that is already stored fails
// the import with board.ErrExistingNode. The imported nodes are returned
// root first, in export order. A failed import leaves no new board behind.
func (e *Engine) ImportBoard(ctx context.Context, exp *Export, asCopy, force bool) ([]*board.Node, error) {
	if exp == nil || exp.Board == nil {
		return nil, fmt.Errorf("%w: missing board node", ErrInvalidExport)
	}
	if exp.Board.Type != board.TypeBoard {
		return nil, fmt.Errorf("%w: board node %s is %s", ErrInvalidExport, exp.Board.ID, exp.Board.Type)
	}

	root := exp.Board.Clone()
	children := exp.Children
	if asCopy {
		root, children = e.copyExport(exp)
	}

	nodes := append([]*board.Node{root}, children...)
	for _, n := range nodes {
		if board.BoardIDOf(n.ID) != root.ID {
			return nil, fmt.Errorf("%w: node %s does not belong to board %s", ErrInvalidExport, n.ID, root.ID)
		}
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
	}

	existed, err := e.store.NodeExists(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	if !force {
		for _, n := range children {
			exists, err := e.store.NodeExists(ctx, n.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("%w: %s", board.ErrExistingNode, n.ID)
			}
		}
	}

	if err := e.store.CreateBoard(ctx, root, force); err != nil {
		return nil, fmt.Errorf("failed to import board %s: %w", root.ID, err)
	}

	imported, err := e.board(root.ID).Import(ctx, nodes, force)
	if err != nil {
		if !existed {
			e.discardBoard(root.ID)
		}
		return nil, fmt.Errorf("failed to import board %s: %w", root.ID, err)
	}

	e.logger.Info("board imported",
		zap.String("board_id", root.ID),
		zap.Bool("copy", asCopy),
		zap.Int("nodes", len(imported)))
	return imported, nil
}

// discardBoard removes a board root created by an import that then failed.
func (e *Engine) discardBoard(boardID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.RemoveBoard(ctx, boardID); err != nil {
		e.logger.Warn("failed to discard partially imported board",
			zap.String("board_id", boardID), zap.Error(err))
	}
}

// copyExport rewrites every id of an export under a new board id.
func (e *Engine) copyExport(exp *Export) (*board.Node, []*board.Node) {
	oldBoard := exp.Board.ID
	newBoard := e.newID()
	mapped := map[string]string{oldBoard: newBoard}

	rewrite := func(id string) string {
		if out, ok := mapped[id]; ok {
			return out
		}
		out := newBoard + board.IDSeparator + e.newID()
		mapped[id] = out
		return out
	}

	root := exp.Board.CopyWithIDs(rewrite)
	children := make([]*board.Node, 0, len(exp.Children))
	for _, n := range exp.Children {
		children = append(children, n.CopyWithIDs(rewrite))
	}
	return root, children
}
