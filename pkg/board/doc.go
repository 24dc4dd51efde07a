// Package board defines the retro board data model and the chain algorithms
// that mutate it.
//
// # Overview
//
// A board is an arena of nodes addressed by string id. The root node (type
// Board) holds an unordered set of column headers. Each column header starts a
// singly-linked chain of cards (type Content) through parent/child links:
//
//	Board ── ColumnHeader ── card ── card ── card
//	     └── ColumnHeader ── card
//
// Node ids have the form "{board_id}|{uuid}"; the root's id is the board id.
//
// # Mutations
//
// Every operation is expressed as a TxFunc: a pure function that reads nodes
// through a Reader and returns Changes (updated nodes, deleted nodes, locks
// to take and locks to release). A Transactor (see package store) runs the
// function atomically, stamps versions and publishes change events. Because
// a TxFunc may be retried after a conflict it must not have side effects.
//
// The Board type wraps the functions for a single board:
//
//	b := board.New(boardID, st)
//	col, _, err := b.AddNode(ctx, board.Content{"name": "Went well"}, boardID, "alice")
//	card, _, err := b.AddNode(ctx, board.Content{"text": "Shipped"}, col.ID, "alice")
//	_, err = b.MoveNode(ctx, card.ID, otherColumnID)
//
// # Locks
//
// Locks are advisory per-node editing tokens. EvaluateLock turns the stored
// token and the caller's unlock token into a LockState, which decides whether
// an edit proceeds (Unlocked, Released) or fails (Locked, UnlockMismatch).
package board
