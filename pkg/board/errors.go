package board

import "errors"

var (
	// ErrNodeNotFound is returned when a referenced node does not exist.
	ErrNodeNotFound = errors.New("board: node not found")

	// ErrNodeLocked is returned when a locked node is edited without an unlock token.
	ErrNodeLocked = errors.New("board: node is locked")

	// ErrLockFailure is returned when locking a node that already holds a lock.
	ErrLockFailure = errors.New("board: node already locked")

	// ErrUnlockFailure is returned when the supplied unlock token does not match the lock.
	ErrUnlockFailure = errors.New("board: unlock token does not match")

	// ErrUnknownNodeType is returned when decoding a node with an unrecognised type tag.
	ErrUnknownNodeType = errors.New("board: unknown node type")

	// ErrExistingNode is returned when creating a board or node whose id is already taken.
	ErrExistingNode = errors.New("board: node already exists")

	// ErrUnsupportedOperation is returned for edit operations other than SET, INCR and DELETE.
	ErrUnsupportedOperation = errors.New("board: unsupported operation")

	// ErrInvalidMove is returned when a node cannot be moved under the requested parent.
	ErrInvalidMove = errors.New("board: invalid move")

	// ErrInvalidRemove is returned when removing a node the chain cannot give up, such as the board root.
	ErrInvalidRemove = errors.New("board: invalid remove")

	// ErrColumnNotEmpty is returned when removing a column that still holds cards without cascade.
	ErrColumnNotEmpty = errors.New("board: column is not empty")
)
