package board

// LockState is the outcome of checking a caller's tokens against a node's
// current lock.
type LockState int

const (
	// Unlocked means the node holds no lock.
	Unlocked LockState = iota
	// Locked means the node holds a lock and the caller did not offer a token.
	Locked
	// UnlockMismatch means the caller offered a token that does not match the lock.
	UnlockMismatch
	// Released means the caller offered the matching token; the lock is to be dropped.
	Released
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	case UnlockMismatch:
		return "unlock_mismatch"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Err maps the state to the error an edit should fail with, or nil when the
// edit may proceed.
func (s LockState) Err() error {
	switch s {
	case Locked:
		return ErrNodeLocked
	case UnlockMismatch:
		return ErrUnlockFailure
	default:
		return nil
	}
}

// EvaluateLock compares the stored lock token (empty when unlocked) with the
// unlock token offered by the caller.
func EvaluateLock(current, unlockToken string) LockState {
	switch {
	case current == "":
		return Unlocked
	case unlockToken == "":
		return Locked
	case unlockToken != current:
		return UnlockMismatch
	default:
		return Released
	}
}

// Lock is a lock to be persisted for a node.
type Lock struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}
