package tree

import "errors"

// Failure taxonomy for tree store operations. All three surface directly to
// the caller as terminal failures; none are retried internally.
var (
	// ErrNotFound means the referenced project or node is absent, or
	// vanished mid-operation.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the caller is not the project owner.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict means a sibling of the same type already bears the
	// requested name.
	ErrConflict = errors.New("name already exists")
)
