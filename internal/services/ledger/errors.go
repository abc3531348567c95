package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUser    = errors.New("ledger: user id and email are required")
	ErrInvalidSession = errors.New("ledger: session id is required")
	ErrUserNotFound   = errors.New("ledger: user not found")
)

// AggregateError marks a write that persisted the durable usage event but
// failed to advance one or more aggregates. The event is safe; the sweep
// repairs the aggregates from it. Callers must not surface this to users and
// must not retry the event insert.
type AggregateError struct {
	Scope string // "session", "user", or "global"
	Err   error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("ledger: %s aggregate not advanced: %v", e.Scope, e.Err)
}

func (e *AggregateError) Unwrap() error { return e.Err }
