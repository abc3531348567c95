// Package reconcile implements the client-side optimistic update protocol
// for tree totals. A provisional delta from the advisory token estimate is
// shown immediately, then either replaced by the authoritative server figure
// or rolled back exactly when no confirmation arrives.
package reconcile

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"
)

var (
	ErrUnknownUpdate   = errors.New("reconcile: unknown update id")
	ErrAlreadyResolved = errors.New("reconcile: update already resolved")
)

// State tracks one optimistic update through its life.
type State int

const (
	StateProvisional State = iota
	StateConfirmed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Tracker maintains the locally displayed tree total: an authoritative base
// plus the estimates of still-provisional updates. The server total always
// wins; local arithmetic only bridges the round trip. Updates leave pending
// the moment they resolve, so the map holds only in-flight round trips.
type Tracker struct {
	mu       sync.Mutex
	base     decimal.Decimal
	pending  map[uuid.UUID]decimal.Decimal
	resolved map[uuid.UUID]State
}

func NewTracker(initial decimal.Decimal) *Tracker {
	return &Tracker{
		base:     initial,
		pending:  make(map[uuid.UUID]decimal.Decimal),
		resolved: make(map[uuid.UUID]State),
	}
}

// Total returns the displayed total: authoritative base plus provisional
// deltas not yet confirmed or rolled back.
func (t *Tracker) Total() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.base
	for _, estimate := range t.pending {
		total = total.Add(estimate)
	}
	return total
}

// Begin applies a provisional delta and returns its handle. The estimate is
// advisory; Confirm swaps it for the authoritative figure.
func (t *Tracker) Begin(estimate decimal.Decimal) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.New()
	t.pending[id] = estimate
	return id
}

// Confirm resolves a provisional update with the server-computed trees value.
func (t *Tracker) Confirm(id uuid.UUID, authoritative decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		if _, done := t.resolved[id]; done {
			return ErrAlreadyResolved
		}
		return ErrUnknownUpdate
	}
	delete(t.pending, id)
	t.resolved[id] = StateConfirmed
	t.base = t.base.Add(authoritative)
	return nil
}

// Rollback removes a provisional delta after a failed authoritative fetch.
// The displayed total reverts exactly to its pre-update value.
func (t *Tracker) Rollback(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		if _, done := t.resolved[id]; done {
			return ErrAlreadyResolved
		}
		return ErrUnknownUpdate
	}
	delete(t.pending, id)
	t.resolved[id] = StateRolledBack
	return nil
}

// StateOf reports the lifecycle state of an update.
func (t *Tracker) StateOf(id uuid.UUID) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		return StateProvisional, nil
	}
	if state, ok := t.resolved[id]; ok {
		return state, nil
	}
	return 0, ErrUnknownUpdate
}

// SyncAuthoritative discards local arithmetic in favor of a server-reported
// total from a background refresh. Still-provisional deltas stay layered on
// top until their own round trips resolve; resolved history is dropped.
func (t *Tracker) SyncAuthoritative(total decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = total
	clear(t.resolved)
}
