package reconcile

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestConfirmReplacesEstimateWithAuthoritative(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(d("10"))
	id := tracker.Begin(d("0.0002"))
	require.Equal(t, "10.0002", tracker.Total().String())

	require.NoError(t, tracker.Confirm(id, d("0.000135")))
	require.Equal(t, "10.000135", tracker.Total().String())

	state, err := tracker.StateOf(id)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, state)
}

func TestRollbackRevertsExactly(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(d("3.5"))
	before := tracker.Total()

	id := tracker.Begin(d("0.7"))
	require.Equal(t, "4.2", tracker.Total().String())

	require.NoError(t, tracker.Rollback(id))
	require.True(t, tracker.Total().Equal(before), "total must revert to pre-update value")

	state, err := tracker.StateOf(id)
	require.NoError(t, err)
	require.Equal(t, StateRolledBack, state)
}

func TestResolveIsTerminal(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(decimal.Zero)
	id := tracker.Begin(d("1"))
	require.NoError(t, tracker.Confirm(id, d("1.1")))
	require.ErrorIs(t, tracker.Confirm(id, d("9")), ErrAlreadyResolved)
	require.ErrorIs(t, tracker.Rollback(id), ErrAlreadyResolved)
	require.Equal(t, "1.1", tracker.Total().String())

	require.ErrorIs(t, tracker.Confirm(uuid.New(), d("1")), ErrUnknownUpdate)
}

func TestSyncAuthoritativeDiscardsLocalTotal(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(d("2"))
	id := tracker.Begin(d("0.5"))
	confirmed := tracker.Begin(d("0.3"))
	require.NoError(t, tracker.Confirm(confirmed, d("0.25")))

	// Server reports a different ground truth; the in-flight provisional
	// delta stays layered until its own round trip resolves.
	tracker.SyncAuthoritative(d("7"))
	require.Equal(t, "7.5", tracker.Total().String())

	require.NoError(t, tracker.Rollback(id))
	require.Equal(t, "7", tracker.Total().String())
}

func TestResolvedUpdatesLeavePendingSet(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(decimal.Zero)

	// A long session resolves many updates between syncs; none of them may
	// linger in the pending set once resolved.
	var last uuid.UUID
	for i := 0; i < 500; i++ {
		id := tracker.Begin(d("0.001"))
		if i%2 == 0 {
			require.NoError(t, tracker.Confirm(id, d("0.002")))
		} else {
			require.NoError(t, tracker.Rollback(id))
		}
		last = id
	}
	require.Empty(t, tracker.pending)
	require.Len(t, tracker.resolved, 500)
	require.Equal(t, "0.5", tracker.Total().String())

	state, err := tracker.StateOf(last)
	require.NoError(t, err)
	require.Equal(t, StateRolledBack, state)

	// A background refresh drops the resolved history too.
	tracker.SyncAuthoritative(d("0.5"))
	require.Empty(t, tracker.resolved)
	_, err = tracker.StateOf(last)
	require.ErrorIs(t, err, ErrUnknownUpdate)
}

func TestConcurrentUpdatesBalance(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(decimal.Zero)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(confirm bool) {
			defer wg.Done()
			id := tracker.Begin(d("0.1"))
			if confirm {
				_ = tracker.Confirm(id, d("0.2"))
			} else {
				_ = tracker.Rollback(id)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	// Half confirmed at 0.2 each, half rolled back.
	require.Equal(t, "2", tracker.Total().String())
}