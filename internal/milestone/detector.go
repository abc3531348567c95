package milestone

import (
	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/config"
)

// Table is the fixed, versioned list of tree-count thresholds. Thresholds are
// ascending; each is recorded at most once per user by the ledger's unique
// constraint, so re-running detection for the same event is harmless.
type Table struct {
	version    string
	thresholds []int
}

func NewTable(cfg config.MilestoneConfig) *Table {
	thresholds := make([]int, len(cfg.Thresholds))
	copy(thresholds, cfg.Thresholds)
	return &Table{version: cfg.Version, thresholds: thresholds}
}

// Version identifies the threshold table exposed to clients.
func (t *Table) Version() string { return t.version }

// Thresholds returns a copy of the ascending threshold list.
func (t *Table) Thresholds() []int {
	out := make([]int, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}

// Crossed returns every threshold T with floor(prev) < T <= floor(new), in
// ascending order. A single burst event can cross several thresholds; callers
// must record each of them, not just the first.
func (t *Table) Crossed(prev, next decimal.Decimal) []int {
	prevFloor := prev.Floor().IntPart()
	nextFloor := next.Floor().IntPart()
	if nextFloor <= prevFloor {
		return nil
	}

	var crossed []int
	for _, threshold := range t.thresholds {
		tt := int64(threshold)
		if tt > nextFloor {
			break
		}
		if tt > prevFloor {
			crossed = append(crossed, threshold)
		}
	}
	return crossed
}

// Next returns the first threshold strictly above the given total, and false
// when the user has passed the last one.
func (t *Table) Next(total decimal.Decimal) (int, bool) {
	floor := total.Floor().IntPart()
	for _, threshold := range t.thresholds {
		if int64(threshold) > floor {
			return threshold, true
		}
	}
	return 0, false
}
