package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rootedhq/rooted/backend/internal/timeutil"
)

// SweepLaggingAggregates repairs aggregates that fell behind their events
// after a partial write failure. Each lagging session and user is rebuilt
// from its events; when any user was repaired the global singleton is rebuilt
// too. Recomputation is idempotent, so overlapping sweeps are harmless.
func (s *Service) SweepLaggingAggregates(ctx context.Context, batchSize int32) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	sessionIDs, err := s.store.ListSessionsBehindEvents(ctx, batchSize)
	if err != nil {
		return err
	}
	for _, id := range sessionIDs {
		if _, err := s.store.RecomputeSessionAggregate(ctx, id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			s.logger.Error("session aggregate repair failed",
				slog.String("session_id", id.String()),
				slog.String("error", err.Error()))
		}
	}

	userIDs, err := s.store.ListUsersBehindEvents(ctx, batchSize)
	if err != nil {
		return err
	}
	repaired := 0
	for _, id := range userIDs {
		if _, err := s.store.RecomputeUserAggregate(ctx, id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			s.logger.Error("user aggregate repair failed",
				slog.String("user_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		repaired++
	}

	if repaired > 0 {
		global, err := s.store.RecomputeGlobalAggregate(ctx, timeutil.WeekStart(s.now()))
		if err != nil {
			return &AggregateError{Scope: "global", Err: err}
		}
		s.logger.Info("ledger sweep repaired aggregates",
			slog.Int("sessions", len(sessionIDs)),
			slog.Int("users", repaired))
		s.publish(ctx, Update{Global: globalSnapshot(global)})
	}
	return nil
}
