package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rootedhq/rooted/backend/internal/db"
)

// Store is the persistence surface the ledger writes through. *db.Queries
// satisfies it; tests substitute an in-memory implementation.
type Store interface {
	InsertUser(ctx context.Context, arg db.InsertUserParams) (bool, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (db.User, error)
	ApplyUserUsageDelta(ctx context.Context, arg db.ApplyUserUsageDeltaParams) (db.UserCounters, error)
	RecomputeUserAggregate(ctx context.Context, id uuid.UUID) (db.UserCounters, error)
	ListUsersBehindEvents(ctx context.Context, limit int32) ([]uuid.UUID, error)
	DeleteUser(ctx context.Context, id uuid.UUID) (db.UserCounters, error)

	InsertSession(ctx context.Context, arg db.InsertSessionParams) (bool, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (db.Session, error)
	ApplySessionUsageDelta(ctx context.Context, arg db.ApplySessionUsageDeltaParams) (db.SessionCounters, error)
	RecomputeSessionAggregate(ctx context.Context, id uuid.UUID) (db.SessionCounters, error)
	ListSessionsBehindEvents(ctx context.Context, limit int32) ([]uuid.UUID, error)

	InsertUsageEvent(ctx context.Context, arg db.InsertUsageEventParams) (db.UsageEvent, error)

	GetGlobalStats(ctx context.Context) (db.GlobalStats, error)
	ApplyGlobalUsageDelta(ctx context.Context, arg db.ApplyGlobalUsageDeltaParams) (db.GlobalStats, error)
	AdjustGlobalUsers(ctx context.Context, delta int64) (db.GlobalStats, error)
	RetireGlobalUsage(ctx context.Context, arg db.RetireGlobalUsageParams) (db.GlobalStats, error)
	RecomputeGlobalAggregate(ctx context.Context, weekStart time.Time) (db.GlobalStats, error)

	InsertMilestone(ctx context.Context, arg db.InsertMilestoneParams) (bool, error)
	ListMilestonesForUser(ctx context.Context, userID uuid.UUID) ([]db.Milestone, error)
}

var _ Store = (*db.Queries)(nil)
