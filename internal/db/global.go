package db

import (
	"context"
	"time"
)

const globalColumns = `total_users, total_queries, trees_micros,
	week_trees_micros, week_start, donated_usd_micros, updated_at`

func scanGlobal(row interface{ Scan(...any) error }) (GlobalStats, error) {
	var g GlobalStats
	err := row.Scan(&g.TotalUsers, &g.TotalQueries, &g.TreesMicros,
		&g.WeekTreesMicros, &g.WeekStart, &g.DonatedUSDMicros, &g.UpdatedAt)
	return g, err
}

func (q *Queries) GetGlobalStats(ctx context.Context) (GlobalStats, error) {
	return scanGlobal(q.db.QueryRow(ctx, `SELECT `+globalColumns+` FROM global_stats WHERE id = 1`))
}

type ApplyGlobalUsageDeltaParams struct {
	DonationUSDMicros int64
	TreesMicros       int64
	WeekStart         time.Time
}

// ApplyGlobalUsageDelta advances the singleton counters. The weekly tree
// counter rolls over inside the same UPDATE when the week boundary moved, so
// concurrent writers agree on the reset.
func (q *Queries) ApplyGlobalUsageDelta(ctx context.Context, arg ApplyGlobalUsageDeltaParams) (GlobalStats, error) {
	return scanGlobal(q.db.QueryRow(ctx, `
		UPDATE global_stats SET
			total_queries = total_queries + 1,
			trees_micros = trees_micros + $1,
			donated_usd_micros = donated_usd_micros + $2,
			week_trees_micros = CASE WHEN week_start = $3::date
				THEN week_trees_micros + $1 ELSE $1 END,
			week_start = $3::date,
			updated_at = now()
		WHERE id = 1
		RETURNING `+globalColumns,
		arg.TreesMicros, arg.DonationUSDMicros, arg.WeekStart))
}

// AdjustGlobalUsers moves the user census by delta (signup +1, deletion -1).
func (q *Queries) AdjustGlobalUsers(ctx context.Context, delta int64) (GlobalStats, error) {
	return scanGlobal(q.db.QueryRow(ctx, `
		UPDATE global_stats SET
			total_users = GREATEST(total_users + $1, 0),
			updated_at = now()
		WHERE id = 1
		RETURNING `+globalColumns, delta))
}

type RetireGlobalUsageParams struct {
	Queries           int64
	DonationUSDMicros int64
	TreesMicros       int64
}

// RetireGlobalUsage subtracts a deleted user's lifetime contribution from the
// global counters (cascading deletion effect).
func (q *Queries) RetireGlobalUsage(ctx context.Context, arg RetireGlobalUsageParams) (GlobalStats, error) {
	return scanGlobal(q.db.QueryRow(ctx, `
		UPDATE global_stats SET
			total_users = GREATEST(total_users - 1, 0),
			total_queries = GREATEST(total_queries - $1, 0),
			donated_usd_micros = GREATEST(donated_usd_micros - $2, 0),
			trees_micros = GREATEST(trees_micros - $3, 0),
			updated_at = now()
		WHERE id = 1
		RETURNING `+globalColumns,
		arg.Queries, arg.DonationUSDMicros, arg.TreesMicros))
}

// RecomputeGlobalAggregate rebuilds the singleton from user rows. The weekly
// counter is rebuilt from events inside the current week.
func (q *Queries) RecomputeGlobalAggregate(ctx context.Context, weekStart time.Time) (GlobalStats, error) {
	return scanGlobal(q.db.QueryRow(ctx, `
		UPDATE global_stats SET
			total_users = (SELECT count(*) FROM users),
			total_queries = (SELECT coalesce(sum(total_queries), 0) FROM users),
			trees_micros = (SELECT coalesce(sum(trees_micros), 0) FROM users),
			donated_usd_micros = (SELECT coalesce(sum(donated_usd_micros), 0) FROM users),
			week_trees_micros = (
				SELECT coalesce(sum(trees_micros), 0) FROM usage_events
				WHERE created_at >= $1::date
			),
			week_start = $1::date,
			updated_at = now()
		WHERE id = 1
		RETURNING `+globalColumns, weekStart))
}
