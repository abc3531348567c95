package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, display_name, newsletter_opt_in, total_queries,
	input_tokens, output_tokens, cost_usd_micros, donated_usd_micros,
	trees_micros, created_at, last_event_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.NewsletterOptIn,
		&u.TotalQueries, &u.InputTokens, &u.OutputTokens, &u.CostUSDMicros,
		&u.DonatedUSDMicros, &u.TreesMicros, &u.CreatedAt, &u.LastEventAt)
	return u, err
}

type InsertUserParams struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

// InsertUser creates the user row; returns false without error when the row
// already existed (concurrent signup races resolve to the winner's row).
func (q *Queries) InsertUser(ctx context.Context, arg InsertUserParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.Email, arg.DisplayName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

type ApplyUserUsageDeltaParams struct {
	ID                uuid.UUID
	InputTokens       int64
	OutputTokens      int64
	CostUSDMicros     int64
	DonationUSDMicros int64
	TreesMicros       int64
	EventAt           time.Time
}

// UserCounters is the post-increment aggregate snapshot returned in the same
// UPDATE that applied the delta; milestone detection depends on reading the
// new total atomically rather than via a separate read.
type UserCounters struct {
	TotalQueries     int64
	CostUSDMicros    int64
	DonatedUSDMicros int64
	TreesMicros      int64
}

func (q *Queries) ApplyUserUsageDelta(ctx context.Context, arg ApplyUserUsageDeltaParams) (UserCounters, error) {
	var c UserCounters
	err := q.db.QueryRow(ctx, `
		UPDATE users SET
			total_queries = total_queries + 1,
			input_tokens = input_tokens + $2,
			output_tokens = output_tokens + $3,
			cost_usd_micros = cost_usd_micros + $4,
			donated_usd_micros = donated_usd_micros + $5,
			trees_micros = trees_micros + $6,
			last_event_at = GREATEST(coalesce(last_event_at, $7::timestamptz), $7::timestamptz)
		WHERE id = $1
		RETURNING total_queries, cost_usd_micros, donated_usd_micros, trees_micros`,
		arg.ID, arg.InputTokens, arg.OutputTokens, arg.CostUSDMicros,
		arg.DonationUSDMicros, arg.TreesMicros, arg.EventAt).
		Scan(&c.TotalQueries, &c.CostUSDMicros, &c.DonatedUSDMicros, &c.TreesMicros)
	return c, err
}

// RecomputeUserAggregate rebuilds the user's counters from its events. Used
// by the reconciliation sweep; safe to run any number of times.
func (q *Queries) RecomputeUserAggregate(ctx context.Context, id uuid.UUID) (UserCounters, error) {
	var c UserCounters
	err := q.db.QueryRow(ctx, `
		UPDATE users u SET
			total_queries = s.queries,
			input_tokens = s.input_tokens,
			output_tokens = s.output_tokens,
			cost_usd_micros = s.cost,
			donated_usd_micros = s.donated,
			trees_micros = s.trees,
			last_event_at = s.last_event_at
		FROM (
			SELECT
				count(*) AS queries,
				coalesce(sum(input_tokens), 0) AS input_tokens,
				coalesce(sum(output_tokens), 0) AS output_tokens,
				coalesce(sum(total_usd_micros), 0) AS cost,
				coalesce(sum(donation_usd_micros), 0) AS donated,
				coalesce(sum(trees_micros), 0) AS trees,
				max(created_at) AS last_event_at
			FROM usage_events WHERE user_id = $1
		) s
		WHERE u.id = $1
		RETURNING u.total_queries, u.cost_usd_micros, u.donated_usd_micros, u.trees_micros`,
		id).Scan(&c.TotalQueries, &c.CostUSDMicros, &c.DonatedUSDMicros, &c.TreesMicros)
	return c, err
}

// ListUsersBehindEvents returns users whose aggregates have not absorbed
// their newest events, i.e. the Persisted-but-not-Aggregated residue of a
// partial ledger failure.
func (q *Queries) ListUsersBehindEvents(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT u.id FROM users u
		WHERE EXISTS (
			SELECT 1 FROM usage_events e
			WHERE e.user_id = u.id
			  AND e.created_at > coalesce(u.last_event_at, 'epoch'::timestamptz)
		)
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUser removes the user row; usage events, sessions, and milestones
// cascade. Returns the pre-delete counters so the caller can retire the
// user's share of the global aggregate.
func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) (UserCounters, error) {
	var c UserCounters
	err := q.db.QueryRow(ctx, `
		DELETE FROM users WHERE id = $1
		RETURNING total_queries, cost_usd_micros, donated_usd_micros, trees_micros`,
		id).Scan(&c.TotalQueries, &c.CostUSDMicros, &c.DonatedUSDMicros, &c.TreesMicros)
	return c, err
}
