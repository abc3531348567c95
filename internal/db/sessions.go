package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, title, message_count, total_tokens,
	cost_usd_micros, trees_micros, created_at, last_event_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.MessageCount, &s.TotalTokens,
		&s.CostUSDMicros, &s.TreesMicros, &s.CreatedAt, &s.LastEventAt)
	return s, err
}

type InsertSessionParams struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Title  string
}

// InsertSession creates the session row; concurrent first messages for the
// same conversation collapse onto whichever insert won.
func (q *Queries) InsertSession(ctx context.Context, arg InsertSessionParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.UserID, arg.Title)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error) {
	return scanSession(q.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

type ApplySessionUsageDeltaParams struct {
	ID            uuid.UUID
	TotalTokens   int64
	CostUSDMicros int64
	TreesMicros   int64
	EventAt       time.Time
}

type SessionCounters struct {
	MessageCount  int64
	TotalTokens   int64
	CostUSDMicros int64
	TreesMicros   int64
}

func (q *Queries) ApplySessionUsageDelta(ctx context.Context, arg ApplySessionUsageDeltaParams) (SessionCounters, error) {
	var c SessionCounters
	err := q.db.QueryRow(ctx, `
		UPDATE sessions SET
			message_count = message_count + 1,
			total_tokens = total_tokens + $2,
			cost_usd_micros = cost_usd_micros + $3,
			trees_micros = trees_micros + $4,
			last_event_at = GREATEST(coalesce(last_event_at, $5::timestamptz), $5::timestamptz)
		WHERE id = $1
		RETURNING message_count, total_tokens, cost_usd_micros, trees_micros`,
		arg.ID, arg.TotalTokens, arg.CostUSDMicros, arg.TreesMicros, arg.EventAt).
		Scan(&c.MessageCount, &c.TotalTokens, &c.CostUSDMicros, &c.TreesMicros)
	return c, err
}

// RecomputeSessionAggregate rebuilds a session's counters from its events.
func (q *Queries) RecomputeSessionAggregate(ctx context.Context, id uuid.UUID) (SessionCounters, error) {
	var c SessionCounters
	err := q.db.QueryRow(ctx, `
		UPDATE sessions s SET
			message_count = agg.messages,
			total_tokens = agg.tokens,
			cost_usd_micros = agg.cost,
			trees_micros = agg.trees,
			last_event_at = agg.last_event_at
		FROM (
			SELECT
				count(*) AS messages,
				coalesce(sum(input_tokens + output_tokens), 0) AS tokens,
				coalesce(sum(total_usd_micros), 0) AS cost,
				coalesce(sum(trees_micros), 0) AS trees,
				max(created_at) AS last_event_at
			FROM usage_events WHERE session_id = $1
		) agg
		WHERE s.id = $1
		RETURNING s.message_count, s.total_tokens, s.cost_usd_micros, s.trees_micros`,
		id).Scan(&c.MessageCount, &c.TotalTokens, &c.CostUSDMicros, &c.TreesMicros)
	return c, err
}

// ListSessionsBehindEvents mirrors ListUsersBehindEvents for sessions.
func (q *Queries) ListSessionsBehindEvents(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT s.id FROM sessions s
		WHERE EXISTS (
			SELECT 1 FROM usage_events e
			WHERE e.session_id = s.id
			  AND e.created_at > coalesce(s.last_event_at, 'epoch'::timestamptz)
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
