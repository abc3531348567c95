package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InsertUsageEventParams struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	SessionID         uuid.UUID
	ModelAlias        string
	InputTokens       int64
	OutputTokens      int64
	InputUSDMicros    int64
	OutputUSDMicros   int64
	TotalUSDMicros    int64
	DonationUSDMicros int64
	TreesMicros       int64
	CreatedAt         time.Time
}

func (q *Queries) InsertUsageEvent(ctx context.Context, arg InsertUsageEventParams) (UsageEvent, error) {
	var e UsageEvent
	err := q.db.QueryRow(ctx, `
		INSERT INTO usage_events (
			id, user_id, session_id, model_alias, input_tokens, output_tokens,
			input_usd_micros, output_usd_micros, total_usd_micros,
			donation_usd_micros, trees_micros, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, user_id, session_id, model_alias, input_tokens,
			output_tokens, input_usd_micros, output_usd_micros,
			total_usd_micros, donation_usd_micros, trees_micros, created_at`,
		arg.ID, arg.UserID, arg.SessionID, arg.ModelAlias, arg.InputTokens,
		arg.OutputTokens, arg.InputUSDMicros, arg.OutputUSDMicros,
		arg.TotalUSDMicros, arg.DonationUSDMicros, arg.TreesMicros, arg.CreatedAt).
		Scan(&e.ID, &e.UserID, &e.SessionID, &e.ModelAlias, &e.InputTokens,
			&e.OutputTokens, &e.InputUSDMicros, &e.OutputUSDMicros,
			&e.TotalUSDMicros, &e.DonationUSDMicros, &e.TreesMicros, &e.CreatedAt)
	return e, err
}

type DailyUsageRow struct {
	Day            time.Time
	Queries        int64
	Tokens         int64
	TotalUSDMicros int64
	TreesMicros    int64
}

type AggregateUserUsageDailyParams struct {
	UserID   uuid.UUID
	Start    time.Time
	End      time.Time
	Timezone string
}

// AggregateUserUsageDaily buckets a user's events by day in the requested
// reporting timezone.
func (q *Queries) AggregateUserUsageDaily(ctx context.Context, arg AggregateUserUsageDailyParams) ([]DailyUsageRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT
			date_trunc('day', created_at AT TIME ZONE $4) AS day,
			count(*) AS queries,
			coalesce(sum(input_tokens + output_tokens), 0) AS tokens,
			coalesce(sum(total_usd_micros), 0) AS cost,
			coalesce(sum(trees_micros), 0) AS trees
		FROM usage_events
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY 1
		ORDER BY 1`,
		arg.UserID, arg.Start, arg.End, arg.Timezone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyUsageRow
	for rows.Next() {
		var r DailyUsageRow
		if err := rows.Scan(&r.Day, &r.Queries, &r.Tokens, &r.TotalUSDMicros, &r.TreesMicros); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

