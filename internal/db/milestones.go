package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InsertMilestoneParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Threshold int32
	ReachedAt time.Time
}

// InsertMilestone records a threshold crossing at most once per
// (user, threshold); the unique constraint absorbs redundant detector runs.
// Returns false when the milestone already existed.
func (q *Queries) InsertMilestone(ctx context.Context, arg InsertMilestoneParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO milestones (id, user_id, threshold, reached_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, threshold) DO NOTHING`,
		arg.ID, arg.UserID, arg.Threshold, arg.ReachedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) ListMilestonesForUser(ctx context.Context, userID uuid.UUID) ([]Milestone, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, threshold, reached_at
		FROM milestones WHERE user_id = $1
		ORDER BY threshold`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.UserID, &m.Threshold, &m.ReachedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
