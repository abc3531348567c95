// Package usage builds per-day reporting series from the immutable event
// log. Aggregate rows hold lifetime totals; anything windowed comes from
// bucketing events in the requested timezone.
package usage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/db"
	"github.com/rootedhq/rooted/backend/internal/impact"
	"github.com/rootedhq/rooted/backend/internal/timeutil"
)

var (
	ErrInvalidPeriod   = timeutil.ErrInvalidPeriod
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrUserNotFound    = errors.New("user not found")
)

// Queries is the subset of the db layer the reporting service reads.
type Queries interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (db.User, error)
	AggregateUserUsageDaily(ctx context.Context, arg db.AggregateUserUsageDailyParams) ([]db.DailyUsageRow, error)
}

// Service exposes windowed usage summaries for user-facing surfaces.
type Service struct {
	queries  Queries
	timezone *time.Location
	now      func() time.Time
}

func NewService(queries Queries, timezone *time.Location) *Service {
	return &Service{queries: queries, timezone: timezone, now: time.Now}
}

func (s *Service) location() *time.Location {
	if s == nil || s.timezone == nil {
		return time.UTC
	}
	return s.timezone
}

// Point is a daily datapoint in API units.
type Point struct {
	Date    string          `json:"date"`
	Queries int64           `json:"queries"`
	Tokens  int64           `json:"tokens"`
	Cost    decimal.Decimal `json:"cost_usd"`
	Trees   decimal.Decimal `json:"trees"`
}

// Summary is a user's usage over one reporting window, with zero-filled days
// so charts render contiguous ranges.
type Summary struct {
	UserID   string          `json:"user_id"`
	Period   string          `json:"period"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Timezone string          `json:"timezone"`
	Queries  int64           `json:"total_queries"`
	Tokens   int64           `json:"total_tokens"`
	Cost     decimal.Decimal `json:"total_cost_usd"`
	Trees    decimal.Decimal `json:"total_trees"`
	Points   []Point         `json:"points"`
}

// UserDailyUsage aggregates a user's events by day for the period (e.g.
// "7d", "30d") in the requested timezone.
func (s *Service) UserDailyUsage(ctx context.Context, userID uuid.UUID, period, timezone string) (Summary, error) {
	if s == nil || s.queries == nil {
		return Summary{}, errors.New("usage service not initialized")
	}

	loc := timeutil.EnsureLocation(s.location())
	if tz := strings.TrimSpace(timezone); tz != "" {
		custom, err := time.LoadLocation(tz)
		if err != nil {
			return Summary{}, ErrInvalidTimezone
		}
		loc = custom
	}
	window, err := timeutil.NewWindow(period, s.now().In(loc), loc)
	if err != nil {
		return Summary{}, ErrInvalidPeriod
	}

	if _, err := s.queries.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrUserNotFound
		}
		return Summary{}, err
	}

	start, end := window.Bounds()
	rows, err := s.queries.AggregateUserUsageDaily(ctx, db.AggregateUserUsageDailyParams{
		UserID:   userID,
		Start:    start,
		End:      end,
		Timezone: window.Timezone(),
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		UserID:   userID.String(),
		Period:   window.Period(),
		Start:    window.StartString(),
		End:      window.EndString(),
		Timezone: window.Timezone(),
		Cost:     decimal.Zero,
		Trees:    decimal.Zero,
	}

	buckets := make(map[int64]db.DailyUsageRow, len(rows))
	for _, row := range rows {
		day := timeutil.TruncateToDay(row.Day, loc)
		buckets[day.Unix()] = row
		summary.Queries += row.Queries
		summary.Tokens += row.Tokens
		summary.Cost = summary.Cost.Add(fromMicros(row.TotalUSDMicros))
		summary.Trees = summary.Trees.Add(fromMicros(row.TreesMicros))
	}

	startDay := timeutil.TruncateToDay(start, loc)
	for day := startDay; day.Before(end); day = day.AddDate(0, 0, 1) {
		point := Point{
			Date:  day.Format("2006-01-02"),
			Cost:  decimal.Zero,
			Trees: decimal.Zero,
		}
		if row, ok := buckets[day.Unix()]; ok {
			point.Queries = row.Queries
			point.Tokens = row.Tokens
			point.Cost = fromMicros(row.TotalUSDMicros)
			point.Trees = fromMicros(row.TreesMicros)
		}
		summary.Points = append(summary.Points, point)
	}

	return summary, nil
}

func fromMicros(micros int64) decimal.Decimal {
	return decimal.New(micros, -impact.Precision)
}
