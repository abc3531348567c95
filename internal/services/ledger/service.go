package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/db"
	"github.com/rootedhq/rooted/backend/internal/impact"
	"github.com/rootedhq/rooted/backend/internal/milestone"
	"github.com/rootedhq/rooted/backend/internal/timeutil"
)

// Publisher receives ledger updates for fan-out to connected clients. A nil
// publisher disables push without affecting the write path.
type Publisher interface {
	Publish(ctx context.Context, update Update) error
}

// Update is one push notification: the fresh global counters plus any
// milestones the triggering event crossed.
type Update struct {
	Global     GlobalSnapshot `json:"global"`
	UserID     uuid.UUID      `json:"user_id"`
	Milestones []int          `json:"milestones,omitempty"`
}

// GlobalSnapshot is the community-wide aggregate in API units.
type GlobalSnapshot struct {
	TotalUsers   int64           `json:"total_users"`
	TotalQueries int64           `json:"total_queries"`
	TotalTrees   decimal.Decimal `json:"total_trees"`
	WeekTrees    decimal.Decimal `json:"week_trees"`
	TotalDonated decimal.Decimal `json:"total_donated_usd"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Service owns the usage write path: compute impact, persist the durable
// event, then advance the session, user, and global aggregates in that order.
type Service struct {
	store      Store
	calculator *impact.Calculator
	milestones *milestone.Table
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store Store, calculator *impact.Calculator, milestones *milestone.Table, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		calculator: calculator,
		milestones: milestones,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// RecordUsageParams describes one completed interaction to account for.
// UserEmail/DisplayName and SessionTitle seed the rows when this event is the
// first sighting of the user or session.
type RecordUsageParams struct {
	UserID       uuid.UUID
	UserEmail    string
	DisplayName  string
	SessionID    uuid.UUID
	SessionTitle string
	Model        catalog.Model
	InputTokens  int64
	OutputTokens int64
	OccurredAt   time.Time
}

// Receipt reports what one recorded event did to the ledger.
type Receipt struct {
	EventID    uuid.UUID
	Impact     impact.Impact
	OccurredAt time.Time

	UserTotalQueries int64
	UserTotalTrees   decimal.Decimal
	UserTotalDonated decimal.Decimal
	SessionTrees     decimal.Decimal
	Global           GlobalSnapshot
	Milestones       []int

	// Aggregated is false when the event row is durable but one or more
	// aggregates were not advanced; the sweep closes the gap.
	Aggregated bool
}

// RecordUsage runs the full accounting pass for one interaction.
//
// The usage event is the source of truth: once it is inserted, every later
// failure is an aggregate repair problem, not a data loss problem, so those
// failures are logged and flagged on the receipt instead of being returned.
// Errors before the insert are returned and nothing is recorded.
func (s *Service) RecordUsage(ctx context.Context, params RecordUsageParams) (Receipt, error) {
	// A caller that was cancelled records nothing: the interaction never
	// completed, so there is no usage to account for.
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if params.UserID == uuid.Nil || strings.TrimSpace(params.UserEmail) == "" {
		return Receipt{}, ErrInvalidUser
	}
	if params.SessionID == uuid.Nil {
		return Receipt{}, ErrInvalidSession
	}

	result, err := s.calculator.Calculate(params.InputTokens, params.OutputTokens, params.Model)
	if err != nil {
		return Receipt{}, err
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	occurredAt = occurredAt.UTC()

	if err := s.ensureUser(ctx, params); err != nil {
		return Receipt{}, err
	}
	if err := s.ensureSession(ctx, params); err != nil {
		return Receipt{}, err
	}

	event, err := s.store.InsertUsageEvent(ctx, db.InsertUsageEventParams{
		ID:                uuid.New(),
		UserID:            params.UserID,
		SessionID:         params.SessionID,
		ModelAlias:        params.Model.Alias,
		InputTokens:       params.InputTokens,
		OutputTokens:      params.OutputTokens,
		InputUSDMicros:    toMicros(result.InputCost),
		OutputUSDMicros:   toMicros(result.OutputCost),
		TotalUSDMicros:    toMicros(result.TotalCost),
		DonationUSDMicros: toMicros(result.Donation),
		TreesMicros:       toMicros(result.Trees),
		CreatedAt:         occurredAt,
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		EventID:    event.ID,
		Impact:     result,
		OccurredAt: occurredAt,
		Aggregated: true,
	}

	sessionCounters, err := s.store.ApplySessionUsageDelta(ctx, db.ApplySessionUsageDeltaParams{
		ID:            params.SessionID,
		TotalTokens:   params.InputTokens + params.OutputTokens,
		CostUSDMicros: event.TotalUSDMicros,
		TreesMicros:   event.TreesMicros,
		EventAt:       occurredAt,
	})
	if err != nil {
		s.reportAggregateFailure(ctx, &receipt, "session", params.SessionID, event.ID, err)
	} else {
		receipt.SessionTrees = fromMicros(sessionCounters.TreesMicros)
	}

	userCounters, err := s.store.ApplyUserUsageDelta(ctx, db.ApplyUserUsageDeltaParams{
		ID:                params.UserID,
		InputTokens:       params.InputTokens,
		OutputTokens:      params.OutputTokens,
		CostUSDMicros:     event.TotalUSDMicros,
		DonationUSDMicros: event.DonationUSDMicros,
		TreesMicros:       event.TreesMicros,
		EventAt:           occurredAt,
	})
	if err != nil {
		s.reportAggregateFailure(ctx, &receipt, "user", params.UserID, event.ID, err)
	} else {
		receipt.UserTotalQueries = userCounters.TotalQueries
		receipt.UserTotalTrees = fromMicros(userCounters.TreesMicros)
		receipt.UserTotalDonated = fromMicros(userCounters.DonatedUSDMicros)
		receipt.Milestones = s.recordMilestones(ctx, params.UserID, userCounters.TreesMicros, event.TreesMicros, occurredAt)
	}

	global, err := s.store.ApplyGlobalUsageDelta(ctx, db.ApplyGlobalUsageDeltaParams{
		DonationUSDMicros: event.DonationUSDMicros,
		TreesMicros:       event.TreesMicros,
		WeekStart:         timeutil.WeekStart(occurredAt),
	})
	if err != nil {
		s.reportAggregateFailure(ctx, &receipt, "global", uuid.Nil, event.ID, err)
	} else {
		receipt.Global = globalSnapshot(global)
		s.publish(ctx, Update{
			Global:     receipt.Global,
			UserID:     params.UserID,
			Milestones: receipt.Milestones,
		})
	}

	return receipt, nil
}

// ensureUser makes the user row exist, registering a fresh user in the
// global census when this event is their first.
func (s *Service) ensureUser(ctx context.Context, params RecordUsageParams) error {
	created, err := s.store.InsertUser(ctx, db.InsertUserParams{
		ID:          params.UserID,
		Email:       params.UserEmail,
		DisplayName: params.DisplayName,
	})
	if err != nil {
		if db.UniqueViolation(err) {
			return nil
		}
		return err
	}
	if created {
		if _, err := s.store.AdjustGlobalUsers(ctx, 1); err != nil {
			s.logger.Error("global user census not advanced",
				slog.String("user_id", params.UserID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Service) ensureSession(ctx context.Context, params RecordUsageParams) error {
	_, err := s.store.InsertSession(ctx, db.InsertSessionParams{
		ID:     params.SessionID,
		UserID: params.UserID,
		Title:  params.SessionTitle,
	})
	if err != nil && db.UniqueViolation(err) {
		return nil
	}
	return err
}

// recordMilestones derives the pre-increment total from the counters the
// delta UPDATE returned, so detection sees the exact before/after pair even
// when concurrent events interleave.
func (s *Service) recordMilestones(ctx context.Context, userID uuid.UUID, treesMicrosAfter, deltaMicros int64, reachedAt time.Time) []int {
	if s.milestones == nil {
		return nil
	}
	before := fromMicros(treesMicrosAfter - deltaMicros)
	after := fromMicros(treesMicrosAfter)
	crossed := s.milestones.Crossed(before, after)
	if len(crossed) == 0 {
		return nil
	}

	recorded := make([]int, 0, len(crossed))
	for _, threshold := range crossed {
		inserted, err := s.store.InsertMilestone(ctx, db.InsertMilestoneParams{
			ID:        uuid.New(),
			UserID:    userID,
			Threshold: int32(threshold),
			ReachedAt: reachedAt,
		})
		if err != nil {
			if db.UniqueViolation(err) {
				continue
			}
			s.logger.Error("milestone not recorded",
				slog.String("user_id", userID.String()),
				slog.Int("threshold", threshold),
				slog.String("error", err.Error()))
			continue
		}
		if inserted {
			recorded = append(recorded, threshold)
		}
	}
	return recorded
}

func (s *Service) reportAggregateFailure(ctx context.Context, receipt *Receipt, scope string, id, eventID uuid.UUID, err error) {
	receipt.Aggregated = false
	aggErr := &AggregateError{Scope: scope, Err: err}
	attrs := []any{
		slog.String("scope", scope),
		slog.String("event_id", eventID.String()),
		slog.String("error", aggErr.Error()),
	}
	if id != uuid.Nil {
		attrs = append(attrs, slog.String("id", id.String()))
	}
	s.logger.ErrorContext(ctx, "usage event recorded but aggregate lagging", attrs...)
}

func (s *Service) publish(ctx context.Context, update Update) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, update); err != nil {
		s.logger.Warn("stats update not published", slog.String("error", err.Error()))
	}
}

// UserProfile is the per-user ledger view.
type UserProfile struct {
	User       db.User
	Milestones []db.Milestone
	TotalTrees decimal.Decimal
	Donated    decimal.Decimal
	Cost       decimal.Decimal
	Next       *int
}

// GetUserProfile returns a user's lifetime totals and reached milestones.
func (s *Service) GetUserProfile(ctx context.Context, userID uuid.UUID) (UserProfile, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserProfile{}, ErrUserNotFound
		}
		return UserProfile{}, err
	}
	reached, err := s.store.ListMilestonesForUser(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	profile := UserProfile{
		User:       user,
		Milestones: reached,
		TotalTrees: fromMicros(user.TreesMicros),
		Donated:    fromMicros(user.DonatedUSDMicros),
		Cost:       fromMicros(user.CostUSDMicros),
	}
	if s.milestones != nil {
		if next, ok := s.milestones.Next(profile.TotalTrees); ok {
			profile.Next = &next
		}
	}
	return profile, nil
}

// GetGlobalSnapshot returns the community aggregate in API units.
func (s *Service) GetGlobalSnapshot(ctx context.Context) (GlobalSnapshot, error) {
	global, err := s.store.GetGlobalStats(ctx)
	if err != nil {
		return GlobalSnapshot{}, err
	}
	return globalSnapshot(global), nil
}

// GetSessionSummary returns a session's running totals.
func (s *Service) GetSessionSummary(ctx context.Context, sessionID uuid.UUID) (db.Session, error) {
	return s.store.GetSessionByID(ctx, sessionID)
}

func globalSnapshot(g db.GlobalStats) GlobalSnapshot {
	return GlobalSnapshot{
		TotalUsers:   g.TotalUsers,
		TotalQueries: g.TotalQueries,
		TotalTrees:   fromMicros(g.TreesMicros),
		WeekTrees:    fromMicros(g.WeekTreesMicros),
		TotalDonated: fromMicros(g.DonatedUSDMicros),
		UpdatedAt:    g.UpdatedAt,
	}
}

// toMicros converts a value already rounded to six places into integer
// micro-units with no further rounding.
func toMicros(d decimal.Decimal) int64 {
	return d.Shift(impact.Precision).IntPart()
}

func fromMicros(micros int64) decimal.Decimal {
	return decimal.New(micros, -impact.Precision)
}
