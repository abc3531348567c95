package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rootedhq/rooted/backend/internal/db"
)

// RegisterUserParams seed a user row ahead of their first recorded event.
type RegisterUserParams struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

// RegisterUser creates the user and counts them into the global census.
// Registering an existing user is a no-op, so retried signups are safe.
func (s *Service) RegisterUser(ctx context.Context, params RegisterUserParams) (db.User, error) {
	if params.ID == uuid.Nil || strings.TrimSpace(params.Email) == "" {
		return db.User{}, ErrInvalidUser
	}
	created, err := s.store.InsertUser(ctx, db.InsertUserParams{
		ID:          params.ID,
		Email:       params.Email,
		DisplayName: params.DisplayName,
	})
	if err != nil && !db.UniqueViolation(err) {
		return db.User{}, err
	}
	if created {
		if _, err := s.store.AdjustGlobalUsers(ctx, 1); err != nil {
			s.logger.Error("global user census not advanced",
				slog.String("user_id", params.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return s.store.GetUserByID(ctx, params.ID)
}

// RemoveUser deletes the user row (events, sessions, and milestones cascade)
// and retires their lifetime contribution from the global counters.
func (s *Service) RemoveUser(ctx context.Context, userID uuid.UUID) error {
	counters, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if _, err := s.store.RetireGlobalUsage(ctx, db.RetireGlobalUsageParams{
		Queries:           counters.TotalQueries,
		DonationUSDMicros: counters.DonatedUSDMicros,
		TreesMicros:       counters.TreesMicros,
	}); err != nil {
		s.logger.Error("global counters not retired after user deletion",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()))
		return &AggregateError{Scope: "global", Err: err}
	}
	return nil
}
