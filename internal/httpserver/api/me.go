package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/httpserver/httputil"
	ledgersvc "github.com/rootedhq/rooted/backend/internal/services/ledger"
	usagesvc "github.com/rootedhq/rooted/backend/internal/services/usage"
)

type reachedMilestone struct {
	Threshold int       `json:"threshold"`
	ReachedAt time.Time `json:"reached_at"`
}

type profileResponse struct {
	UserID        uuid.UUID          `json:"user_id"`
	Email         string             `json:"email"`
	DisplayName   string             `json:"display_name,omitempty"`
	TotalQueries  int64              `json:"total_queries"`
	InputTokens   int64              `json:"input_tokens"`
	OutputTokens  int64              `json:"output_tokens"`
	TotalCost     decimal.Decimal    `json:"total_cost_usd"`
	TotalDonated  decimal.Decimal    `json:"total_donated_usd"`
	TotalTrees    decimal.Decimal    `json:"total_trees"`
	Milestones    []reachedMilestone `json:"milestones"`
	NextThreshold *int               `json:"next_threshold,omitempty"`
	MemberSince   time.Time          `json:"member_since"`
}

// me returns the caller's authoritative totals, creating the profile row on
// first contact so a fresh identity starts at zero instead of 404.
func (h *apiHandler) me(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ident, ok := identityFromContext(ctx)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	if _, err := h.container.Ledger.RegisterUser(ctx, ledgersvc.RegisterUserParams{
		ID:    ident.UserID,
		Email: ident.Email,
	}); err != nil {
		h.container.Logger.Error("profile registration failed", "user_id", ident.UserID, "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load profile")
	}

	profile, err := h.container.Ledger.GetUserProfile(ctx, ident.UserID)
	if err != nil {
		if errors.Is(err, ledgersvc.ErrUserNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		}
		h.container.Logger.Error("profile lookup failed", "user_id", ident.UserID, "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load profile")
	}

	reached := make([]reachedMilestone, 0, len(profile.Milestones))
	for _, m := range profile.Milestones {
		reached = append(reached, reachedMilestone{
			Threshold: int(m.Threshold),
			ReachedAt: m.ReachedAt,
		})
	}

	return c.JSON(profileResponse{
		UserID:        profile.User.ID,
		Email:         profile.User.Email,
		DisplayName:   profile.User.DisplayName,
		TotalQueries:  profile.User.TotalQueries,
		InputTokens:   profile.User.InputTokens,
		OutputTokens:  profile.User.OutputTokens,
		TotalCost:     profile.Cost,
		TotalDonated:  profile.Donated,
		TotalTrees:    profile.TotalTrees,
		Milestones:    reached,
		NextThreshold: profile.Next,
		MemberSince:   profile.User.CreatedAt,
	})
}

// deleteMe removes the caller's account. The user's rows cascade away and
// their lifetime contribution is retired from the community counters.
func (h *apiHandler) deleteMe(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ident, ok := identityFromContext(ctx)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	if err := h.container.Ledger.RemoveUser(ctx, ident.UserID); err != nil {
		if errors.Is(err, ledgersvc.ErrUserNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		}
		var aggErr *ledgersvc.AggregateError
		if errors.As(err, &aggErr) {
			// The account is gone; only the counter retirement lagged.
			// The sweep reconciles it, so the deletion still reports done.
			h.container.Logger.Error("global retirement lagged after account deletion",
				"user_id", ident.UserID, "error", err)
			h.container.Observability.RecordLedgerRepair("global")
			return c.SendStatus(fiber.StatusNoContent)
		}
		h.container.Logger.Error("account deletion failed", "user_id", ident.UserID, "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to delete account")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// myUsage returns the caller's zero-filled daily series for the dashboard.
func (h *apiHandler) myUsage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ident, ok := identityFromContext(ctx)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		period = "7d"
	}
	timezone := strings.TrimSpace(c.Query("timezone"))

	summary, err := h.container.Usage.UserDailyUsage(ctx, ident.UserID, period, timezone)
	if err != nil {
		switch {
		case errors.Is(err, usagesvc.ErrInvalidPeriod):
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid period")
		case errors.Is(err, usagesvc.ErrInvalidTimezone):
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid timezone")
		case errors.Is(err, usagesvc.ErrUserNotFound):
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		}
		h.container.Logger.Error("usage summary failed", "user_id", ident.UserID, "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load usage")
	}
	return c.JSON(summary)
}
