package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/completion"
	"github.com/rootedhq/rooted/backend/internal/httpserver/httputil"
	"github.com/rootedhq/rooted/backend/internal/impact"
	"github.com/rootedhq/rooted/backend/internal/limits"
	"github.com/rootedhq/rooted/backend/internal/models"
	ledgersvc "github.com/rootedhq/rooted/backend/internal/services/ledger"
	"github.com/rootedhq/rooted/backend/internal/tokenizer"
)

const sessionTitleMaxLen = 80

type chatRequest struct {
	SessionID string               `json:"session_id"`
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int64                `json:"max_tokens"`
}

type chatResponse struct {
	ResponseText   string          `json:"response_text"`
	Model          string          `json:"model"`
	SessionID      uuid.UUID       `json:"session_id"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	TotalCost      decimal.Decimal `json:"total_cost_usd"`
	Donation       decimal.Decimal `json:"donation_usd"`
	TreesAdded     decimal.Decimal `json:"trees_added"`
	UserTotalTrees decimal.Decimal `json:"user_total_trees"`
	Milestones     []int           `json:"milestones,omitempty"`
}

// chat runs one completion round trip and records its impact: resolve the
// model, count prompt tokens, call the provider, count response tokens, then
// hand everything to the ledger. The completion call is the only step allowed
// to take real time; everything before it must fail without side effects.
func (h *apiHandler) chat(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ident, ok := identityFromContext(ctx)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "messages are required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}

	sessionID, err := resolveSessionID(req.SessionID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid session id")
	}

	model, err := h.container.Catalog.Get(req.Model)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			return httputil.WriteError(c, fiber.StatusBadRequest, "unknown model: "+req.Model)
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "model lookup failed")
	}

	idempotencyKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		if data, ok := h.container.Idempotency.Get(ctx, idempotencyKey); ok {
			c.Set("Content-Type", "application/json")
			return c.Send(data)
		}
	}

	limitKey := "user:" + ident.UserID.String()
	limitCfg := limits.LimitConfig{
		RequestsPerMinute: h.container.Config.RateLimits.RequestsPerMinute,
		TokensPerMinute:   h.container.Config.RateLimits.TokensPerMinute,
		ParallelRequests:  h.container.Config.RateLimits.ParallelRequests,
	}
	if err := h.container.RateLimiter.Allow(ctx, limitKey, limitCfg); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	defer h.container.RateLimiter.Release(context.Background(), limitKey, limitCfg)

	inputTokens, err := h.countPrompt(model, req.Messages)
	if err != nil {
		if errors.Is(err, tokenizer.ErrUnsupportedModel) {
			h.container.Logger.Error("catalog entry has no usable tokenizer encoding",
				"model", model.Alias,
				"encoding", model.Encoding,
			)
			return httputil.WriteError(c, fiber.StatusInternalServerError, "token counting unavailable for model")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "token counting failed")
	}

	// Debit the prompt against the token budget before any provider spend;
	// the response side is debited post-hoc once its size is known.
	if err := h.container.RateLimiter.TokenAllowance(ctx, limitKey, int(inputTokens), limitCfg); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteError(c, fiber.StatusTooManyRequests, "token limit exceeded")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}

	if h.container.Completion == nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "completion service unavailable")
	}

	started := time.Now()
	result, err := h.container.Completion.Complete(ctx, model, req.Messages, req.MaxTokens)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away before the provider answered. Nothing was
			// recorded, so the query simply never happened.
			return nil
		}
		if errors.Is(err, completion.ErrEmptyPrompt) {
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		}
		h.container.Observability.RecordCompletion(model.Alias, "error", time.Since(started))
		var upstream *completion.UpstreamError
		if errors.As(err, &upstream) {
			h.container.Logger.Warn("completion upstream failure",
				"model", model.Alias,
				"error", err,
			)
			return httputil.WriteError(c, fiber.StatusBadGateway, "completion provider unavailable")
		}
		return httputil.WriteError(c, fiber.StatusBadGateway, "completion failed")
	}
	h.container.Observability.RecordCompletion(model.Alias, "ok", time.Since(started))

	outputTokens, err := h.countResponse(model, result)
	if err != nil {
		h.container.Logger.Error("response token count failed",
			"model", model.Alias,
			"error", err,
		)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "token counting failed")
	}

	// The completed response is billed regardless; this debit only informs
	// the next request's pre-flight check and can never reject this one.
	if outputTokens > 0 {
		if err := h.container.RateLimiter.TokenAllowance(context.Background(), limitKey, int(outputTokens), limitCfg); err != nil && !errors.Is(err, limits.ErrLimitExceeded) {
			h.container.Logger.Warn("token budget debit failed", "error", err)
		}
	}

	receipt, err := h.container.Ledger.RecordUsage(ctx, ledgersvc.RecordUsageParams{
		UserID:       ident.UserID,
		UserEmail:    ident.Email,
		SessionID:    sessionID,
		SessionTitle: sessionTitle(req.Messages),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, impact.ErrNegativeTokens) ||
			errors.Is(err, ledgersvc.ErrInvalidUser) ||
			errors.Is(err, ledgersvc.ErrInvalidSession) {
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		}
		h.container.Logger.Error("usage recording failed",
			"user_id", ident.UserID,
			"session_id", sessionID,
			"model", model.Alias,
			"error", err,
		)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to record usage")
	}

	h.container.Observability.RecordUsageEvent(model.Alias, inputTokens, outputTokens,
		receipt.Impact.Trees.InexactFloat64(), receipt.Impact.Donation.InexactFloat64())

	payload, err := json.Marshal(chatResponse{
		ResponseText:   result.Text,
		Model:          model.Alias,
		SessionID:      sessionID,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		TotalCost:      receipt.Impact.TotalCost,
		Donation:       receipt.Impact.Donation,
		TreesAdded:     receipt.Impact.Trees,
		UserTotalTrees: receipt.UserTotalTrees,
		Milestones:     receipt.Milestones,
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to encode response")
	}
	if idempotencyKey != "" {
		h.container.Idempotency.Set(ctx, idempotencyKey, payload)
	}
	c.Set("Content-Type", "application/json")
	return c.Send(payload)
}

type estimateRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

type estimateResponse struct {
	InputTokens int64 `json:"input_tokens"`
	// Advisory is always true: the figure uses the chars/4 heuristic, not
	// the real tokenizer, and must never reach the ledger.
	Advisory bool `json:"advisory"`

	// Worst-case impact if the whole prompt were billed at the named
	// model's input rate. Omitted when no model was supplied.
	EstimatedCost  *decimal.Decimal `json:"estimated_cost_usd,omitempty"`
	EstimatedTrees *decimal.Decimal `json:"estimated_trees,omitempty"`
}

// chatEstimate prices a prompt before submission using the character
// heuristic. It requires no identity and writes nothing.
func (h *apiHandler) chatEstimate(c *fiber.Ctx) error {
	var req estimateRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "messages are required")
	}

	resp := estimateResponse{
		InputTokens: tokenizer.EstimateMessages(req.Messages),
		Advisory:    true,
	}

	if alias := strings.TrimSpace(req.Model); alias != "" {
		model, err := h.container.Catalog.Get(alias)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownModel) {
				return httputil.WriteError(c, fiber.StatusBadRequest, "unknown model: "+alias)
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, "model lookup failed")
		}
		est, err := h.container.Impact.Calculate(resp.InputTokens, 0, model)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "estimate failed")
		}
		resp.EstimatedCost = &est.TotalCost
		resp.EstimatedTrees = &est.Trees
	}

	return c.JSON(resp)
}

// countPrompt counts the prompt with the real tokenizer. Recorded figures
// are never approximated: a catalog entry whose encoding the tokenizer
// cannot load is a configuration defect, not a reason to guess.
func (h *apiHandler) countPrompt(model catalog.Model, messages []models.ChatMessage) (int64, error) {
	return h.container.Tokenizer.CountMessages(model, messages)
}

// countResponse counts the completion text. Provider-reported usage is
// deliberately ignored here: only our own tokenizer's counts are billable.
func (h *apiHandler) countResponse(model catalog.Model, result models.CompletionResult) (int64, error) {
	return h.container.Tokenizer.CountText(model, result.Text)
}

func resolveSessionID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(raw)
}

// sessionTitle derives a display title from the first user turn.
func sessionTitle(messages []models.ChatMessage) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		title := strings.TrimSpace(msg.Content)
		if title == "" {
			continue
		}
		if runes := []rune(title); len(runes) > sessionTitleMaxLen {
			title = string(runes[:sessionTitleMaxLen])
		}
		return title
	}
	return ""
}
