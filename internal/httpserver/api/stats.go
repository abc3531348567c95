package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rootedhq/rooted/backend/internal/httpserver/httputil"
)

// globalStats returns the community counters for polling clients.
func (h *apiHandler) globalStats(c *fiber.Ctx) error {
	snapshot, err := h.container.Ledger.GetGlobalSnapshot(c.UserContext())
	if err != nil {
		h.container.Logger.Error("global stats lookup failed", "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load stats")
	}
	return c.JSON(snapshot)
}

type milestoneTableResponse struct {
	Version    string `json:"version"`
	Thresholds []int  `json:"thresholds"`
}

// milestoneTable publishes the versioned threshold list so clients render
// progress bars against the same table the ledger detects against.
func (h *apiHandler) milestoneTable(c *fiber.Ctx) error {
	return c.JSON(milestoneTableResponse{
		Version:    h.container.Milestones.Version(),
		Thresholds: h.container.Milestones.Thresholds(),
	})
}
