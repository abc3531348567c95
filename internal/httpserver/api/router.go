// Package api exposes the versioned client-facing endpoints: chat
// submission, impact stats, milestones, and the per-user ledger views.
package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/rootedhq/rooted/backend/internal/app"
)

type apiHandler struct {
	container *app.Container
}

// Register wires the /v1 API group onto the fiber app.
func Register(fiberApp *fiber.App, container *app.Container) {
	if fiberApp == nil || container == nil {
		return
	}

	handler := &apiHandler{container: container}

	group := fiberApp.Group("/v1")

	// Public stats surface, no identity required.
	group.Get("/stats", handler.globalStats)
	group.Get("/stats/stream", requireWebsocketUpgrade, websocket.New(handler.statsStream))
	group.Get("/milestones", handler.milestoneTable)
	group.Post("/chat/estimate", handler.chatEstimate)

	authed := group.Group("", identityMiddleware())
	authed.Post("/chat", handler.chat)
	authed.Get("/me", handler.me)
	authed.Delete("/me", handler.deleteMe)
	authed.Get("/me/usage", handler.myUsage)
}

func requireWebsocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
