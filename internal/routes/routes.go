package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/Uriel-Ondo/agro/internal/config"
	"github.com/Uriel-Ondo/agro/internal/handlers"
	"github.com/Uriel-Ondo/agro/internal/middleware"
	"github.com/Uriel-Ondo/agro/internal/services"
	chatws "github.com/Uriel-Ondo/agro/internal/websocket"
)

// Dependencies are the long-lived components the routes dispatch to. They
// are built by the caller so it can own their lifecycle.
type Dependencies struct {
	Gateway  *services.Gateway
	Presence *services.PresenceTracker
	Hub      *chatws.Hub
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	expertHandler := handlers.NewExpertHandler(deps.Gateway, cfg.MaxUploadBytes)
	wsHandler := handlers.NewWSHandler(deps.Hub, deps.Presence, deps.Gateway, cfg.JWTSecret)

	if !cfg.SupabaseEnabled() {
		app.Static("/uploads", cfg.UploadDir)
	}

	api := app.Group("/api")

	expert := api.Group("/v1/expert", middleware.AuthRequired(cfg.JWTSecret), middleware.RelayRole())

	requests := expert.Group("/requests")
	requests.Post("", expertHandler.CreateRequest)
	requests.Get("", expertHandler.ListRequests)
	requests.Post("/:id/respond", expertHandler.RespondToRequest)

	sessions := expert.Group("/sessions")
	sessions.Get("", expertHandler.ListSessions)
	sessions.Post("/:farmer/:expert/messages", expertHandler.SendMessage)
	sessions.Get("/:farmer/:expert/messages", expertHandler.GetMessages)
	sessions.Get("/:id/messages", expertHandler.GetSessionMessages)
	sessions.Post("/:id/end", expertHandler.EndSession)
	sessions.Post("/:id/call-status", expertHandler.UpdateCallStatus)
	sessions.Delete("/:id", expertHandler.DeleteSession)

	messages := expert.Group("/messages")
	messages.Post("/:id/read", expertHandler.MarkMessageRead)
	messages.Delete("/:id", expertHandler.DeleteMessage)

	expert.Get("/presence/:id", expertHandler.Presence)

	api.Use("/v1/ws", wsHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(wsHandler.HandleWebSocket))
}
