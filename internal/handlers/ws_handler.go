package handlers

import (
	"context"
	"strconv"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Uriel-Ondo/agro/internal/logging"
	chatws "github.com/Uriel-Ondo/agro/internal/websocket"
	"github.com/Uriel-Ondo/agro/pkg/utils"
)

type presenceConnector interface {
	Connect(ctx context.Context, userID int64) error
	Disconnect(ctx context.Context, userID int64) error
}

// WSHandler authenticates push-channel connections and runs their pumps.
type WSHandler struct {
	hub       *chatws.Hub
	presence  presenceConnector
	service   chatws.Service
	jwtSecret string
	log       zerolog.Logger
}

func NewWSHandler(hub *chatws.Hub, presence presenceConnector, service chatws.Service, jwtSecret string) *WSHandler {
	return &WSHandler{
		hub:       hub,
		presence:  presence,
		service:   service,
		jwtSecret: jwtSecret,
		log:       logging.Component("ws"),
	}
}

func (h *WSHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	tokenString := bearerToken(c)
	if tokenString == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
	}
	claims, err := utils.ValidateToken(tokenString, h.jwtSecret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	if _, err := strconv.ParseInt(claims.UserID, 10, 64); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *WSHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDStr, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}

	h.serve(context.Background(), conn, userID, role)
}

// serve registers the connection, marks the user online and blocks until
// the connection goes away. Cleanup runs on every exit path.
func (h *WSHandler) serve(ctx context.Context, conn chatws.Conn, userID int64, role string) {
	if err := h.presence.Connect(ctx, userID); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("presence connect failed")
		_ = conn.Close()
		return
	}
	defer func() {
		if err := h.presence.Disconnect(context.WithoutCancel(ctx), userID); err != nil {
			h.log.Error().Err(err).Int64("user_id", userID).Msg("presence disconnect failed")
		}
	}()

	client := h.hub.NewClient(conn, userID, role)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	h.log.Info().Str("client_id", client.ID()).Int64("user_id", userID).Str("role", role).Msg("push channel connected")
	go client.WritePump()
	client.ReadPump(ctx, h.service)
	h.log.Info().Str("client_id", client.ID()).Int64("user_id", userID).Msg("push channel closed")
}
