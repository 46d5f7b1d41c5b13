package chatws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/services"
)

const (
	EventError  = "error"
	EventPong   = "pong"
	EventJoined = "session_joined"
)

// Service is what the push channel may invoke on behalf of its user.
type Service interface {
	JoinSession(ctx context.Context, actorID, sessionID int64) (*models.Session, error)
	UpdateMessageStatus(ctx context.Context, actorID, messageID int64, status string) (*models.Message, error)
	UpdateCallStatus(ctx context.Context, actorID, sessionID int64, callType, status string) (*models.Message, error)
}

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
	CallType  string `json:"call_type"`
}

type errorFrame struct {
	Message string `json:"message"`
}

// ReadPump handles client frames until the connection fails. It always
// unregisters the client before returning.
func (c *Client) ReadPump(ctx context.Context, service Service) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.writeError("invalid message payload")
			continue
		}
		c.handle(ctx, service, frame)
	}
}

func (c *Client) handle(ctx context.Context, service Service, frame inboundFrame) {
	switch frame.Type {
	case "ping":
		c.hub.reply(c, EventPong, struct{}{})
	case "join_session":
		if frame.SessionID <= 0 {
			c.writeError("invalid session id")
			return
		}
		session, err := service.JoinSession(ctx, c.userID, frame.SessionID)
		if err != nil {
			c.writeServiceError(err)
			return
		}
		c.hub.JoinSession(c, session.ID)
		c.hub.reply(c, EventJoined, map[string]int64{"session_id": session.ID})
	case "leave_session":
		c.hub.LeaveSession(c, frame.SessionID)
	case "mark_read", "mark_received":
		if frame.MessageID <= 0 {
			c.writeError("invalid message id")
			return
		}
		status := models.MessageStatusRead
		if frame.Type == "mark_received" {
			status = models.MessageStatusReceived
		}
		if _, err := service.UpdateMessageStatus(ctx, c.userID, frame.MessageID, status); err != nil {
			c.writeServiceError(err)
		}
	case "call_status":
		if frame.SessionID <= 0 {
			c.writeError("invalid session id")
			return
		}
		if _, err := service.UpdateCallStatus(ctx, c.userID, frame.SessionID, frame.CallType, frame.Status); err != nil {
			c.writeServiceError(err)
		}
	default:
		c.writeError("unsupported message type")
	}
}

func (c *Client) writeError(message string) {
	c.hub.reply(c, EventError, errorFrame{Message: message})
}

func (c *Client) writeServiceError(err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.writeError("not found")
	case errors.Is(err, services.ErrForbidden):
		c.writeError("forbidden")
	case errors.Is(err, services.ErrInvalidContent):
		c.writeError("invalid content")
	case errors.Is(err, services.ErrSessionClosed):
		c.writeError("session closed")
	case errors.Is(err, services.ErrStorageUnavailable):
		c.writeError("temporarily unavailable, retry later")
	default:
		c.hub.log.Error().Err(err).Str("client_id", c.id).Msg("push channel request failed")
		c.writeError("request failed")
	}
}
