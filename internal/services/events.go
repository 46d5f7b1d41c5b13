package services

import (
	"time"

	"github.com/Uriel-Ondo/agro/internal/models"
)

const (
	EventNewPublicRequest      = "new_public_request"
	EventPrivateSessionStarted = "private_session_started"
	EventNewPrivateMessage     = "new_private_message"
	EventMessageStatusUpdate   = "message_status_update"
	EventSessionEnded          = "session_ended"
	EventSessionDeleted        = "session_deleted"
	EventCallStatusUpdate      = "call_status_update"
	EventMessageDeleted        = "message_deleted"
)

// Notifier fans events out to live connections. Delivery is best effort:
// an event for a scope nobody is subscribed to is dropped.
type Notifier interface {
	PublishToUser(userID int64, event string, data any) int
	PublishToSession(sessionID int64, event string, data any) int
	DropSession(sessionID int64)
}

type PublicRequestEvent struct {
	RequestID int64     `json:"request_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Type      string    `json:"request_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionStartedEvent struct {
	SessionID      int64           `json:"session_id"`
	RequestID      *int64          `json:"request_id,omitempty"`
	FarmerID       int64           `json:"farmer_id"`
	ExpertID       int64           `json:"expert_id"`
	FarmerUsername string          `json:"farmer_username"`
	ExpertUsername string          `json:"expert_username"`
	StartedBy      int64           `json:"started_by"`
	Message        *models.Message `json:"message,omitempty"`
}

type MessageEvent struct {
	models.Message
	SenderUsername string `json:"sender_username"`
}

type StatusEvent struct {
	MessageID int64  `json:"message_id"`
	SessionID int64  `json:"session_id"`
	Status    string `json:"status"`
}

type SessionNoticeEvent struct {
	SessionID int64  `json:"session_id"`
	Message   string `json:"message"`
}

type CallStatusEvent struct {
	SessionID int64     `json:"session_id"`
	MessageID int64     `json:"message_id"`
	SenderID  int64     `json:"sender_id"`
	CallType  string    `json:"call_type,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageDeletedEvent struct {
	MessageID int64 `json:"message_id"`
	SessionID int64 `json:"session_id"`
}

func statusEvent(message models.Message) StatusEvent {
	return StatusEvent{
		MessageID: message.ID,
		SessionID: message.SessionID,
		Status:    message.Status,
	}
}
