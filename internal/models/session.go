package models

import "time"

const (
	RoleFarmer = "farmer"
	RoleExpert = "expert"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

type Session struct {
	ID        int64     `json:"id"`
	FarmerID  int64     `json:"farmer_id"`
	ExpertID  int64     `json:"expert_id"`
	RequestID *int64    `json:"request_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsParticipant reports whether userID is the farmer or the expert of the session.
func (s *Session) IsParticipant(userID int64) bool {
	return s != nil && (s.FarmerID == userID || s.ExpertID == userID)
}

// Counterpart returns the other participant. It returns 0 for non-participants.
func (s *Session) Counterpart(userID int64) int64 {
	switch {
	case s == nil:
		return 0
	case userID == s.FarmerID:
		return s.ExpertID
	case userID == s.ExpertID:
		return s.FarmerID
	default:
		return 0
	}
}

type PublicRequest struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Type      string    `json:"request_type"`
	Content   string    `json:"content"`
	Responded bool      `json:"responded"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionSummary struct {
	Session
	FarmerUsername string   `json:"farmer_username"`
	ExpertUsername string   `json:"expert_username"`
	LastMessage    *Message `json:"last_message,omitempty"`
	UnreadCount    int      `json:"unread_count"`
}
