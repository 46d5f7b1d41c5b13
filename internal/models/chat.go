package models

import "time"

const (
	MessageTypeText            = "text"
	MessageTypeAudio           = "audio"
	MessageTypeImage           = "image"
	MessageTypeVideo           = "video"
	MessageTypeAudioCall       = "audio_call"
	MessageTypeVideoCall       = "video_call"
	MessageTypeAudioCallSignal = "audio_call_signal"
	MessageTypeVideoCallSignal = "video_call_signal"
	MessageTypeCallStatus      = "call_status"
	MessageTypeSessionEnded    = "session_ended"
)

const (
	MessageStatusSent     = "sent"
	MessageStatusReceived = "received"
	MessageStatusRead     = "read"
)

type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	SenderID  int64     `json:"sender_id"`
	Type      string    `json:"message_type"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusRank orders delivery states; unknown values rank below "sent".
func StatusRank(status string) int {
	switch status {
	case MessageStatusSent:
		return 1
	case MessageStatusReceived:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

func IsMediaType(messageType string) bool {
	switch messageType {
	case MessageTypeAudio, MessageTypeImage, MessageTypeVideo:
		return true
	}
	return false
}

func IsCallType(messageType string) bool {
	return messageType == MessageTypeAudioCall || messageType == MessageTypeVideoCall
}

func IsCallSignalType(messageType string) bool {
	return messageType == MessageTypeAudioCallSignal || messageType == MessageTypeVideoCallSignal
}

// IsClientMessageType reports whether a client may post the type directly.
// call_status and session_ended are produced by dedicated operations.
func IsClientMessageType(messageType string) bool {
	return messageType == MessageTypeText ||
		IsMediaType(messageType) ||
		IsCallType(messageType) ||
		IsCallSignalType(messageType)
}
