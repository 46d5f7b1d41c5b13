package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Uriel-Ondo/agro/internal/logging"
	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

const (
	defaultResponseContent = "Conversation started"

	requestMediaFolder = "requests"
	messageMediaFolder = "messages"
)

var callStatuses = map[string]struct{}{
	"accepted": {},
	"rejected": {},
	"ended":    {},
	"missed":   {},
	"busy":     {},
}

// Gateway is the entry point for every relay operation. It validates the
// caller, persists through the SessionStore and fans events out through the
// Notifier. Work on one session is serialized by a per-session mutex held
// across persistence and publication.
type Gateway struct {
	store    repository.Store
	presence *PresenceTracker
	delivery *DeliveryMachine
	sessions *SessionStore
	notifier Notifier
	media    MediaStorage
	locks    *KeyedMutex[int64]
	log      zerolog.Logger
}

func NewGateway(
	store repository.Store,
	presence *PresenceTracker,
	notifier Notifier,
	media MediaStorage,
) *Gateway {
	delivery := NewDeliveryMachine(presence)
	return &Gateway{
		store:    store,
		presence: presence,
		delivery: delivery,
		sessions: NewSessionStore(store, delivery),
		notifier: notifier,
		media:    media,
		locks:    NewKeyedMutex[int64](),
		log:      logging.Component("gateway"),
	}
}

// MessageInput is the content of a request, response or message. When
// Upload is set its extension decides the message type and Content is
// replaced by the storage reference.
type MessageInput struct {
	Type      string
	Content   string
	Upload    *Upload
	RequestID *int64
}

type RespondResult struct {
	Session        *models.Session `json:"session"`
	Message        *models.Message `json:"message"`
	FarmerUsername string          `json:"farmer_username"`
	ExpertUsername string          `json:"expert_username"`
}

type SendResult struct {
	Session *models.Session `json:"session"`
	Message *models.Message `json:"message"`
	Created bool            `json:"session_created"`
}

type MessagePage struct {
	Session  *models.Session
	Messages []models.Message
	Total    int
}

func (g *Gateway) CreatePublicRequest(
	ctx context.Context,
	actorID int64,
	role string,
	input MessageInput,
) (*models.PublicRequest, error) {
	if role != models.RoleFarmer {
		return nil, ErrForbidden
	}
	farmer, err := g.user(ctx, actorID)
	if err != nil {
		return nil, err
	}

	messageType, content, stored, err := g.resolveContent(ctx, farmer.Username, input, requestMediaFolder, isRequestType)
	if err != nil {
		return nil, err
	}

	request, err := g.store.Repos().Requests.Create(ctx, repository.CreatePublicRequestInput{
		UserID:  actorID,
		Type:    messageType,
		Content: content,
	})
	if err != nil {
		g.releaseMedia(ctx, stored)
		return nil, storageError(err)
	}
	request.Username = farmer.Username

	experts, err := g.presence.ListOnline(ctx, models.RoleExpert)
	if err != nil {
		g.log.Warn().Err(err).Int64("request_id", request.ID).Msg("list online experts failed")
		return request, nil
	}
	event := PublicRequestEvent{
		RequestID: request.ID,
		UserID:    request.UserID,
		Username:  farmer.Username,
		Type:      request.Type,
		Content:   request.Content,
		CreatedAt: request.CreatedAt,
	}
	for _, expert := range experts {
		g.notifier.PublishToUser(expert.ID, EventNewPublicRequest, event)
	}
	g.log.Debug().Int64("request_id", request.ID).Int("experts", len(experts)).Msg("public request broadcast")

	return request, nil
}

// ListPublicRequests returns a farmer's own requests, or every unanswered
// request for an expert.
func (g *Gateway) ListPublicRequests(ctx context.Context, actorID int64, role string) ([]models.PublicRequest, error) {
	var (
		requests []models.PublicRequest
		err      error
	)
	switch role {
	case models.RoleFarmer:
		requests, err = g.store.Repos().Requests.ListByUser(ctx, actorID)
	case models.RoleExpert:
		requests, err = g.store.Repos().Requests.ListOpen(ctx)
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, storageError(err)
	}
	return requests, nil
}

func (g *Gateway) RespondToRequest(
	ctx context.Context,
	actorID int64,
	role string,
	requestID int64,
	input MessageInput,
) (*RespondResult, error) {
	if role != models.RoleExpert {
		return nil, ErrForbidden
	}
	request, err := g.store.Repos().Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, storageError(err)
	}
	if request.Responded {
		return nil, ErrAlreadyHandled
	}
	expert, err := g.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	farmer, err := g.user(ctx, request.UserID)
	if err != nil {
		return nil, err
	}

	if input.Upload == nil && strings.TrimSpace(input.Content) == "" {
		input.Content = defaultResponseContent
	}
	messageType, content, stored, err := g.resolveContent(ctx, expert.Username, input, messageMediaFolder, models.IsClientMessageType)
	if err != nil {
		return nil, err
	}

	opened, err := g.sessions.OpenFromRequest(ctx, requestID, actorID, messageType, content)
	if err != nil {
		g.releaseMedia(ctx, stored)
		return nil, err
	}

	g.notifier.PublishToUser(farmer.ID, EventPrivateSessionStarted, SessionStartedEvent{
		SessionID:      opened.Session.ID,
		RequestID:      opened.Session.RequestID,
		FarmerID:       farmer.ID,
		ExpertID:       expert.ID,
		FarmerUsername: farmer.Username,
		ExpertUsername: expert.Username,
		StartedBy:      expert.ID,
		Message:        opened.Message,
	})
	g.notifier.PublishToUser(expert.ID, EventMessageStatusUpdate, statusEvent(*opened.Message))
	g.log.Info().
		Int64("request_id", requestID).
		Int64("session_id", opened.Session.ID).
		Int64("expert_id", actorID).
		Msg("public request answered")

	return &RespondResult{
		Session:        opened.Session,
		Message:        opened.Message,
		FarmerUsername: farmer.Username,
		ExpertUsername: expert.Username,
	}, nil
}

// SendMessage posts into the session of the farmer/expert pair, creating
// one when the pair has never talked.
func (g *Gateway) SendMessage(
	ctx context.Context,
	actorID int64,
	farmerUsername string,
	expertUsername string,
	input MessageInput,
) (*SendResult, error) {
	farmer, expert, err := g.pair(ctx, farmerUsername, expertUsername)
	if err != nil {
		return nil, err
	}
	if actorID != farmer.ID && actorID != expert.ID {
		return nil, ErrForbidden
	}
	sender, recipient := farmer, expert
	if actorID == expert.ID {
		sender, recipient = expert, farmer
	}

	messageType, content, stored, err := g.resolveContent(ctx, sender.Username, input, messageMediaFolder, models.IsClientMessageType)
	if err != nil {
		return nil, err
	}

	session, created, err := g.sessions.ResolveOrCreate(ctx, farmer.ID, expert.ID, input.RequestID)
	if err != nil {
		g.releaseMedia(ctx, stored)
		return nil, err
	}

	unlock := g.locks.Lock(session.ID)
	defer unlock()

	message, err := g.sessions.AppendMessage(ctx, session.ID, sender.ID, messageType, content)
	if err != nil {
		g.releaseMedia(ctx, stored)
		return nil, err
	}

	if created {
		g.notifier.PublishToUser(recipient.ID, EventPrivateSessionStarted, SessionStartedEvent{
			SessionID:      session.ID,
			RequestID:      session.RequestID,
			FarmerID:       farmer.ID,
			ExpertID:       expert.ID,
			FarmerUsername: farmer.Username,
			ExpertUsername: expert.Username,
			StartedBy:      sender.ID,
			Message:        message,
		})
	}
	g.notifier.PublishToSession(session.ID, EventNewPrivateMessage, MessageEvent{
		Message:        *message,
		SenderUsername: sender.Username,
	})
	g.notifier.PublishToUser(sender.ID, EventMessageStatusUpdate, statusEvent(*message))

	return &SendResult{Session: session, Message: message, Created: created}, nil
}

// GetMessages returns the pair's session history and marks everything the
// caller has not read as read, emitting one status event per message.
func (g *Gateway) GetMessages(
	ctx context.Context,
	actorID int64,
	farmerUsername string,
	expertUsername string,
	requestID *int64,
	limit int,
	offset int,
) (*MessagePage, error) {
	farmer, expert, err := g.pair(ctx, farmerUsername, expertUsername)
	if err != nil {
		return nil, err
	}
	if actorID != farmer.ID && actorID != expert.ID {
		return nil, ErrForbidden
	}

	session, err := g.sessions.FindActiveOrLatest(ctx, farmer.ID, expert.ID, requestID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return g.SessionMessages(ctx, actorID, session.ID, limit, offset)
}

// SessionMessages is GetMessages addressed by session id.
func (g *Gateway) SessionMessages(
	ctx context.Context,
	actorID int64,
	sessionID int64,
	limit int,
	offset int,
) (*MessagePage, error) {
	unlock := g.locks.Lock(sessionID)
	defer unlock()

	var (
		session *models.Session
		changed []models.Message
	)
	err := g.store.WithTx(ctx, func(repos repository.Repositories) error {
		var err error
		session, err = repos.Sessions.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.IsParticipant(actorID) {
			return ErrForbidden
		}
		changed, err = g.delivery.MarkSessionRead(ctx, repos, sessionID, actorID)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}

	messages, total, err := g.sessions.ListMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}

	for _, message := range changed {
		g.publishStatus(message)
	}

	return &MessagePage{Session: session, Messages: messages, Total: total}, nil
}

// UpdateMessageStatus advances one message on behalf of its recipient.
// Moves that are not forward are ignored and emit nothing.
func (g *Gateway) UpdateMessageStatus(
	ctx context.Context,
	actorID int64,
	messageID int64,
	status string,
) (*models.Message, error) {
	current, err := g.store.Repos().Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, storageError(err)
	}

	unlock := g.locks.Lock(current.SessionID)
	defer unlock()

	message, changed, err := g.delivery.Advance(ctx, g.store.Repos(), messageID, actorID, status)
	if err != nil {
		return nil, err
	}
	if changed {
		g.publishStatus(*message)
	}
	return message, nil
}

func (g *Gateway) MarkMessageRead(ctx context.Context, actorID, messageID int64) (*models.Message, error) {
	return g.UpdateMessageStatus(ctx, actorID, messageID, models.MessageStatusRead)
}

// UpdateCallStatus records the outcome of a call as a call_status message.
func (g *Gateway) UpdateCallStatus(
	ctx context.Context,
	actorID int64,
	sessionID int64,
	callType string,
	status string,
) (*models.Message, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if _, ok := callStatuses[status]; !ok {
		return nil, ErrInvalidContent
	}
	if callType != "" && !models.IsCallType(callType) {
		return nil, ErrInvalidContent
	}

	unlock := g.locks.Lock(sessionID)
	defer unlock()

	message, err := g.sessions.AppendMessage(ctx, sessionID, actorID, models.MessageTypeCallStatus, status)
	if err != nil {
		return nil, err
	}

	g.notifier.PublishToSession(sessionID, EventCallStatusUpdate, CallStatusEvent{
		SessionID: sessionID,
		MessageID: message.ID,
		SenderID:  actorID,
		CallType:  callType,
		Status:    status,
		CreatedAt: message.CreatedAt,
	})
	return message, nil
}

func (g *Gateway) EndSession(ctx context.Context, actorID, sessionID int64) (*models.Session, error) {
	unlock := g.locks.Lock(sessionID)
	defer unlock()

	expert, err := g.user(ctx, actorID)
	if err != nil {
		return nil, err
	}

	notice := fmt.Sprintf("Session ended by %s", expert.Username)
	session, message, err := g.sessions.EndSession(ctx, sessionID, actorID, notice)
	if err != nil {
		return nil, err
	}

	g.notifier.PublishToSession(sessionID, EventNewPrivateMessage, MessageEvent{
		Message:        *message,
		SenderUsername: expert.Username,
	})
	g.notifier.PublishToUser(session.FarmerID, EventSessionEnded, SessionNoticeEvent{
		SessionID: sessionID,
		Message:   "The session was ended by the expert.",
	})
	g.notifier.PublishToUser(session.ExpertID, EventSessionEnded, SessionNoticeEvent{
		SessionID: sessionID,
		Message:   "You ended the session.",
	})
	g.log.Info().Int64("session_id", sessionID).Int64("expert_id", actorID).Msg("session ended")

	return session, nil
}

func (g *Gateway) DeleteSession(ctx context.Context, actorID, sessionID int64) error {
	unlock := g.locks.Lock(sessionID)
	defer unlock()

	session, messages, err := g.sessions.DeleteSession(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	for _, message := range messages {
		if models.IsMediaType(message.Type) {
			g.releaseMedia(ctx, message.Content)
		}
	}

	deletedBy := g.username(ctx, actorID)
	for _, recipientID := range []int64{session.FarmerID, session.ExpertID} {
		text := fmt.Sprintf("The session was deleted by %s.", deletedBy)
		if recipientID == actorID {
			text = "You deleted the session."
		}
		g.notifier.PublishToUser(recipientID, EventSessionDeleted, SessionNoticeEvent{
			SessionID: sessionID,
			Message:   text,
		})
	}
	g.notifier.DropSession(sessionID)
	g.log.Info().Int64("session_id", sessionID).Int64("deleted_by", actorID).Int("messages", len(messages)).Msg("session deleted")

	return nil
}

// DeleteMessage removes a message posted by actorID.
func (g *Gateway) DeleteMessage(ctx context.Context, actorID, messageID int64) error {
	current, err := g.store.Repos().Messages.GetByID(ctx, messageID)
	if err != nil {
		return storageError(err)
	}

	unlock := g.locks.Lock(current.SessionID)
	defer unlock()

	message, err := g.sessions.DeleteMessage(ctx, messageID, actorID)
	if err != nil {
		return err
	}
	if models.IsMediaType(message.Type) {
		g.releaseMedia(ctx, message.Content)
	}

	g.notifier.PublishToSession(message.SessionID, EventMessageDeleted, MessageDeletedEvent{
		MessageID: message.ID,
		SessionID: message.SessionID,
	})
	return nil
}

// JoinSession checks that actorID may subscribe to the session's events.
func (g *Gateway) JoinSession(ctx context.Context, actorID, sessionID int64) (*models.Session, error) {
	session, err := g.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(actorID) {
		return nil, ErrForbidden
	}
	return session, nil
}

func (g *Gateway) ListSessions(ctx context.Context, actorID int64) ([]models.SessionSummary, error) {
	return g.sessions.ListSessions(ctx, actorID)
}

func (g *Gateway) Presence(ctx context.Context, userID int64) (*models.Presence, error) {
	return g.presence.Presence(ctx, userID)
}

func (g *Gateway) publishStatus(message models.Message) {
	event := statusEvent(message)
	g.notifier.PublishToSession(message.SessionID, EventMessageStatusUpdate, event)
	g.notifier.PublishToUser(message.SenderID, EventMessageStatusUpdate, event)
}

func (g *Gateway) user(ctx context.Context, userID int64) (*models.User, error) {
	user, err := g.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return user, nil
}

func (g *Gateway) username(ctx context.Context, userID int64) string {
	user, err := g.user(ctx, userID)
	if err != nil {
		g.log.Warn().Err(err).Int64("user_id", userID).Msg("username lookup failed")
		return "your contact"
	}
	return user.Username
}

// pair resolves both usernames and checks their roles.
func (g *Gateway) pair(ctx context.Context, farmerUsername, expertUsername string) (*models.User, *models.User, error) {
	users := g.store.Repos().Users
	farmer, err := users.GetByUsername(ctx, farmerUsername)
	if err != nil {
		return nil, nil, storageError(err)
	}
	expert, err := users.GetByUsername(ctx, expertUsername)
	if err != nil {
		return nil, nil, storageError(err)
	}
	if farmer.Role != models.RoleFarmer || expert.Role != models.RoleExpert {
		return nil, nil, ErrNotFound
	}
	return farmer, expert, nil
}

// resolveContent validates input and stores any upload. stored is the
// reference of a freshly written upload, released again if the write that
// follows fails.
func (g *Gateway) resolveContent(
	ctx context.Context,
	senderName string,
	input MessageInput,
	folder string,
	allowed func(string) bool,
) (messageType string, content string, stored string, err error) {
	if input.Upload != nil {
		ext, kind, err := validateUpload(input.Upload)
		if err != nil {
			return "", "", "", err
		}
		if !allowed(kind) {
			return "", "", "", ErrInvalidContent
		}
		if g.media == nil {
			return "", "", "", ErrStorageUnavailable
		}
		ref, err := g.media.Store(ctx, input.Upload.Data, ext, folder)
		if err != nil {
			return "", "", "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return kind, ref, ref, nil
	}

	messageType = strings.ToLower(strings.TrimSpace(input.Type))
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !allowed(messageType) {
		return "", "", "", ErrInvalidContent
	}

	switch {
	case models.IsCallType(messageType):
		return messageType, fmt.Sprintf("%s started by %s", messageType, senderName), "", nil
	case models.IsCallSignalType(messageType):
		if strings.TrimSpace(input.Content) == "" {
			return "", "", "", ErrInvalidContent
		}
		return messageType, input.Content, "", nil
	default:
		content = strings.TrimSpace(input.Content)
		if content == "" {
			return "", "", "", ErrInvalidContent
		}
		return messageType, content, "", nil
	}
}

func (g *Gateway) releaseMedia(ctx context.Context, ref string) {
	if ref == "" || g.media == nil {
		return
	}
	if err := g.media.Delete(context.WithoutCancel(ctx), ref); err != nil {
		g.log.Warn().Err(err).Str("ref", ref).Msg("media cleanup failed")
	}
}

func isRequestType(messageType string) bool {
	return messageType == models.MessageTypeText || models.IsMediaType(messageType)
}
