package services

import (
	"context"
	"errors"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

// SessionStore owns session and message lifecycle rules. Every mutation
// runs in a transaction that row-locks the session first, which keeps
// message created_at consistent with id order across instances.
type SessionStore struct {
	store    repository.Store
	delivery *DeliveryMachine
}

func NewSessionStore(store repository.Store, delivery *DeliveryMachine) *SessionStore {
	return &SessionStore{
		store:    store,
		delivery: delivery,
	}
}

func (s *SessionStore) CreateSession(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (*models.Session, error) {
	session, err := s.store.Repos().Sessions.Create(ctx, repository.CreateSessionInput{
		FarmerID:  farmerID,
		ExpertID:  expertID,
		RequestID: requestID,
	})
	if err != nil {
		return nil, storageError(err)
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	session, err := s.store.Repos().Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, storageError(err)
	}
	return session, nil
}

// FindActiveOrLatest returns the newest active session of the pair, falling
// back to the newest session of any status. Both lookups are narrowed to
// requestID when it is set. It returns nil when the pair never had one.
func (s *SessionStore) FindActiveOrLatest(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (*models.Session, error) {
	return findActiveOrLatest(ctx, s.store.Repos(), farmerID, expertID, requestID)
}

func findActiveOrLatest(
	ctx context.Context,
	repos repository.Repositories,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (*models.Session, error) {
	session, err := repos.Sessions.FindActive(ctx, farmerID, expertID, requestID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err)
	}

	session, err = repos.Sessions.FindLatest(ctx, farmerID, expertID, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err)
	}
	return session, nil
}

// ResolveOrCreate is FindActiveOrLatest followed by a create when the pair
// has no session yet. The pair lock makes concurrent first messages agree
// on one session. created reports whether a new row was inserted.
func (s *SessionStore) ResolveOrCreate(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (session *models.Session, created bool, err error) {
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Sessions.LockPair(ctx, farmerID, expertID); err != nil {
			return err
		}

		existing, err := findActiveOrLatest(ctx, repos, farmerID, expertID, requestID)
		if err != nil {
			return err
		}
		if existing != nil {
			session = existing
			return nil
		}

		session, err = repos.Sessions.Create(ctx, repository.CreateSessionInput{
			FarmerID:  farmerID,
			ExpertID:  expertID,
			RequestID: requestID,
		})
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, storageError(err)
	}
	return session, created, nil
}

// AppendMessage stores a message from senderID. Farmers cannot post into a
// completed session; experts can.
func (s *SessionStore) AppendMessage(
	ctx context.Context,
	sessionID int64,
	senderID int64,
	messageType string,
	content string,
) (*models.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(senderID) {
		return nil, ErrForbidden
	}
	status := s.delivery.InitialStatus(ctx, session.Counterpart(senderID))

	var message *models.Message
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		locked, err := repos.Sessions.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		message, err = appendLocked(ctx, repos, locked, senderID, messageType, content, status)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return message, nil
}

func appendLocked(
	ctx context.Context,
	repos repository.Repositories,
	session *models.Session,
	senderID int64,
	messageType string,
	content string,
	status string,
) (*models.Message, error) {
	if !session.IsParticipant(senderID) {
		return nil, ErrForbidden
	}
	if session.Status == models.SessionStatusCompleted && senderID == session.FarmerID {
		return nil, ErrSessionClosed
	}
	return repos.Messages.Create(ctx, repository.CreateMessageInput{
		SessionID: session.ID,
		SenderID:  senderID,
		Type:      messageType,
		Content:   content,
		Status:    status,
	})
}

// OpenedSession is the result of an expert answering a public request.
type OpenedSession struct {
	Request *models.PublicRequest
	Session *models.Session
	Message *models.Message
}

// OpenFromRequest flips the request to responded, creates its session and
// stores the expert's first message, all in one transaction.
func (s *SessionStore) OpenFromRequest(
	ctx context.Context,
	requestID int64,
	expertID int64,
	messageType string,
	content string,
) (*OpenedSession, error) {
	request, err := s.store.Repos().Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, storageError(err)
	}
	if request.Responded {
		return nil, ErrAlreadyHandled
	}
	status := s.delivery.InitialStatus(ctx, request.UserID)

	opened := &OpenedSession{}
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		locked, err := repos.Requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if locked.Responded {
			return ErrAlreadyHandled
		}

		opened.Request, err = repos.Requests.MarkResponded(ctx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAlreadyHandled
		}
		if err != nil {
			return err
		}

		opened.Session, err = repos.Sessions.Create(ctx, repository.CreateSessionInput{
			FarmerID:  locked.UserID,
			ExpertID:  expertID,
			RequestID: &locked.ID,
		})
		if err != nil {
			return err
		}

		opened.Message, err = appendLocked(ctx, repos, opened.Session, expertID, messageType, content, status)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return opened, nil
}

// EndSession completes the session and stores notice as a session_ended
// message from the expert. A second call fails with ErrAlreadyCompleted.
func (s *SessionStore) EndSession(
	ctx context.Context,
	sessionID int64,
	requesterID int64,
	notice string,
) (*models.Session, *models.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.ExpertID != requesterID {
		return nil, nil, ErrForbidden
	}
	status := s.delivery.InitialStatus(ctx, session.FarmerID)

	var ended *models.Session
	var message *models.Message
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		locked, err := repos.Sessions.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if locked.Status == models.SessionStatusCompleted {
			return ErrAlreadyCompleted
		}

		ended, err = repos.Sessions.UpdateStatusIfCurrent(
			ctx,
			sessionID,
			models.SessionStatusActive,
			models.SessionStatusCompleted,
		)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAlreadyCompleted
		}
		if err != nil {
			return err
		}

		message, err = appendLocked(ctx, repos, ended, requesterID, models.MessageTypeSessionEnded, notice, status)
		return err
	})
	if err != nil {
		return nil, nil, storageError(err)
	}
	return ended, message, nil
}

// DeleteSession removes the session and its messages. It returns the
// deleted session and messages so callers can release media and notify.
func (s *SessionStore) DeleteSession(
	ctx context.Context,
	sessionID int64,
	requesterID int64,
) (*models.Session, []models.Message, error) {
	var deleted *models.Session
	var messages []models.Message
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		session, err := repos.Sessions.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.IsParticipant(requesterID) {
			return ErrForbidden
		}

		messages, err = repos.Messages.DeleteBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := repos.Sessions.Delete(ctx, sessionID); err != nil {
			return err
		}
		deleted = session
		return nil
	})
	if err != nil {
		return nil, nil, storageError(err)
	}
	return deleted, messages, nil
}

// DeleteMessage removes a single message. Only its sender may do so.
func (s *SessionStore) DeleteMessage(ctx context.Context, messageID, requesterID int64) (*models.Message, error) {
	var deleted *models.Message
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		message, err := repos.Messages.GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if message.SenderID != requesterID {
			return ErrForbidden
		}
		if _, err := repos.Sessions.GetByIDForUpdate(ctx, message.SessionID); err != nil {
			return err
		}
		if err := repos.Messages.Delete(ctx, messageID); err != nil {
			return err
		}
		deleted = message
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}
	return deleted, nil
}

func (s *SessionStore) ListMessages(
	ctx context.Context,
	sessionID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	messages, total, err := s.store.Repos().Messages.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return messages, total, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, participantID int64) ([]models.SessionSummary, error) {
	summaries, err := s.store.Repos().Sessions.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, storageError(err)
	}
	return summaries, nil
}
