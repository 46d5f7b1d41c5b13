package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type sessionRepo struct {
	*binding
}

func (r *sessionRepo) Create(ctx context.Context, input repository.CreateSessionInput) (*models.Session, error) {
	var out *models.Session
	err := r.run(ctx, func(st *state) error {
		st.nextSessionID++
		session := models.Session{
			ID:        st.nextSessionID,
			FarmerID:  input.FarmerID,
			ExpertID:  input.ExpertID,
			RequestID: copyID(input.RequestID),
			Status:    models.SessionStatusActive,
			CreatedAt: st.now(),
		}
		st.sessions[session.ID] = session
		out = &session
		return nil
	})
	return out, err
}

func (r *sessionRepo) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	var out *models.Session
	err := r.run(ctx, func(st *state) error {
		session, ok := st.sessions[sessionID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &session
		return nil
	})
	return out, err
}

func (r *sessionRepo) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	return r.GetByID(ctx, sessionID)
}

func (r *sessionRepo) find(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
	activeOnly bool,
) (*models.Session, error) {
	var out *models.Session
	err := r.run(ctx, func(st *state) error {
		for _, session := range st.sessions {
			if session.FarmerID != farmerID || session.ExpertID != expertID {
				continue
			}
			if activeOnly && session.Status != models.SessionStatusActive {
				continue
			}
			if requestID != nil && (session.RequestID == nil || *session.RequestID != *requestID) {
				continue
			}
			if out == nil || newestFirst(session.CreatedAt, out.CreatedAt, session.ID, out.ID) {
				candidate := session
				out = &candidate
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r *sessionRepo) FindActive(ctx context.Context, farmerID, expertID int64, requestID *int64) (*models.Session, error) {
	return r.find(ctx, farmerID, expertID, requestID, true)
}

func (r *sessionRepo) FindLatest(ctx context.Context, farmerID, expertID int64, requestID *int64) (*models.Session, error) {
	return r.find(ctx, farmerID, expertID, requestID, false)
}

// LockPair is a no-op: transactions already hold the store mutex.
func (r *sessionRepo) LockPair(ctx context.Context, _, _ int64) error {
	return ctx.Err()
}

func (r *sessionRepo) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	nextStatus string,
) (*models.Session, error) {
	var out *models.Session
	err := r.run(ctx, func(st *state) error {
		session, ok := st.sessions[sessionID]
		if !ok || session.Status != currentStatus {
			return repository.ErrNotFound
		}
		session.Status = nextStatus
		st.sessions[sessionID] = session
		out = &session
		return nil
	})
	return out, err
}

func (r *sessionRepo) Delete(ctx context.Context, sessionID int64) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.sessions[sessionID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.sessions, sessionID)
		for id, message := range st.messages {
			if message.SessionID == sessionID {
				delete(st.messages, id)
			}
		}
		return nil
	})
}

func (r *sessionRepo) ListForParticipant(ctx context.Context, participantID int64) ([]models.SessionSummary, error) {
	summaries := make([]models.SessionSummary, 0)
	err := r.run(ctx, func(st *state) error {
		for _, session := range st.sessions {
			if !session.IsParticipant(participantID) {
				continue
			}
			summary := models.SessionSummary{
				Session:        session,
				FarmerUsername: st.users[session.FarmerID].Username,
				ExpertUsername: st.users[session.ExpertID].Username,
			}
			for _, message := range st.messages {
				if message.SessionID != session.ID {
					continue
				}
				if message.SenderID != participantID && message.Status != models.MessageStatusRead {
					summary.UnreadCount++
				}
				last := summary.LastMessage
				if last == nil || newestFirst(message.CreatedAt, last.CreatedAt, message.ID, last.ID) {
					candidate := message
					summary.LastMessage = &candidate
				}
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	sort.Slice(summaries, func(i, j int) bool {
		return newestFirst(activity(summaries[i]), activity(summaries[j]), summaries[i].ID, summaries[j].ID)
	})
	return summaries, err
}

func activity(summary models.SessionSummary) time.Time {
	if summary.LastMessage != nil {
		return summary.LastMessage.CreatedAt
	}
	return summary.CreatedAt
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	value := *id
	return &value
}
