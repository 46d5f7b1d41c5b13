package memory

import (
	"context"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type messageRepo struct {
	*binding
}

func (r *messageRepo) Create(ctx context.Context, input repository.CreateMessageInput) (*models.Message, error) {
	var out *models.Message
	err := r.run(ctx, func(st *state) error {
		if _, ok := st.sessions[input.SessionID]; !ok {
			return repository.ErrNotFound
		}
		st.nextMessageID++
		message := models.Message{
			ID:        st.nextMessageID,
			SessionID: input.SessionID,
			SenderID:  input.SenderID,
			Type:      input.Type,
			Content:   input.Content,
			Status:    input.Status,
			CreatedAt: st.now(),
		}
		st.messages[message.ID] = message
		out = &message
		return nil
	})
	return out, err
}

func (r *messageRepo) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	var out *models.Message
	err := r.run(ctx, func(st *state) error {
		message, ok := st.messages[messageID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &message
		return nil
	})
	return out, err
}

func sessionMessages(st *state, sessionID int64) []models.Message {
	messages := make([]models.Message, 0)
	for _, message := range st.messages {
		if message.SessionID == sessionID {
			messages = append(messages, message)
		}
	}
	sortMessages(messages)
	return messages
}

func (r *messageRepo) ListBySession(
	ctx context.Context,
	sessionID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	var out []models.Message
	var total int
	err := r.run(ctx, func(st *state) error {
		all := sessionMessages(st, sessionID)
		total = len(all)
		if limit <= 0 {
			out = all
			return nil
		}
		if offset < 0 {
			offset = 0
		}
		if offset >= len(all) {
			out = []models.Message{}
			return nil
		}
		end := offset + limit
		if end > len(all) || end < offset {
			end = len(all)
		}
		out = all[offset:end]
		return nil
	})
	return out, total, err
}

func (r *messageRepo) MarkSessionRead(ctx context.Context, sessionID, readerID int64) ([]models.Message, error) {
	changed := make([]models.Message, 0)
	err := r.run(ctx, func(st *state) error {
		for _, message := range sessionMessages(st, sessionID) {
			if message.SenderID == readerID || message.Status == models.MessageStatusRead {
				continue
			}
			message.Status = models.MessageStatusRead
			st.messages[message.ID] = message
			changed = append(changed, message)
		}
		return nil
	})
	return changed, err
}

func (r *messageRepo) AdvanceStatus(
	ctx context.Context,
	messageID int64,
	readerID int64,
	status string,
) (*models.Message, error) {
	var out *models.Message
	err := r.run(ctx, func(st *state) error {
		message, ok := st.messages[messageID]
		if !ok || message.SenderID == readerID {
			return repository.ErrNotFound
		}
		if models.StatusRank(message.Status) >= models.StatusRank(status) {
			return repository.ErrNotFound
		}
		message.Status = status
		st.messages[messageID] = message
		out = &message
		return nil
	})
	return out, err
}

func (r *messageRepo) DeleteBySession(ctx context.Context, sessionID int64) ([]models.Message, error) {
	var removed []models.Message
	err := r.run(ctx, func(st *state) error {
		removed = sessionMessages(st, sessionID)
		for _, message := range removed {
			delete(st.messages, message.ID)
		}
		return nil
	})
	return removed, err
}

func (r *messageRepo) Delete(ctx context.Context, messageID int64) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.messages[messageID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.messages, messageID)
		return nil
	})
}
