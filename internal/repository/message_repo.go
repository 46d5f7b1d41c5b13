package repository

import (
	"context"

	"github.com/Uriel-Ondo/agro/internal/models"
)

const messageColumns = `id, session_id, sender_id, type, content, status, created_at`

// statusRankSQL mirrors models.StatusRank so monotonic checks happen in the UPDATE.
const statusRankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'received' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var message models.Message
	err := row.Scan(
		&message.ID,
		&message.SessionID,
		&message.SenderID,
		&message.Type,
		&message.Content,
		&message.Status,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &message, nil
}

func (r *MessageRepository) collect(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	query := `
		INSERT INTO messages (session_id, sender_id, type, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(
		ctx,
		query,
		input.SessionID,
		input.SenderID,
		input.Type,
		input.Content,
		input.Status,
	))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

// ListBySession returns messages oldest first. A non-positive limit returns
// every message of the session. A negative offset reads from the start.
func (r *MessageRepository) ListBySession(
	ctx context.Context,
	sessionID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE session_id = $1
	`, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	args := []any{sessionID}
	if offset < 0 {
		offset = 0
	}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	messages, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MarkSessionRead moves every message the reader did not author to "read"
// and returns the rows that actually changed, oldest first.
func (r *MessageRepository) MarkSessionRead(
	ctx context.Context,
	sessionID int64,
	readerID int64,
) ([]models.Message, error) {
	query := `
		WITH updated AS (
			UPDATE messages
			SET status = 'read'
			WHERE session_id = $1
			  AND sender_id <> $2
			  AND status <> 'read'
			RETURNING ` + messageColumns + `
		)
		SELECT ` + messageColumns + `
		FROM updated
		ORDER BY created_at ASC, id ASC
	`
	return r.collect(ctx, query, sessionID, readerID)
}

// AdvanceStatus moves a message forward to status on behalf of readerID. It
// returns ErrNotFound when the reader authored the message or the message
// is already at or beyond status.
func (r *MessageRepository) AdvanceStatus(
	ctx context.Context,
	messageID int64,
	readerID int64,
	status string,
) (*models.Message, error) {
	query := `
		UPDATE messages
		SET status = $3
		WHERE id = $1
		  AND sender_id <> $2
		  AND ` + statusRankSQL + ` < $4
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, messageID, readerID, status, models.StatusRank(status)))
}

func (r *MessageRepository) DeleteBySession(ctx context.Context, sessionID int64) ([]models.Message, error) {
	query := `
		DELETE FROM messages
		WHERE session_id = $1
		RETURNING ` + messageColumns
	return r.collect(ctx, query, sessionID)
}

func (r *MessageRepository) Delete(ctx context.Context, messageID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
