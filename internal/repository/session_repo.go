package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Uriel-Ondo/agro/internal/models"
)

const sessionColumns = `id, farmer_id, expert_id, request_id, status, created_at`

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.FarmerID,
		&session.ExpertID,
		&session.RequestID,
		&session.Status,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	query := `
		INSERT INTO sessions (farmer_id, expert_id, request_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING ` + sessionColumns
	return scanSession(r.db.QueryRow(ctx, query, input.FarmerID, input.ExpertID, input.RequestID))
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) FindActive(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE farmer_id = $1
		  AND expert_id = $2
		  AND status = 'active'
		  AND ($3::bigint IS NULL OR request_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanSession(r.db.QueryRow(ctx, query, farmerID, expertID, requestID))
}

func (r *SessionRepository) FindLatest(
	ctx context.Context,
	farmerID int64,
	expertID int64,
	requestID *int64,
) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE farmer_id = $1
		  AND expert_id = $2
		  AND ($3::bigint IS NULL OR request_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanSession(r.db.QueryRow(ctx, query, farmerID, expertID, requestID))
}

// LockPair takes a transaction-scoped advisory lock on the farmer/expert pair.
func (r *SessionRepository) LockPair(ctx context.Context, farmerID, expertID int64) error {
	key := fmt.Sprintf("session-pair:%d:%d", farmerID, expertID)
	_, err := r.db.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key)
	return err
}

func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	nextStatus string,
) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, nextStatus))
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SessionRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.SessionSummary, error) {
	query := `
		SELECT
			s.id,
			s.farmer_id,
			s.expert_id,
			s.request_id,
			s.status,
			s.created_at,
			f.username,
			e.username,
			lm.id,
			lm.sender_id,
			lm.type,
			lm.content,
			lm.status,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM sessions s
		JOIN users f ON f.id = s.farmer_id
		JOIN users e ON e.id = s.expert_id
		LEFT JOIN LATERAL (
			SELECT id, sender_id, type, content, status, created_at
			FROM messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE session_id = s.id
			  AND sender_id <> $1
			  AND status <> 'read'
		) uc ON TRUE
		WHERE s.farmer_id = $1 OR s.expert_id = $1
		ORDER BY COALESCE(lm.created_at, s.created_at) DESC, s.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.SessionSummary, 0)
	for rows.Next() {
		var summary models.SessionSummary
		var messageID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageType sql.NullString
		var messageContent sql.NullString
		var messageStatus sql.NullString
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.FarmerID,
			&summary.ExpertID,
			&summary.RequestID,
			&summary.Status,
			&summary.CreatedAt,
			&summary.FarmerUsername,
			&summary.ExpertUsername,
			&messageID,
			&messageSenderID,
			&messageType,
			&messageContent,
			&messageStatus,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.Message{
				ID:        messageID.Int64,
				SessionID: summary.ID,
				SenderID:  messageSenderID.Int64,
				Type:      messageType.String,
				Content:   messageContent.String,
				Status:    messageStatus.String,
				CreatedAt: messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}
