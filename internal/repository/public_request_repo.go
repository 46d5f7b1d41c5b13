package repository

import (
	"context"

	"github.com/Uriel-Ondo/agro/internal/models"
)

type PublicRequestRepository struct {
	db DBTX
}

func NewPublicRequestRepository(db DBTX) *PublicRequestRepository {
	return &PublicRequestRepository{db: db}
}

func scanPublicRequest(row rowScanner, withUsername bool) (*models.PublicRequest, error) {
	var request models.PublicRequest
	dest := []any{
		&request.ID,
		&request.UserID,
		&request.Type,
		&request.Content,
		&request.Responded,
		&request.CreatedAt,
	}
	if withUsername {
		dest = append(dest, &request.Username)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &request, nil
}

func (r *PublicRequestRepository) Create(
	ctx context.Context,
	input CreatePublicRequestInput,
) (*models.PublicRequest, error) {
	query := `
		INSERT INTO public_requests (user_id, request_type, content, responded)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, user_id, request_type, content, responded, created_at
	`
	return scanPublicRequest(r.db.QueryRow(ctx, query, input.UserID, input.Type, input.Content), false)
}

func (r *PublicRequestRepository) GetByID(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	query := `
		SELECT id, user_id, request_type, content, responded, created_at
		FROM public_requests
		WHERE id = $1
	`
	return scanPublicRequest(r.db.QueryRow(ctx, query, requestID), false)
}

func (r *PublicRequestRepository) GetByIDForUpdate(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	query := `
		SELECT id, user_id, request_type, content, responded, created_at
		FROM public_requests
		WHERE id = $1
		FOR UPDATE
	`
	return scanPublicRequest(r.db.QueryRow(ctx, query, requestID), false)
}

// MarkResponded flips responded to true. It returns ErrNotFound when the
// request is missing or was already answered.
func (r *PublicRequestRepository) MarkResponded(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	query := `
		UPDATE public_requests
		SET responded = TRUE
		WHERE id = $1 AND responded = FALSE
		RETURNING id, user_id, request_type, content, responded, created_at
	`
	return scanPublicRequest(r.db.QueryRow(ctx, query, requestID), false)
}

func (r *PublicRequestRepository) list(ctx context.Context, query string, args ...any) ([]models.PublicRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]models.PublicRequest, 0)
	for rows.Next() {
		request, err := scanPublicRequest(rows, true)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *PublicRequestRepository) ListByUser(ctx context.Context, userID int64) ([]models.PublicRequest, error) {
	return r.list(ctx, `
		SELECT pr.id, pr.user_id, pr.request_type, pr.content, pr.responded, pr.created_at, u.username
		FROM public_requests pr
		JOIN users u ON u.id = pr.user_id
		WHERE pr.user_id = $1
		ORDER BY pr.created_at DESC, pr.id DESC
	`, userID)
}

func (r *PublicRequestRepository) ListOpen(ctx context.Context) ([]models.PublicRequest, error) {
	return r.list(ctx, `
		SELECT pr.id, pr.user_id, pr.request_type, pr.content, pr.responded, pr.created_at, u.username
		FROM public_requests pr
		JOIN users u ON u.id = pr.user_id
		WHERE NOT pr.responded
		ORDER BY pr.created_at DESC, pr.id DESC
	`)
}
