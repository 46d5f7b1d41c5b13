package memory

import (
	"context"
	"sort"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type requestRepo struct {
	*binding
}

func (r *requestRepo) Create(
	ctx context.Context,
	input repository.CreatePublicRequestInput,
) (*models.PublicRequest, error) {
	var out *models.PublicRequest
	err := r.run(ctx, func(st *state) error {
		st.nextRequestID++
		request := models.PublicRequest{
			ID:        st.nextRequestID,
			UserID:    input.UserID,
			Type:      input.Type,
			Content:   input.Content,
			CreatedAt: st.now(),
		}
		st.requests[request.ID] = request
		out = &request
		return nil
	})
	return out, err
}

func (r *requestRepo) GetByID(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	var out *models.PublicRequest
	err := r.run(ctx, func(st *state) error {
		request, ok := st.requests[requestID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &request
		return nil
	})
	return out, err
}

func (r *requestRepo) GetByIDForUpdate(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	return r.GetByID(ctx, requestID)
}

func (r *requestRepo) MarkResponded(ctx context.Context, requestID int64) (*models.PublicRequest, error) {
	var out *models.PublicRequest
	err := r.run(ctx, func(st *state) error {
		request, ok := st.requests[requestID]
		if !ok || request.Responded {
			return repository.ErrNotFound
		}
		request.Responded = true
		st.requests[requestID] = request
		out = &request
		return nil
	})
	return out, err
}

func (r *requestRepo) list(ctx context.Context, keep func(models.PublicRequest) bool) ([]models.PublicRequest, error) {
	requests := make([]models.PublicRequest, 0)
	err := r.run(ctx, func(st *state) error {
		for _, request := range st.requests {
			if !keep(request) {
				continue
			}
			request.Username = st.users[request.UserID].Username
			requests = append(requests, request)
		}
		return nil
	})
	sort.Slice(requests, func(i, j int) bool {
		return newestFirst(requests[i].CreatedAt, requests[j].CreatedAt, requests[i].ID, requests[j].ID)
	})
	return requests, err
}

func (r *requestRepo) ListByUser(ctx context.Context, userID int64) ([]models.PublicRequest, error) {
	return r.list(ctx, func(request models.PublicRequest) bool { return request.UserID == userID })
}

func (r *requestRepo) ListOpen(ctx context.Context) ([]models.PublicRequest, error) {
	return r.list(ctx, func(request models.PublicRequest) bool { return !request.Responded })
}
