package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type userRepo struct {
	*binding
}

func (r *userRepo) CreateUser(ctx context.Context, user *models.User) error {
	return r.run(ctx, func(st *state) error {
		for _, existing := range st.users {
			if existing.Username == user.Username {
				return repository.ErrNotFound
			}
		}
		st.nextUserID++
		now := time.Now().UTC()
		user.ID = st.nextUserID
		user.IsOnline = false
		user.LastActive = now
		user.CreatedAt = now
		st.users[user.ID] = *user
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := r.run(ctx, func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &user
		return nil
	})
	return out, err
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var out *models.User
	err := r.run(ctx, func(st *state) error {
		for _, user := range st.users {
			if user.Username == username {
				found := user
				out = &found
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *userRepo) SetPresence(ctx context.Context, id int64, online bool, at time.Time) (bool, error) {
	var updated bool
	err := r.run(ctx, func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return nil
		}
		user.IsOnline = online
		user.LastActive = at.UTC()
		st.users[id] = user
		updated = true
		return nil
	})
	return updated, err
}

func (r *userRepo) GetPresence(ctx context.Context, id int64) (*models.Presence, error) {
	var out *models.Presence
	err := r.run(ctx, func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &models.Presence{UserID: user.ID, IsOnline: user.IsOnline, LastActive: user.LastActive}
		for key, lease := range st.connections {
			if key.userID == id {
				out.Connections += lease.count
			}
		}
		return nil
	})
	return out, err
}

func (r *userRepo) ListOnlineByRole(ctx context.Context, role string) ([]models.User, error) {
	users := make([]models.User, 0)
	err := r.run(ctx, func(st *state) error {
		for _, user := range st.users {
			if user.IsOnline && user.Role == role {
				users = append(users, user)
			}
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, err
}

type connectionKey struct {
	instanceID string
	userID     int64
}

type connectionLease struct {
	count     int
	heartbeat time.Time
}

func (r *userRepo) AddConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error) {
	var known bool
	err := r.run(ctx, func(st *state) error {
		user, ok := st.users[userID]
		if !ok {
			return nil
		}
		user.IsOnline = true
		user.LastActive = at.UTC()
		st.users[userID] = user

		key := connectionKey{instanceID: instanceID, userID: userID}
		lease := st.connections[key]
		lease.count++
		lease.heartbeat = at.UTC()
		st.connections[key] = lease
		known = true
		return nil
	})
	return known, err
}

func (r *userRepo) RemoveConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error) {
	var offline bool
	err := r.run(ctx, func(st *state) error {
		key := connectionKey{instanceID: instanceID, userID: userID}
		lease, ok := st.connections[key]
		if !ok {
			return nil
		}
		lease.count--
		if lease.count > 0 {
			st.connections[key] = lease
			return nil
		}
		delete(st.connections, key)
		offline = settleOffline(st, userID, at) > 0
		return nil
	})
	return offline, err
}

func (r *userRepo) ReleaseInstance(ctx context.Context, instanceID string, at time.Time) (int64, error) {
	var count int64
	err := r.run(ctx, func(st *state) error {
		for key := range st.connections {
			if key.instanceID != instanceID {
				continue
			}
			delete(st.connections, key)
			count += settleOffline(st, key.userID, at)
		}
		return nil
	})
	return count, err
}

func (r *userRepo) TouchInstance(ctx context.Context, instanceID string, at time.Time) error {
	return r.run(ctx, func(st *state) error {
		for key, lease := range st.connections {
			if key.instanceID == instanceID {
				lease.heartbeat = at.UTC()
				st.connections[key] = lease
			}
		}
		return nil
	})
}

func (r *userRepo) StaleInstances(ctx context.Context, before time.Time) ([]string, error) {
	instances := make([]string, 0)
	err := r.run(ctx, func(st *state) error {
		seen := make(map[string]bool)
		for key, lease := range st.connections {
			if lease.heartbeat.Before(before) && !seen[key.instanceID] {
				seen[key.instanceID] = true
				instances = append(instances, key.instanceID)
			}
		}
		return nil
	})
	sort.Strings(instances)
	return instances, err
}

// settleOffline takes userID offline unless another instance still holds a
// connection for them. It returns 1 when the user went offline.
func settleOffline(st *state, userID int64, at time.Time) int64 {
	for key := range st.connections {
		if key.userID == userID {
			return 0
		}
	}
	user, ok := st.users[userID]
	if !ok {
		return 0
	}
	user.IsOnline = false
	user.LastActive = at.UTC()
	st.users[userID] = user
	return 1
}
