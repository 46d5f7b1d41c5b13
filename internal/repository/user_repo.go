package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Uriel-Ondo/agro/internal/models"
)

const userColumns = `id, username, email, password_hash, role, is_online, last_active, created_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsOnline,
		&user.LastActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
		RETURNING id, is_online, last_active, created_at
	`
	err := r.db.QueryRow(ctx, query, user.Username, user.Email, user.PasswordHash, user.Role).
		Scan(&user.ID, &user.IsOnline, &user.LastActive, &user.CreatedAt)
	return notFound(err)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRow(ctx, query, username))
}

// SetPresence writes the online flag and last_active together. It reports
// false when no user has the given id.
func (r *UserRepository) SetPresence(ctx context.Context, id int64, online bool, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET is_online = $2, last_active = $3
		WHERE id = $1
	`, id, online, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UserRepository) GetPresence(ctx context.Context, id int64) (*models.Presence, error) {
	var presence models.Presence
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.is_online, u.last_active,
			COALESCE((SELECT SUM(c.connections) FROM user_connections c WHERE c.user_id = u.id), 0)
		FROM users u
		WHERE u.id = $1
	`, id).Scan(&presence.UserID, &presence.IsOnline, &presence.LastActive, &presence.Connections)
	if err != nil {
		return nil, notFound(err)
	}
	return &presence, nil
}

func (r *UserRepository) ListOnlineByRole(ctx context.Context, role string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_online AND role = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// AddConnection counts one more push channel for userID on instanceID and
// marks the user online. It reports false when no user has the given id.
func (r *UserRepository) AddConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET is_online = TRUE, last_active = $2
		WHERE id = $1
	`, userID, at.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_connections (instance_id, user_id, connections, heartbeat_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (instance_id, user_id)
		DO UPDATE SET connections = user_connections.connections + 1, heartbeat_at = EXCLUDED.heartbeat_at
	`, instanceID, userID, at.UTC())
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveConnection releases one push channel of userID on instanceID. The
// user goes offline once no instance holds a connection for them. It
// reports whether this call took the user offline.
func (r *UserRepository) RemoveConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var remaining int
	err = r.db.QueryRow(ctx, `
		UPDATE user_connections
		SET connections = connections - 1
		WHERE instance_id = $1 AND user_id = $2 AND connections > 0
		RETURNING connections
	`, instanceID, userID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	if _, err := r.db.Exec(ctx, `
		DELETE FROM user_connections
		WHERE instance_id = $1 AND user_id = $2 AND connections = 0
	`, instanceID, userID); err != nil {
		return false, err
	}
	offline, err := r.settleOffline(ctx, []int64{userID}, at)
	return offline > 0, err
}

// ReleaseInstance drops every connection instanceID holds and takes users
// left without any connection offline. It returns how many went offline.
func (r *UserRepository) ReleaseInstance(ctx context.Context, instanceID string, at time.Time) (int64, error) {
	if _, err := r.db.Exec(ctx, `
		SELECT u.id
		FROM users u
		JOIN user_connections c ON c.user_id = u.id
		WHERE c.instance_id = $1
		ORDER BY u.id
		FOR UPDATE OF u
	`, instanceID); err != nil {
		return 0, err
	}

	rows, err := r.db.Query(ctx, `
		DELETE FROM user_connections
		WHERE instance_id = $1
		RETURNING user_id
	`, instanceID)
	if err != nil {
		return 0, err
	}
	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, err
	}
	if len(userIDs) == 0 {
		return 0, nil
	}
	return r.settleOffline(ctx, userIDs, at)
}

// settleOffline takes the given users offline unless another connection
// still holds them.
func (r *UserRepository) settleOffline(ctx context.Context, userIDs []int64, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET is_online = FALSE, last_active = $2
		WHERE id = ANY($1)
			AND NOT EXISTS (SELECT 1 FROM user_connections c WHERE c.user_id = users.id)
	`, userIDs, at.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TouchInstance refreshes the heartbeat of every connection instanceID holds.
func (r *UserRepository) TouchInstance(ctx context.Context, instanceID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_connections
		SET heartbeat_at = $2
		WHERE instance_id = $1
	`, instanceID, at.UTC())
	return err
}

// StaleInstances lists instances holding connections whose heartbeat is
// older than before.
func (r *UserRepository) StaleInstances(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT instance_id
		FROM user_connections
		WHERE heartbeat_at < $1
		ORDER BY instance_id
	`, before.UTC())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
