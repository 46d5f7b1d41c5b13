package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Uriel-Ondo/agro/internal/models"
)

// ErrNotFound is returned when a lookup or conditional update matched no row.
var ErrNotFound = errors.New("record not found")

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type CreateSessionInput struct {
	FarmerID  int64
	ExpertID  int64
	RequestID *int64
}

type CreateMessageInput struct {
	SessionID int64
	SenderID  int64
	Type      string
	Content   string
	Status    string
}

type CreatePublicRequestInput struct {
	UserID  int64
	Type    string
	Content string
}

type UserRepo interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	SetPresence(ctx context.Context, id int64, online bool, at time.Time) (bool, error)
	GetPresence(ctx context.Context, id int64) (*models.Presence, error)
	ListOnlineByRole(ctx context.Context, role string) ([]models.User, error)

	// Push-channel connections are counted per server instance. The
	// methods below lock the user row and must run inside WithTx.
	AddConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error)
	RemoveConnection(ctx context.Context, instanceID string, userID int64, at time.Time) (bool, error)
	ReleaseInstance(ctx context.Context, instanceID string, at time.Time) (int64, error)
	TouchInstance(ctx context.Context, instanceID string, at time.Time) error
	StaleInstances(ctx context.Context, before time.Time) ([]string, error)
}

type SessionRepo interface {
	Create(ctx context.Context, input CreateSessionInput) (*models.Session, error)
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error)
	FindActive(ctx context.Context, farmerID, expertID int64, requestID *int64) (*models.Session, error)
	FindLatest(ctx context.Context, farmerID, expertID int64, requestID *int64) (*models.Session, error)
	LockPair(ctx context.Context, farmerID, expertID int64) error
	UpdateStatusIfCurrent(ctx context.Context, sessionID int64, currentStatus, nextStatus string) (*models.Session, error)
	Delete(ctx context.Context, sessionID int64) error
	ListForParticipant(ctx context.Context, participantID int64) ([]models.SessionSummary, error)
}

type MessageRepo interface {
	Create(ctx context.Context, input CreateMessageInput) (*models.Message, error)
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)
	ListBySession(ctx context.Context, sessionID int64, limit, offset int) ([]models.Message, int, error)
	MarkSessionRead(ctx context.Context, sessionID, readerID int64) ([]models.Message, error)
	AdvanceStatus(ctx context.Context, messageID, readerID int64, status string) (*models.Message, error)
	DeleteBySession(ctx context.Context, sessionID int64) ([]models.Message, error)
	Delete(ctx context.Context, messageID int64) error
}

type PublicRequestRepo interface {
	Create(ctx context.Context, input CreatePublicRequestInput) (*models.PublicRequest, error)
	GetByID(ctx context.Context, requestID int64) (*models.PublicRequest, error)
	GetByIDForUpdate(ctx context.Context, requestID int64) (*models.PublicRequest, error)
	MarkResponded(ctx context.Context, requestID int64) (*models.PublicRequest, error)
	ListByUser(ctx context.Context, userID int64) ([]models.PublicRequest, error)
	ListOpen(ctx context.Context) ([]models.PublicRequest, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Users    UserRepo
	Sessions SessionRepo
	Messages MessageRepo
	Requests PublicRequestRepo
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Users:    NewUserRepository(db),
		Sessions: NewSessionRepository(db),
		Messages: NewMessageRepository(db),
		Requests: NewPublicRequestRepository(db),
	}
}

func (s *PostgresStore) Repos() Repositories {
	return NewRepositories(s.pool)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
