// Package memory is an in-process repository.Store used by tests and by
// the server when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type state struct {
	users         map[int64]models.User
	requests      map[int64]models.PublicRequest
	sessions      map[int64]models.Session
	messages      map[int64]models.Message
	connections   map[connectionKey]connectionLease
	nextUserID    int64
	nextRequestID int64
	nextSessionID int64
	nextMessageID int64
	lastCreatedAt time.Time
}

func (s *state) clone() state {
	out := *s
	out.users = make(map[int64]models.User, len(s.users))
	for k, v := range s.users {
		out.users[k] = v
	}
	out.requests = make(map[int64]models.PublicRequest, len(s.requests))
	for k, v := range s.requests {
		out.requests[k] = v
	}
	out.sessions = make(map[int64]models.Session, len(s.sessions))
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	out.messages = make(map[int64]models.Message, len(s.messages))
	for k, v := range s.messages {
		out.messages[k] = v
	}
	out.connections = make(map[connectionKey]connectionLease, len(s.connections))
	for k, v := range s.connections {
		out.connections[k] = v
	}
	return out
}

// now hands out strictly increasing timestamps so created_at agrees with id order.
func (s *state) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastCreatedAt) {
		t = s.lastCreatedAt.Add(time.Microsecond)
	}
	s.lastCreatedAt = t
	return t
}

// Store keeps every table in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration and restores a snapshot on error.
type Store struct {
	mu sync.Mutex
	st state

	failMu   sync.RWMutex
	failWith error
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st: state{
			users:       make(map[int64]models.User),
			requests:    make(map[int64]models.PublicRequest),
			sessions:    make(map[int64]models.Session),
			messages:    make(map[int64]models.Message),
			connections: make(map[connectionKey]connectionLease),
		},
	}
}

// FailWith makes every subsequent repository call return err. Passing nil
// restores normal behavior.
func (s *Store) FailWith(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failWith = err
}

func (s *Store) failure() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failWith
}

func (s *Store) Repos() repository.Repositories {
	return s.repos(false)
}

func (s *Store) repos(inTx bool) repository.Repositories {
	b := &binding{store: s, inTx: inTx}
	return repository.Repositories{
		Users:    &userRepo{b},
		Sessions: &sessionRepo{b},
		Messages: &messageRepo{b},
		Requests: &requestRepo{b},
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.failure(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.repos(true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// binding ties a repository to the store and records whether the caller
// already holds the store mutex.
type binding struct {
	store *Store
	inTx  bool
}

func (b *binding) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.store.failure(); err != nil {
		return err
	}
	if !b.inTx {
		b.store.mu.Lock()
		defer b.store.mu.Unlock()
	}
	return fn(&b.store.st)
}

func sortMessages(messages []models.Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

func newestFirst(a, b time.Time, idA, idB int64) bool {
	if a.Equal(b) {
		return idA > idB
	}
	return a.After(b)
}
