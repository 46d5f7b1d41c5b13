package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository/memory"
)

type published struct {
	scope string
	id    int64
	event string
	data  any
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []published
	dropped []int64
}

func (n *recordingNotifier) PublishToUser(userID int64, event string, data any) int {
	n.record(published{scope: "user", id: userID, event: event, data: data})
	return 1
}

func (n *recordingNotifier) PublishToSession(sessionID int64, event string, data any) int {
	n.record(published{scope: "session", id: sessionID, event: event, data: data})
	return 1
}

func (n *recordingNotifier) DropSession(sessionID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropped = append(n.dropped, sessionID)
}

func (n *recordingNotifier) record(p published) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, p)
}

func (n *recordingNotifier) named(event string) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]published, 0)
	for _, p := range n.events {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type memoryMedia struct {
	mu      sync.Mutex
	stored  map[string][]byte
	deleted []string
	failErr error
}

func newMemoryMedia() *memoryMedia {
	return &memoryMedia{stored: make(map[string][]byte)}
}

func (m *memoryMedia) Store(_ context.Context, data []byte, ext string, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	ref := "mem://" + folder + "/" + objectName(ext)
	m.stored[ref] = data
	return ref, nil
}

func (m *memoryMedia) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stored, ref)
	m.deleted = append(m.deleted, ref)
	return nil
}

type testEnv struct {
	ctx      context.Context
	store    *memory.Store
	presence *PresenceTracker
	notifier *recordingNotifier
	media    *memoryMedia
	gateway  *Gateway
	farmer   *models.User
	expert   *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	presence := NewPresenceTracker(store, "test-instance")
	notifier := &recordingNotifier{}
	media := newMemoryMedia()
	env := &testEnv{
		ctx:      context.Background(),
		store:    store,
		presence: presence,
		notifier: notifier,
		media:    media,
		gateway:  NewGateway(store, presence, notifier, media),
	}
	env.farmer = env.addUser(t, "fatou", models.RoleFarmer)
	env.expert = env.addUser(t, "dr_mensah", models.RoleExpert)
	return env
}

func (e *testEnv) addUser(t *testing.T, username, role string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: username + "@example.com", PasswordHash: "x", Role: role}
	require.NoError(t, e.store.Repos().Users.CreateUser(e.ctx, user))
	return user
}

func (e *testEnv) send(t *testing.T, sender *models.User, content string) *SendResult {
	t.Helper()
	result, err := e.gateway.SendMessage(e.ctx, sender.ID, e.farmer.Username, e.expert.Username, MessageInput{
		Type:    models.MessageTypeText,
		Content: content,
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) message(t *testing.T, id int64) *models.Message {
	t.Helper()
	message, err := e.store.Repos().Messages.GetByID(e.ctx, id)
	require.NoError(t, err)
	return message
}
