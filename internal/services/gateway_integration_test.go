package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func TestPostgresGatewayRespondAndReadFlow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := repository.NewPostgresStore(pool)
	notifier := &recordingNotifier{}
	gateway := NewGateway(store, NewPresenceTracker(store, "test-instance"), notifier, nil)

	farmer := createTestAccount(t, ctx, store, models.RoleFarmer)
	expert := createTestAccount(t, ctx, store, models.RoleExpert)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, farmer.ID, expert.ID) })

	request, err := gateway.CreatePublicRequest(ctx, farmer.ID, models.RoleFarmer, MessageInput{Content: "blight?"})
	if err != nil {
		t.Fatalf("CreatePublicRequest: %v", err)
	}

	opened, err := gateway.RespondToRequest(ctx, expert.ID, models.RoleExpert, request.ID, MessageInput{Content: "send a photo"})
	if err != nil {
		t.Fatalf("RespondToRequest: %v", err)
	}
	if opened.Message.Status != models.MessageStatusSent {
		t.Fatalf("expected sent status for offline farmer, got %q", opened.Message.Status)
	}

	if _, err := gateway.RespondToRequest(ctx, expert.ID, models.RoleExpert, request.ID, MessageInput{}); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("expected ErrAlreadyHandled, got %v", err)
	}

	page, err := gateway.GetMessages(ctx, farmer.ID, farmer.Username, expert.Username, &request.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Status != models.MessageStatusRead {
		t.Fatalf("expected one read message, got %+v", page.Messages)
	}
}

func TestPostgresGatewayConcurrentSendsStayOrdered(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := repository.NewPostgresStore(pool)
	gateway := NewGateway(store, NewPresenceTracker(store, "test-instance"), &recordingNotifier{}, nil)

	farmer := createTestAccount(t, ctx, store, models.RoleFarmer)
	expert := createTestAccount(t, ctx, store, models.RoleExpert)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, farmer.ID, expert.ID) })

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, sender := range []*models.User{farmer, expert} {
			wg.Add(1)
			go func(senderID int64) {
				defer wg.Done()
				_, err := gateway.SendMessage(ctx, senderID, farmer.Username, expert.Username, MessageInput{Content: "hi"})
				errs <- err
			}(sender.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	summaries, err := gateway.ListSessions(ctx, farmer.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected a single lazily created session, got %d", len(summaries))
	}

	messages, _, err := store.Repos().Messages.ListBySession(ctx, summaries[0].ID, 0, 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(messages) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].ID <= messages[i-1].ID || messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d: %+v then %+v", i, messages[i-1], messages[i])
		}
	}
}

func TestPostgresPresenceAcrossInstances(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := repository.NewPostgresStore(pool)

	farmer := createTestAccount(t, ctx, store, models.RoleFarmer)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, farmer.ID) })

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	first := NewPresenceTracker(store, "it-a-"+suffix)
	second := NewPresenceTracker(store, "it-b-"+suffix)

	if err := first.Connect(ctx, farmer.ID); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	if err := second.Connect(ctx, farmer.ID); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := second.Disconnect(ctx, farmer.ID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	presence, err := first.Presence(ctx, farmer.ID)
	if err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if !presence.IsOnline || presence.Connections != 1 {
		t.Fatalf("expected the farmer online with one connection, got %+v", presence)
	}

	if err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	online, err := first.IsOnline(ctx, farmer.ID)
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if online {
		t.Fatal("expected the farmer offline once the holding instance stopped")
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func createTestAccount(t *testing.T, ctx context.Context, store repository.Store, role string) *models.User {
	t.Helper()

	suffix := time.Now().UnixNano()
	user := &models.User{
		Username:     fmt.Sprintf("relay-%s-%d", role, suffix),
		Email:        fmt.Sprintf("relay-test-%s-%d@example.com", role, suffix),
		PasswordHash: "test-hash",
		Role:         role,
	}
	if err := store.Repos().Users.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", role, err)
	}
	return user
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	if _, err := pool.Exec(ctx, "DELETE FROM sessions WHERE farmer_id = ANY($1) OR expert_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup sessions: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM public_requests WHERE user_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup public requests: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM users WHERE id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup users: %v", err)
	}
}
