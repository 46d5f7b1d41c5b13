package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uriel-Ondo/agro/internal/models"
)

func (e *testEnv) openRequest(t *testing.T, content string) *models.PublicRequest {
	t.Helper()
	request, err := e.gateway.CreatePublicRequest(e.ctx, e.farmer.ID, models.RoleFarmer, MessageInput{
		Type:    models.MessageTypeText,
		Content: content,
	})
	require.NoError(t, err)
	return request
}

func TestRespondToRequestOpensSession(t *testing.T) {
	env := newTestEnv(t)
	request := env.openRequest(t, "blight?")

	result, err := env.gateway.RespondToRequest(env.ctx, env.expert.ID, models.RoleExpert, request.ID, MessageInput{})
	require.NoError(t, err)

	stored, err := env.store.Repos().Requests.GetByID(env.ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, stored.Responded)

	assert.Equal(t, env.farmer.ID, result.Session.FarmerID)
	assert.Equal(t, env.expert.ID, result.Session.ExpertID)
	assert.Equal(t, models.SessionStatusActive, result.Session.Status)
	require.NotNil(t, result.Session.RequestID)
	assert.Equal(t, request.ID, *result.Session.RequestID)

	messages, total, err := env.store.Repos().Messages.ListBySession(env.ctx, result.Session.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, env.expert.ID, messages[0].SenderID)
	assert.Equal(t, defaultResponseContent, messages[0].Content)

	started := env.notifier.named(EventPrivateSessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "user", started[0].scope)
	assert.Equal(t, env.farmer.ID, started[0].id)
}

func TestRespondToRequestTwiceIsAlreadyHandled(t *testing.T) {
	env := newTestEnv(t)
	request := env.openRequest(t, "blight?")
	other := env.addUser(t, "dr_owusu", models.RoleExpert)

	_, err := env.gateway.RespondToRequest(env.ctx, env.expert.ID, models.RoleExpert, request.ID, MessageInput{})
	require.NoError(t, err)

	_, err = env.gateway.RespondToRequest(env.ctx, other.ID, models.RoleExpert, request.ID, MessageInput{})
	assert.ErrorIs(t, err, ErrAlreadyHandled)

	summaries, err := env.gateway.ListSessions(env.ctx, env.farmer.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestRespondToRequestConcurrentlyCreatesOneSession(t *testing.T) {
	env := newTestEnv(t)
	request := env.openRequest(t, "blight?")
	experts := []*models.User{env.expert, env.addUser(t, "dr_owusu", models.RoleExpert), env.addUser(t, "dr_ama", models.RoleExpert)}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for _, expert := range experts {
		wg.Add(1)
		go func(expertID int64) {
			defer wg.Done()
			_, err := env.gateway.RespondToRequest(env.ctx, expertID, models.RoleExpert, request.ID, MessageInput{Content: "on it"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyHandled)
		}(expert.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	summaries, err := env.gateway.ListSessions(env.ctx, env.farmer.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestRespondToRequestErrors(t *testing.T) {
	env := newTestEnv(t)
	request := env.openRequest(t, "blight?")

	_, err := env.gateway.RespondToRequest(env.ctx, env.farmer.ID, models.RoleFarmer, request.ID, MessageInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.gateway.RespondToRequest(env.ctx, env.expert.ID, models.RoleExpert, 404, MessageInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageStatusFollowsRecipientPresence(t *testing.T) {
	env := newTestEnv(t)

	offline := env.send(t, env.expert, "check the lower leaves")
	assert.Equal(t, models.MessageStatusSent, offline.Message.Status)

	require.NoError(t, env.presence.Connect(env.ctx, env.farmer.ID))
	online := env.send(t, env.expert, "and send a photo")
	assert.Equal(t, models.MessageStatusReceived, online.Message.Status)
}

func TestSendMessageLazilyCreatesSessionAndNotifiesRecipient(t *testing.T) {
	env := newTestEnv(t)

	result := env.send(t, env.farmer, "hello doctor")
	assert.True(t, result.Created)

	started := env.notifier.named(EventPrivateSessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, env.expert.ID, started[0].id)

	newMessages := env.notifier.named(EventNewPrivateMessage)
	require.Len(t, newMessages, 1)
	assert.Equal(t, "session", newMessages[0].scope)
	assert.Equal(t, result.Session.ID, newMessages[0].id)
	event := newMessages[0].data.(MessageEvent)
	assert.Equal(t, "fatou", event.SenderUsername)

	statuses := env.notifier.named(EventMessageStatusUpdate)
	require.Len(t, statuses, 1)
	assert.Equal(t, "user", statuses[0].scope)
	assert.Equal(t, env.farmer.ID, statuses[0].id)

	again := env.send(t, env.expert, "hello fatou")
	assert.False(t, again.Created)
	assert.Equal(t, result.Session.ID, again.Session.ID)
	assert.Len(t, env.notifier.named(EventPrivateSessionStarted), 1)
}

func TestSendMessageFromOutsiderIsForbiddenAndCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	outsider := env.addUser(t, "kwame", models.RoleFarmer)

	_, err := env.gateway.SendMessage(env.ctx, outsider.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	session, err := env.gateway.sessions.FindActiveOrLatest(env.ctx, env.farmer.ID, env.expert.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestSendMessageUnknownUsernameIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, "nobody", MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.gateway.SendMessage(env.ctx, env.farmer.ID, env.expert.Username, env.farmer.Username, MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound, "roles must match the path")
}

func TestSendMessageContentRules(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		input MessageInput
	}{
		{name: "empty text", input: MessageInput{Type: models.MessageTypeText, Content: "   "}},
		{name: "unknown type", input: MessageInput{Type: "sticker", Content: "x"}},
		{name: "server only type", input: MessageInput{Type: models.MessageTypeSessionEnded, Content: "x"}},
		{name: "empty signal", input: MessageInput{Type: models.MessageTypeVideoCallSignal}},
		{name: "media without reference", input: MessageInput{Type: models.MessageTypeImage}},
		{name: "disallowed upload", input: MessageInput{Upload: &Upload{Filename: "notes.pdf", Data: []byte("%PDF")}}},
		{name: "empty upload", input: MessageInput{Upload: &Upload{Filename: "leaf.png"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, tc.input)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestSendMessageUploadInfersKind(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"leaf.JPG":   models.MessageTypeImage,
		"field.mp4":  models.MessageTypeVideo,
		"voice.wav":  models.MessageTypeAudio,
		"voice2.mp3": models.MessageTypeAudio,
	}
	for filename, kind := range cases {
		result, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{
			Type:   models.MessageTypeText,
			Upload: &Upload{Filename: filename, Data: []byte("blob")},
		})
		require.NoError(t, err, filename)
		assert.Equal(t, kind, result.Message.Type, filename)
		assert.Contains(t, env.media.stored, result.Message.Content)
	}
}

func TestSendMessageUploadFailureIsStorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.media.failErr = errors.New("bucket offline")

	_, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{
		Upload: &Upload{Filename: "leaf.png", Data: []byte("png")},
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestSendCallGeneratesContent(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.gateway.SendMessage(env.ctx, env.expert.ID, env.farmer.Username, env.expert.Username, MessageInput{
		Type: models.MessageTypeVideoCall,
	})
	require.NoError(t, err)
	assert.Equal(t, "video_call started by dr_mensah", result.Message.Content)

	signal, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{
		Type:    models.MessageTypeVideoCallSignal,
		Content: ` {"sdp":"v=0"} `,
	})
	require.NoError(t, err)
	assert.Equal(t, ` {"sdp":"v=0"} `, signal.Message.Content, "signal payloads are opaque")
}

func TestFarmerCannotPostAfterCompletionButExpertCan(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.farmer, "my maize is wilting")

	_, err := env.gateway.EndSession(env.ctx, env.expert.ID, result.Session.ID)
	require.NoError(t, err)

	before, _, err := env.store.Repos().Messages.ListBySession(env.ctx, result.Session.ID, 0, 0)
	require.NoError(t, err)

	_, err = env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "one more thing"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	after, _, err := env.store.Repos().Messages.ListBySession(env.ctx, result.Session.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "no message persisted")

	closing, err := env.gateway.SendMessage(env.ctx, env.expert.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "follow up next week"})
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, closing.Session.ID)
}

func TestEndSessionTwiceIsAlreadyCompleted(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.farmer, "hello")

	_, err := env.gateway.EndSession(env.ctx, env.farmer.ID, result.Session.ID)
	assert.ErrorIs(t, err, ErrForbidden, "farmers cannot end sessions")

	ended, err := env.gateway.EndSession(env.ctx, env.expert.ID, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, ended.Status)

	_, err = env.gateway.EndSession(env.ctx, env.expert.ID, result.Session.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	events := env.notifier.named(EventSessionEnded)
	require.Len(t, events, 2, "one per participant, no duplicate on the second call")
	recipients := []int64{events[0].id, events[1].id}
	assert.ElementsMatch(t, []int64{env.farmer.ID, env.expert.ID}, recipients)
	for _, event := range events {
		notice := event.data.(SessionNoticeEvent)
		if event.id == env.farmer.ID {
			assert.Equal(t, "The session was ended by the expert.", notice.Message)
		} else {
			assert.Equal(t, "You ended the session.", notice.Message)
		}
	}

	messages, _, err := env.store.Repos().Messages.ListBySession(env.ctx, result.Session.ID, 0, 0)
	require.NoError(t, err)
	last := messages[len(messages)-1]
	assert.Equal(t, models.MessageTypeSessionEnded, last.Type)
	assert.Equal(t, env.expert.ID, last.SenderID)
}

func TestOfflineMessageBecomesReadWhenFarmerOpensSession(t *testing.T) {
	env := newTestEnv(t)

	sent := env.send(t, env.expert, "spray neem oil")
	require.Equal(t, models.MessageStatusSent, sent.Message.Status)
	env.notifier.reset()

	require.NoError(t, env.presence.Connect(env.ctx, env.farmer.ID))
	page, err := env.gateway.GetMessages(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, models.MessageStatusRead, page.Messages[0].Status)
	assert.Equal(t, models.MessageStatusRead, env.message(t, sent.Message.ID).Status)

	statuses := env.notifier.named(EventMessageStatusUpdate)
	require.Len(t, statuses, 2)
	scopes := map[string]int64{}
	for _, status := range statuses {
		scopes[status.scope] = status.id
		assert.Equal(t, sent.Message.ID, status.data.(StatusEvent).MessageID)
	}
	assert.Equal(t, sent.Session.ID, scopes["session"])
	assert.Equal(t, env.expert.ID, scopes["user"])

	env.notifier.reset()
	_, err = env.gateway.GetMessages(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, env.notifier.named(EventMessageStatusUpdate), "second read finds nothing unread")
}

func TestGetMessagesEmitsOneEventPerTransitionedMessage(t *testing.T) {
	env := newTestEnv(t)
	first := env.send(t, env.farmer, "one")
	env.send(t, env.farmer, "two")
	env.send(t, env.expert, "reply")
	env.notifier.reset()

	_, err := env.gateway.SessionMessages(env.ctx, env.expert.ID, first.Session.ID, 0, 0)
	require.NoError(t, err)

	sessionScoped := 0
	for _, event := range env.notifier.named(EventMessageStatusUpdate) {
		if event.scope == "session" {
			sessionScoped++
		}
	}
	assert.Equal(t, 2, sessionScoped)
}

func TestGetMessagesOrderIsStable(t *testing.T) {
	env := newTestEnv(t)
	for _, content := range []string{"a", "b", "c", "d"} {
		env.send(t, env.farmer, content)
	}

	first, err := env.gateway.GetMessages(env.ctx, env.expert.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	require.NoError(t, err)
	second, err := env.gateway.GetMessages(env.ctx, env.expert.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	require.NoError(t, err)

	require.Len(t, first.Messages, 4)
	for i := range first.Messages {
		assert.Equal(t, first.Messages[i].ID, second.Messages[i].ID)
	}
	assert.Equal(t, "a", first.Messages[0].Content)
	assert.Equal(t, "d", first.Messages[3].Content)
}

func TestGetMessagesErrors(t *testing.T) {
	env := newTestEnv(t)
	outsider := env.addUser(t, "kwame", models.RoleFarmer)

	_, err := env.gateway.GetMessages(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	result := env.send(t, env.farmer, "hello")
	_, err = env.gateway.GetMessages(env.ctx, outsider.ID, env.farmer.Username, env.expert.Username, nil, 0, 0)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.gateway.SessionMessages(env.ctx, outsider.ID, result.Session.ID, 0, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStatusIsMonotonicAndRecipientOnly(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.farmer, "hello")

	_, err := env.gateway.UpdateMessageStatus(env.ctx, env.farmer.ID, result.Message.ID, models.MessageStatusRead)
	assert.ErrorIs(t, err, ErrForbidden, "sender cannot mark own message")

	read, err := env.gateway.MarkMessageRead(env.ctx, env.expert.ID, result.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, read.Status)
	env.notifier.reset()

	back, err := env.gateway.UpdateMessageStatus(env.ctx, env.expert.ID, result.Message.ID, models.MessageStatusReceived)
	require.NoError(t, err, "backward move is a no-op")
	assert.Equal(t, models.MessageStatusRead, back.Status)
	assert.Equal(t, models.MessageStatusRead, env.message(t, result.Message.ID).Status)
	assert.Empty(t, env.notifier.named(EventMessageStatusUpdate))

	_, err = env.gateway.UpdateMessageStatus(env.ctx, env.expert.ID, result.Message.ID, models.MessageStatusSent)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestConcurrentSendsAreTotallyOrdered(t *testing.T) {
	env := newTestEnv(t)
	seed := env.send(t, env.farmer, "seed")
	env.notifier.reset()

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []*models.User{env.farmer, env.expert} {
		wg.Add(1)
		go func(sender *models.User) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := env.gateway.SendMessage(env.ctx, sender.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "msg"})
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	messages, total, err := env.store.Repos().Messages.ListBySession(env.ctx, seed.Session.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2*perSender+1, total)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i-1].CreatedAt.Before(messages[i].CreatedAt))
		assert.Less(t, messages[i-1].ID, messages[i].ID)
	}

	published := env.notifier.named(EventNewPrivateMessage)
	require.Len(t, published, 2*perSender)
	for i := 1; i < len(published); i++ {
		prev := published[i-1].data.(MessageEvent)
		next := published[i].data.(MessageEvent)
		assert.Less(t, prev.ID, next.ID, "publication follows persistence order")
	}
}

func TestConcurrentFirstMessagesShareOneSession(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	results := make([]*SendResult, 2)
	for i, sender := range []*models.User{env.farmer, env.expert} {
		wg.Add(1)
		go func(i int, sender *models.User) {
			defer wg.Done()
			result, err := env.gateway.SendMessage(env.ctx, sender.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "first"})
			assert.NoError(t, err)
			results[i] = result
		}(i, sender)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].Session.ID, results[1].Session.ID)
	assert.NotEqual(t, results[0].Created, results[1].Created)
}

func TestDeleteSessionCascadesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{
		Upload: &Upload{Filename: "leaf.png", Data: []byte("png")},
	})
	require.NoError(t, err)
	env.send(t, env.expert, "looks like rust")

	outsider := env.addUser(t, "kwame", models.RoleFarmer)
	assert.ErrorIs(t, env.gateway.DeleteSession(env.ctx, outsider.ID, result.Session.ID), ErrForbidden)

	require.NoError(t, env.gateway.DeleteSession(env.ctx, env.farmer.ID, result.Session.ID))

	_, total, err := env.store.Repos().Messages.ListBySession(env.ctx, result.Session.ID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	_, err = env.gateway.sessions.GetSession(env.ctx, result.Session.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Contains(t, env.media.deleted, result.Message.Content)
	assert.Equal(t, []int64{result.Session.ID}, env.notifier.dropped)

	events := env.notifier.named(EventSessionDeleted)
	require.Len(t, events, 2)
	for _, event := range events {
		notice := event.data.(SessionNoticeEvent)
		if event.id == env.farmer.ID {
			assert.Equal(t, "You deleted the session.", notice.Message)
		} else {
			assert.Equal(t, "The session was deleted by fatou.", notice.Message)
		}
	}

	assert.ErrorIs(t, env.gateway.DeleteSession(env.ctx, env.farmer.ID, result.Session.ID), ErrNotFound)
}

func TestDeleteMessageOnlyBySender(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.farmer, "typo")

	assert.ErrorIs(t, env.gateway.DeleteMessage(env.ctx, env.expert.ID, result.Message.ID), ErrForbidden)
	require.NoError(t, env.gateway.DeleteMessage(env.ctx, env.farmer.ID, result.Message.ID))
	assert.ErrorIs(t, env.gateway.DeleteMessage(env.ctx, env.farmer.ID, result.Message.ID), ErrNotFound)

	deleted := env.notifier.named(EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, result.Session.ID, deleted[0].id)
}

func TestUpdateCallStatus(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.expert, "calling you")

	message, err := env.gateway.UpdateCallStatus(env.ctx, env.farmer.ID, result.Session.ID, models.MessageTypeAudioCall, "Accepted")
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeCallStatus, message.Type)
	assert.Equal(t, "accepted", message.Content)

	events := env.notifier.named(EventCallStatusUpdate)
	require.Len(t, events, 1)
	assert.Equal(t, "session", events[0].scope)
	assert.Equal(t, "accepted", events[0].data.(CallStatusEvent).Status)

	_, err = env.gateway.UpdateCallStatus(env.ctx, env.farmer.ID, result.Session.ID, "", "ringing")
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestCreatePublicRequestNotifiesOnlineExperts(t *testing.T) {
	env := newTestEnv(t)
	offlineExpert := env.addUser(t, "dr_owusu", models.RoleExpert)
	require.NoError(t, env.presence.Connect(env.ctx, env.expert.ID))

	_, err := env.gateway.CreatePublicRequest(env.ctx, env.expert.ID, models.RoleExpert, MessageInput{Content: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	request, err := env.gateway.CreatePublicRequest(env.ctx, env.farmer.ID, models.RoleFarmer, MessageInput{
		Upload: &Upload{Filename: "leaf.jpeg", Data: []byte("jpeg")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, request.Type)

	events := env.notifier.named(EventNewPublicRequest)
	require.Len(t, events, 1)
	assert.Equal(t, env.expert.ID, events[0].id)
	assert.NotEqual(t, offlineExpert.ID, events[0].id)

	_, err = env.gateway.CreatePublicRequest(env.ctx, env.farmer.ID, models.RoleFarmer, MessageInput{Type: models.MessageTypeVideoCall})
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestListPublicRequestsByRole(t *testing.T) {
	env := newTestEnv(t)
	answered := env.openRequest(t, "first")
	env.openRequest(t, "second")
	_, err := env.gateway.RespondToRequest(env.ctx, env.expert.ID, models.RoleExpert, answered.ID, MessageInput{})
	require.NoError(t, err)

	own, err := env.gateway.ListPublicRequests(env.ctx, env.farmer.ID, models.RoleFarmer)
	require.NoError(t, err)
	assert.Len(t, own, 2)

	open, err := env.gateway.ListPublicRequests(env.ctx, env.expert.ID, models.RoleExpert)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "second", open[0].Content)
	assert.Equal(t, "fatou", open[0].Username)

	_, err = env.gateway.ListPublicRequests(env.ctx, env.expert.ID, "admin")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJoinSessionRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	result := env.send(t, env.farmer, "hello")
	outsider := env.addUser(t, "kwame", models.RoleFarmer)

	session, err := env.gateway.JoinSession(env.ctx, env.expert.ID, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, session.ID)

	_, err = env.gateway.JoinSession(env.ctx, outsider.ID, result.Session.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.gateway.JoinSession(env.ctx, env.expert.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageFailureIsStorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, env.farmer, "hello")
	env.store.FailWith(errors.New("connection reset"))

	_, err := env.gateway.ListSessions(env.ctx, env.farmer.ID)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = env.gateway.SendMessage(env.ctx, env.farmer.ID, env.farmer.Username, env.expert.Username, MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
