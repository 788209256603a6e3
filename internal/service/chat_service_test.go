package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"glimmer/internal/encryption"
	"glimmer/internal/models"
	"glimmer/internal/notifications"
	"glimmer/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	svc   *ChatService
	db    *gorm.DB
	hub   *notifications.Hub
	store repository.ChatRepository
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Conversation{}, &models.ConversationParticipant{},
		&models.Message{}, &models.Attachment{}, &models.Reaction{},
		&models.MessageEdit{}, &models.MessageDeletion{},
		&models.Story{}, &models.StoryView{}, &models.Notification{},
	))

	cipher, err := encryption.NewCipher("service-test-secret")
	require.NoError(t, err)

	hub := notifications.NewHub(notifications.HubConfig{})
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	store := repository.NewChatRepository(db)
	svc := NewChatService(ChatServiceConfig{
		Store:            store,
		Users:            repository.NewUserRepository(db),
		Stories:          repository.NewStoryRepository(db),
		Notifications:    repository.NewNotificationRepository(db),
		Cipher:           cipher,
		Dispatcher:       notifications.NewLocalDispatcher(hub),
		MessageRateLimit: rateLimit,
	})

	return &testEnv{svc: svc, db: db, hub: hub, store: store}
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    fmt.Sprintf("%s@%s", username, gofakeit.DomainName()),
		Password: "hashed",
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) connect(t *testing.T, userID uint) *notifications.Client {
	t.Helper()
	client, err := e.hub.Register(userID, nil)
	require.NoError(t, err)
	return client
}

func receiveEvent(t *testing.T, c *notifications.Client) notifications.Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev notifications.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return notifications.Event{}
	}
}

func assertNoEvent(t *testing.T, c *notifications.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func appErrCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestStartConversation_Guards(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	banned := &models.User{Username: "banned", Email: "banned@example.com", Password: "x", IsBanned: true}
	require.NoError(t, env.db.Create(banned).Error)

	ctx := context.Background()

	_, _, err := env.svc.StartConversation(ctx, alice.ID, alice.ID)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	_, _, err = env.svc.StartConversation(ctx, alice.ID, 9999)
	assert.Equal(t, "NOT_FOUND", appErrCode(t, err))

	_, _, err = env.svc.StartConversation(ctx, alice.ID, banned.ID)
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))
}

func TestStartConversation_CreatesOnceAndNotifies(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	aliceConn := env.connect(t, alice.ID)
	bobConn := env.connect(t, bob.ID)

	ctx := context.Background()
	conv, created, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	for _, conn := range []*notifications.Client{aliceConn, bobConn} {
		ev := receiveEvent(t, conn)
		assert.Equal(t, notifications.EventConversationCreated, ev.Type)
		assert.Equal(t, conv.ID, ev.ConversationID)
	}

	again, created, err := env.svc.StartConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assertNoEvent(t, aliceConn)
}

func TestSendMessage_NonParticipantLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	mallory := env.createUser(t, "mallory")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       mallory.ID,
		ConversationID: conv.ID,
		Content:        "sneaky",
	})
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))

	var count int64
	require.NoError(t, env.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSendMessage_EndToEnd(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	aliceConn := env.connect(t, alice.ID)
	bobConn := env.connect(t, bob.ID)
	env.hub.JoinConversation(alice.ID, conv.ID)
	env.hub.JoinConversation(bob.ID, conv.ID)

	view, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "hello bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", view.Content)
	assert.Equal(t, models.MessageStatusSent, view.Status)
	assert.True(t, view.IsOwn)

	// Sender devices get SENT; the recipient gets DELIVERED.
	senderEv := receiveEvent(t, aliceConn)
	assert.Equal(t, notifications.EventMessageNew, senderEv.Type)
	var senderView models.MessageView
	require.NoError(t, json.Unmarshal(senderEv.Payload, &senderView))
	assert.Equal(t, models.MessageStatusSent, senderView.Status)

	recipientEv := receiveEvent(t, bobConn)
	var recipientView models.MessageView
	require.NoError(t, json.Unmarshal(recipientEv.Payload, &recipientView))
	assert.Equal(t, "hello bob", recipientView.Content)
	assert.Equal(t, models.MessageStatusDelivered, recipientView.Status)
	assert.False(t, recipientView.IsOwn)

	// The stored row carries only the envelope, never the plaintext.
	var stored models.Message
	require.NoError(t, env.db.First(&stored, view.ID).Error)
	assert.NotEqual(t, "hello bob", stored.Ciphertext)
	assert.NotEmpty(t, stored.Ciphertext)
	assert.NotContains(t, stored.Ciphertext, "hello")
}

func TestSendMessage_ReachesParticipantsWithoutOpenRoom(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Bob is connected but never joined the conversation.
	bobConn := env.connect(t, bob.ID)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "are you there?",
	})
	require.NoError(t, err)

	ev := receiveEvent(t, bobConn)
	assert.Equal(t, notifications.EventMessageNew, ev.Type)
	var view models.MessageView
	require.NoError(t, json.Unmarshal(ev.Payload, &view))
	assert.Equal(t, "are you there?", view.Content)
	assert.Equal(t, models.MessageStatusDelivered, view.Status)

	ev = receiveEvent(t, bobConn)
	assert.Equal(t, notifications.EventConversationsUpdate, ev.Type)
}

func TestSendMessage_ContentLimitCountsRunes(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// 10000 two-byte runes exceed the limit in bytes but not in characters.
	atLimit := strings.Repeat("é", 10000)
	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        atLimit,
	})
	assert.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        atLimit + "x",
	})
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestSendMessage_RateLimitRejectsWithoutPersisting(t *testing.T) {
	env := newTestEnv(t, 3)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.svc.SendMessage(ctx, SendMessageInput{
			SenderID:       alice.ID,
			ConversationID: conv.ID,
			Content:        fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "one too many",
	})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RATE_LIMITED", appErr.Code)
	assert.Greater(t, appErr.RetryAfter, time.Duration(0))

	var count int64
	require.NoError(t, env.db.Model(&models.Message{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	// The other participant's budget is untouched.
	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       bob.ID,
		ConversationID: conv.ID,
		Content:        "still fine",
	})
	assert.NoError(t, err)
}

func TestSendMessage_ReplyMustStayInConversation(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	ctx := context.Background()
	convAB, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convAC, _, err := env.svc.StartConversation(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	original, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: convAB.ID,
		Content:        "in AB",
	})
	require.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: convAC.ID,
		Content:        "cross reply",
		ReplyToID:      &original.ID,
	})
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestFetchMessages_DecryptsAndMarksRead(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.svc.SendMessage(ctx, SendMessageInput{
			SenderID:       alice.ID,
			ConversationID: conv.ID,
			Content:        fmt.Sprintf("note %d", i),
		})
		require.NoError(t, err)
	}

	unread, err := env.store.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, unread)

	views, hasMore, err := env.svc.FetchMessages(ctx, conv.ID, bob.ID, 10, 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, views, 3)
	assert.Equal(t, "note 0", views[0].Content)
	assert.False(t, views[0].IsOwn)

	// The fetch is the read signal; the page already shows the new status.
	for _, v := range views {
		assert.Equal(t, models.MessageStatusRead, v.Status)
		assert.NotNil(t, v.ReadAt)
	}

	unread, err = env.store.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// The sender now sees the read receipt on their own messages.
	views, _, err = env.svc.FetchMessages(ctx, conv.ID, alice.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.True(t, views[0].IsOwn)
	assert.Equal(t, models.MessageStatusRead, views[0].Status)
}

func TestFetchMessages_CorruptEnvelopeRendersPlaceholder(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	view, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "soon to be garbage",
	})
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&models.Message{}).
		Where("id = ?", view.ID).
		Update("ciphertext", "AAAA:BBBB:CCCC").Error)

	views, _, err := env.svc.FetchMessages(ctx, conv.ID, bob.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.PlaceholderUnreadable, views[0].Content)
}

func TestEditMessage_SenderOnlyAndNotDeleted(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	view, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "original",
	})
	require.NoError(t, err)

	_, err = env.svc.EditMessage(ctx, view.ID, bob.ID, "hijacked")
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))

	edited, err := env.svc.EditMessage(ctx, view.ID, alice.ID, "revised")
	require.NoError(t, err)
	assert.Equal(t, "revised", edited.Content)
	assert.True(t, edited.IsEdited)

	require.NoError(t, env.svc.DeleteMessage(ctx, view.ID, alice.ID))
	_, err = env.svc.EditMessage(ctx, view.ID, alice.ID, "too late")
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestDeleteMessage_PlaceholderForEveryone(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	view, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "regrettable",
	})
	require.NoError(t, err)

	err = env.svc.DeleteMessage(ctx, view.ID, bob.ID)
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))

	require.NoError(t, env.svc.DeleteMessage(ctx, view.ID, alice.ID))

	views, _, err := env.svc.FetchMessages(ctx, conv.ID, bob.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.PlaceholderDeleted, views[0].Content)
	assert.True(t, views[0].IsDeleted)
	assert.Nil(t, views[0].Metadata)

	// Ciphertext survives the soft delete.
	var stored models.Message
	require.NoError(t, env.db.First(&stored, view.ID).Error)
	assert.NotEmpty(t, stored.Ciphertext)
}

func TestReactToMessage(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	mallory := env.createUser(t, "mallory")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	view, err := env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       alice.ID,
		ConversationID: conv.ID,
		Content:        "react to me",
	})
	require.NoError(t, err)

	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, env.svc.ReactToMessage(ctx, view.ID, bob.ID, "  ")))
	assert.Equal(t, "FORBIDDEN", appErrCode(t, env.svc.ReactToMessage(ctx, view.ID, mallory.ID, "👀")))

	require.NoError(t, env.svc.ReactToMessage(ctx, view.ID, bob.ID, "👍"))
	require.NoError(t, env.svc.ReactToMessage(ctx, view.ID, bob.ID, "❤️"))

	var reactions []models.Reaction
	require.NoError(t, env.db.Where("message_id = ?", view.ID).Find(&reactions).Error)
	require.Len(t, reactions, 1)
	assert.Equal(t, "❤️", reactions[0].Emoji)

	require.NoError(t, env.svc.RemoveReaction(ctx, view.ID, bob.ID))
	require.NoError(t, env.db.Where("message_id = ?", view.ID).Find(&reactions).Error)
	assert.Empty(t, reactions)
}

func TestSearchMessages(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	contents := []string{"Pizza tonight?", "No thanks", "PIZZA tomorrow then", "sure"}
	var pizzaTonight uint
	for _, content := range contents {
		view, err := env.svc.SendMessage(ctx, SendMessageInput{
			SenderID:       alice.ID,
			ConversationID: conv.ID,
			Content:        content,
		})
		require.NoError(t, err)
		if content == "Pizza tonight?" {
			pizzaTonight = view.ID
		}
	}

	_, err = env.svc.SearchMessages(ctx, conv.ID, bob.ID, "   ", 10)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	results, err := env.svc.SearchMessages(ctx, conv.ID, bob.ID, "pizza", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Deleted messages fall out of search results.
	require.NoError(t, env.svc.DeleteMessage(ctx, pizzaTonight, alice.ID))
	results, err = env.svc.SearchMessages(ctx, conv.ID, bob.ID, "pizza", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	ctx := context.Background()
	convAB, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convAC, _, err := env.svc.StartConversation(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{
		SenderID:       bob.ID,
		ConversationID: convAB.ID,
		Content:        "latest from bob",
	})
	require.NoError(t, err)

	summaries, total, err := env.svc.ListConversations(ctx, alice.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, summaries, 2)

	// Most recently active conversation first, preview decrypted.
	assert.Equal(t, convAB.ID, summaries[0].ConversationID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "latest from bob", summaries[0].LastMessage.Content)
	assert.EqualValues(t, 1, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].OtherParticipant)
	assert.Equal(t, "bob", summaries[0].OtherParticipant.Username)

	assert.Equal(t, convAC.ID, summaries[1].ConversationID)
	assert.Nil(t, summaries[1].LastMessage)
}

func TestTyping_Debounce(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()
	conv, _, err := env.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	bobConn := env.connect(t, bob.ID)
	env.hub.JoinConversation(bob.ID, conv.ID)
	aliceConn := env.connect(t, alice.ID)
	env.hub.JoinConversation(alice.ID, conv.ID)

	require.NoError(t, env.svc.Typing(ctx, conv.ID, alice.ID, "alice", true))
	ev := receiveEvent(t, bobConn)
	assert.Equal(t, notifications.EventTyping, ev.Type)
	// The sender never sees their own typing indicator.
	assertNoEvent(t, aliceConn)

	// A second typing:start inside the debounce window is dropped.
	require.NoError(t, env.svc.Typing(ctx, conv.ID, alice.ID, "alice", true))
	assertNoEvent(t, bobConn)

	// typing:stop is never debounced.
	require.NoError(t, env.svc.Typing(ctx, conv.ID, alice.ID, "alice", false))
	ev = receiveEvent(t, bobConn)
	assert.Equal(t, notifications.EventTyping, ev.Type)
}

func TestReplyToStory(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ctx := context.Background()

	story := &models.Story{
		UserID:    bob.ID,
		MediaURL:  "https://cdn.example.com/s/1.jpg",
		Kind:      models.StoryKindImage,
		Caption:   "sunset",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, env.db.Create(story).Error)

	ownStory := &models.Story{
		UserID:    alice.ID,
		MediaURL:  "https://cdn.example.com/s/2.jpg",
		Kind:      models.StoryKindImage,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, env.db.Create(ownStory).Error)

	expired := &models.Story{
		UserID:    bob.ID,
		MediaURL:  "https://cdn.example.com/s/3.jpg",
		Kind:      models.StoryKindImage,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, env.db.Create(expired).Error)

	_, err := env.svc.ReplyToStory(ctx, ReplyToStoryInput{UserID: alice.ID, StoryID: ownStory.ID, Content: "nice"})
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	_, err = env.svc.ReplyToStory(ctx, ReplyToStoryInput{UserID: alice.ID, StoryID: expired.ID, Content: "late"})
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	_, err = env.svc.ReplyToStory(ctx, ReplyToStoryInput{UserID: alice.ID, StoryID: 9999, Content: "?"})
	assert.Equal(t, "NOT_FOUND", appErrCode(t, err))

	result, err := env.svc.ReplyToStory(ctx, ReplyToStoryInput{UserID: alice.ID, StoryID: story.ID, Content: "gorgeous"})
	require.NoError(t, err)
	assert.True(t, result.IsNewConversation)
	assert.Equal(t, "gorgeous", result.Message.Content)
	require.NotNil(t, result.StoryPreview)
	assert.Equal(t, "story_reply", result.StoryPreview.Type)
	assert.Equal(t, story.ID, result.StoryPreview.StoryID)

	// The message carries the story reference in its metadata.
	var stored models.Message
	require.NoError(t, env.db.First(&stored, result.Message.ID).Error)
	ref := models.ParseStoryReference(stored.Metadata)
	require.NotNil(t, ref)
	assert.Equal(t, story.ID, ref.StoryID)

	// The owner gets a durable inbox entry.
	var notifs []models.Notification
	require.NoError(t, env.db.Where("user_id = ?", bob.ID).Find(&notifs).Error)
	require.Len(t, notifs, 1)
	assert.Equal(t, models.NotificationKindStoryReply, notifs[0].Kind)
	assert.Equal(t, alice.ID, notifs[0].ActorID)

	// Replying again reuses the conversation.
	again, err := env.svc.ReplyToStory(ctx, ReplyToStoryInput{UserID: alice.ID, StoryID: story.ID, Emoji: "🔥"})
	require.NoError(t, err)
	assert.False(t, again.IsNewConversation)
	assert.Equal(t, result.ConversationID, again.ConversationID)
	assert.Equal(t, "story_reaction", again.StoryPreview.Type)
}
