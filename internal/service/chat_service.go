// Package service provides application business logic for conversations and stories.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"glimmer/internal/encryption"
	"glimmer/internal/middleware"
	"glimmer/internal/models"
	"glimmer/internal/notifications"
	"glimmer/internal/repository"
)

const (
	maxMessageContentLen = 10000 // characters

	// appendTimeout bounds the message append transaction. An expired
	// deadline rolls everything back.
	appendTimeout = 15 * time.Second

	defaultPageLimit = 50
	maxPageLimit     = 100

	// searchScanCap bounds how many stored messages a single search request
	// will decrypt.
	searchScanCap = 500

	typingDebounce = 500 * time.Millisecond
)

// ChatService implements the conversation session protocol. Every operation
// runs its guards before touching the store or the dispatcher, so a rejected
// call leaves no side effects.
type ChatService struct {
	store      repository.ChatRepository
	users      repository.UserRepository
	stories    repository.StoryRepository
	notifs     repository.NotificationRepository
	cipher     *encryption.Cipher
	dispatcher notifications.Dispatcher

	sendLimiter   *middleware.WindowLimiter
	typingLimiter *middleware.WindowLimiter
}

// ChatServiceConfig wires the chat service dependencies. MessageRateLimit
// and MessageRateWindow default to 30 sends per 15 seconds.
type ChatServiceConfig struct {
	Store             repository.ChatRepository
	Users             repository.UserRepository
	Stories           repository.StoryRepository
	Notifications     repository.NotificationRepository
	Cipher            *encryption.Cipher
	Dispatcher        notifications.Dispatcher
	MessageRateLimit  int
	MessageRateWindow time.Duration
}

// NewChatService returns a new ChatService.
func NewChatService(cfg ChatServiceConfig) *ChatService {
	limit := cfg.MessageRateLimit
	if limit <= 0 {
		limit = 30
	}
	window := cfg.MessageRateWindow
	if window <= 0 {
		window = 15 * time.Second
	}

	return &ChatService{
		store:         cfg.Store,
		users:         cfg.Users,
		stories:       cfg.Stories,
		notifs:        cfg.Notifications,
		cipher:        cfg.Cipher,
		dispatcher:    cfg.Dispatcher,
		sendLimiter:   middleware.NewWindowLimiter(limit, window),
		typingLimiter: middleware.NewWindowLimiter(1, typingDebounce),
	}
}

// ConversationSummary is the list-view shape of a conversation.
type ConversationSummary struct {
	ConversationID   uint                `json:"conversation_id"`
	LastMessage      *models.MessageView `json:"last_message,omitempty"`
	UnreadCount      int64               `json:"unread_count"`
	OtherParticipant *models.UserSummary `json:"other_participant,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID       uint
	ConversationID uint
	Content        string
	ReplyToID      *uint
	Metadata       json.RawMessage
	Attachments    []models.Attachment
}

// StartConversation finds or creates the direct conversation between self and
// other. When a new conversation is created both participants are notified.
func (s *ChatService) StartConversation(ctx context.Context, selfID, otherID uint) (*models.Conversation, bool, error) {
	if otherID == selfID {
		return nil, false, models.NewValidationError("Cannot start a conversation with yourself")
	}

	other, err := s.users.GetByID(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if other.IsBanned {
		return nil, false, models.NewForbiddenError("Cannot start a conversation with this user")
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, selfID, otherID)
	if err != nil {
		return nil, false, err
	}

	if created {
		payload := map[string]interface{}{"conversation_id": conv.ID}
		for _, participant := range []uint{selfID, otherID} {
			s.dispatchToUser(ctx, participant, notifications.EventConversationCreated, conv.ID, selfID, payload)
		}
	}

	return conv, created, nil
}

// ListConversations returns the user's conversations ordered by recency, with
// decrypted last-message previews and unread counts.
func (s *ChatService) ListConversations(ctx context.Context, userID uint, page, limit int) ([]ConversationSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageLimit {
		limit = 20
	}

	convs, err := s.store.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	total := len(convs)

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	summaries := make([]ConversationSummary, 0, end-start)
	for _, conv := range convs[start:end] {
		summary := ConversationSummary{
			ConversationID: conv.ID,
			UpdatedAt:      conv.UpdatedAt,
		}
		if other := conv.OtherParticipant(userID); other != nil {
			os := other.Summary()
			summary.OtherParticipant = &os
		}
		if conv.LastMessage != nil {
			view := s.decryptToView(conv.LastMessage, userID)
			summary.LastMessage = &view
		}
		if count, cerr := s.store.UnreadCount(ctx, conv.ID, userID); cerr == nil {
			summary.UnreadCount = count
		}
		summaries = append(summaries, summary)
	}

	return summaries, total, nil
}

// SendMessage encrypts and appends a message, then fans it out. The sender's
// own devices see the message with status SENT; recipients see DELIVERED.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.MessageView, error) {
	if in.Content == "" && len(in.Attachments) == 0 {
		return nil, models.NewValidationError("Message content or attachment is required")
	}
	if utf8.RuneCountInString(in.Content) > maxMessageContentLen {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, models.NewForbiddenError("You are not a participant in this conversation")
	}

	if allowed, retryAfter := s.sendLimiter.Allow(sendKey(in.SenderID)); !allowed {
		middleware.RateLimitRejections.WithLabelValues("messages").Inc()
		return nil, models.NewRateLimitedError(retryAfter)
	}

	ciphertext := ""
	if in.Content != "" {
		ciphertext, err = s.cipher.Encrypt(in.ConversationID, in.Content)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
	}

	if in.ReplyToID != nil {
		target, rerr := s.store.GetMessage(ctx, *in.ReplyToID)
		if rerr != nil {
			return nil, rerr
		}
		if target.ConversationID != in.ConversationID {
			return nil, models.NewValidationError("Reply target belongs to another conversation")
		}
	}

	msg := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Ciphertext:     ciphertext,
		Status:         models.MessageStatusSent,
		ReplyToID:      in.ReplyToID,
		Metadata:       in.Metadata,
	}

	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := s.store.AppendMessage(appendCtx, msg, in.Attachments); err != nil {
		return nil, err
	}
	middleware.MessagesSent.Inc()

	if sender, serr := s.users.GetByID(ctx, in.SenderID); serr == nil && sender != nil {
		msg.Sender = sender
	}

	view := models.NewMessageView(msg, in.SenderID, in.Content, true)

	// Sender devices see SENT, every other participant sees DELIVERED.
	s.dispatchToUser(ctx, in.SenderID, notifications.EventMessageNew, in.ConversationID, in.SenderID, view)
	recipientView := view
	recipientView.IsOwn = false
	recipientView.Status = models.MessageStatusDelivered
	s.dispatchToParticipants(ctx, notifications.EventMessageNew, conv, in.SenderID, true, recipientView)

	// Nudge every participant's conversation list so previews reorder.
	for _, p := range conv.Participants {
		s.dispatchToUser(ctx, p.ID, notifications.EventConversationsUpdate, in.ConversationID, in.SenderID, map[string]interface{}{
			"conversation_id": in.ConversationID,
		})
	}

	return &view, nil
}

// FetchMessages lists a page of decrypted messages. Fetching marks the
// conversation read for the viewer and notifies the other participant.
func (s *ChatService) FetchMessages(ctx context.Context, convID, viewerID uint, limit int, beforeID uint) ([]models.MessageView, bool, error) {
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, false, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, false, models.NewForbiddenError("You are not a participant in this conversation")
	}

	msgs, err := s.store.GetMessages(ctx, convID, limit, beforeID)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) == limit

	updated, merr := s.store.MarkConversationRead(ctx, convID, viewerID)
	if merr != nil {
		slog.WarnContext(ctx, "mark read failed", "conversation_id", convID, "error", merr)
	}

	// The fetch itself is the read signal, so the returned page already
	// reflects the new status on the other participant's messages.
	now := time.Now()
	views := make([]models.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		if merr == nil && msg.SenderID != viewerID && msg.Status != models.MessageStatusRead {
			msg.Status = models.MessageStatusRead
			msg.ReadAt = &now
		}
		views = append(views, s.decryptToView(msg, viewerID))
	}

	if merr == nil && updated > 0 {
		s.dispatchToParticipants(ctx, notifications.EventMessagesRead, conv, viewerID, true, map[string]interface{}{
			"conversation_id": convID,
			"reader_id":       viewerID,
			"count":           updated,
		})
	}

	return views, hasMore, nil
}

// SearchMessages scans the conversation's stored envelopes, decrypting
// server-side and matching case-insensitively. Deleted and unreadable
// messages never match.
func (s *ChatService) SearchMessages(ctx context.Context, convID, userID uint, query string, limit int) ([]models.MessageView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}
	if limit < 1 || limit > maxPageLimit {
		limit = 20
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.NewForbiddenError("You are not a participant in this conversation")
	}

	needle := strings.ToLower(query)
	results := make([]models.MessageView, 0, limit)

	beforeID := uint(0)
	scanned := 0
	for scanned < searchScanCap && len(results) < limit {
		batch, berr := s.store.GetMessages(ctx, convID, defaultPageLimit, beforeID)
		if berr != nil {
			return nil, berr
		}
		if len(batch) == 0 {
			break
		}
		// Batches are chronological; walk newest-first for relevance.
		for i := len(batch) - 1; i >= 0 && len(results) < limit; i-- {
			msg := batch[i]
			scanned++
			if msg.IsDeleted || msg.Ciphertext == "" {
				continue
			}
			plaintext, derr := s.cipher.Decrypt(convID, msg.Ciphertext)
			if derr != nil {
				middleware.DecryptFailures.Inc()
				continue
			}
			if strings.Contains(strings.ToLower(plaintext), needle) {
				results = append(results, models.NewMessageView(msg, userID, plaintext, true))
			}
		}
		beforeID = batch[0].ID
		if len(batch) < defaultPageLimit {
			break
		}
	}

	return results, nil
}

// EditMessage re-encrypts a message's content, preserving the prior
// ciphertext in the edit history. Only the sender may edit, and deleted
// messages are immutable.
func (s *ChatService) EditMessage(ctx context.Context, msgID, editorID uint, content string) (*models.MessageView, error) {
	if content == "" {
		return nil, models.NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageContentLen {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}

	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, models.NewForbiddenError("Only the sender can edit a message")
	}
	if msg.IsDeleted {
		return nil, models.NewValidationError("Deleted messages cannot be edited")
	}

	ciphertext, err := s.cipher.Encrypt(msg.ConversationID, content)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := s.store.EditMessage(ctx, msgID, editorID, ciphertext); err != nil {
		return nil, err
	}

	msg.Ciphertext = ciphertext
	msg.IsEdited = true
	view := models.NewMessageView(msg, editorID, content, true)

	s.dispatchToParticipants(ctx, notifications.EventMessageEdited, s.participantsOf(ctx, msg.ConversationID), editorID, false, view)

	return &view, nil
}

// DeleteMessage soft-deletes a message. The row and its ciphertext survive;
// viewers see the deleted placeholder from now on.
func (s *ChatService) DeleteMessage(ctx context.Context, msgID, userID uint) error {
	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return models.NewForbiddenError("Only the sender can delete a message")
	}

	if err := s.store.SoftDeleteMessage(ctx, msgID, userID); err != nil {
		return err
	}

	s.dispatchToParticipants(ctx, notifications.EventMessageDeleted, s.participantsOf(ctx, msg.ConversationID), userID, false, map[string]interface{}{
		"message_id":      msgID,
		"conversation_id": msg.ConversationID,
	})

	return nil
}

// ReactToMessage upserts the user's emoji reaction on a message.
func (s *ChatService) ReactToMessage(ctx context.Context, msgID, userID uint, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.NewValidationError("Emoji is required")
	}
	if len(emoji) > 32 {
		return models.NewValidationError("Emoji too long")
	}

	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.NewForbiddenError("You are not a participant in this conversation")
	}
	if msg.IsDeleted {
		return models.NewValidationError("Deleted messages cannot be reacted to")
	}

	if err := s.store.UpsertReaction(ctx, &models.Reaction{
		MessageID: msgID,
		UserID:    userID,
		Emoji:     emoji,
	}); err != nil {
		return err
	}

	s.dispatchToParticipants(ctx, notifications.EventMessageReacted, conv, userID, false, map[string]interface{}{
		"message_id":      msgID,
		"conversation_id": msg.ConversationID,
		"user_id":         userID,
		"emoji":           emoji,
	})

	return nil
}

// RemoveReaction deletes the user's reaction from a message.
func (s *ChatService) RemoveReaction(ctx context.Context, msgID, userID uint) error {
	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}

	if err := s.store.RemoveReaction(ctx, msgID, userID); err != nil {
		return err
	}

	s.dispatchToParticipants(ctx, notifications.EventMessageReacted, s.participantsOf(ctx, msg.ConversationID), userID, false, map[string]interface{}{
		"message_id":      msgID,
		"conversation_id": msg.ConversationID,
		"user_id":         userID,
		"emoji":           "",
	})

	return nil
}

// Typing relays a typing indicator to the other participant. Repeated
// typing:start events inside the debounce window are dropped.
func (s *ChatService) Typing(ctx context.Context, convID, userID uint, username string, isTyping bool) error {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.NewForbiddenError("You are not a participant in this conversation")
	}

	if isTyping {
		if allowed, _ := s.typingLimiter.Allow(typingKey(userID, convID)); !allowed {
			return nil
		}
	}

	s.dispatchToRoom(ctx, notifications.EventTyping, convID, userID, true, map[string]interface{}{
		"conversation_id": convID,
		"user_id":         userID,
		"username":        username,
		"is_typing":       isTyping,
	})

	return nil
}

// ReplyToStoryInput is the input for replying or reacting to a story.
type ReplyToStoryInput struct {
	UserID  uint
	StoryID uint
	Content string
	Emoji   string
}

// ReplyToStoryResult reports the sent message and whether the reply opened a
// new conversation.
type ReplyToStoryResult struct {
	Message           *models.MessageView    `json:"message"`
	ConversationID    uint                   `json:"conversation_id"`
	IsNewConversation bool                   `json:"is_new_conversation"`
	StoryPreview      *models.StoryReference `json:"story_preview"`
}

// ReplyToStory sends a message to a story's owner, implicitly starting the
// conversation if none exists, and records an inbox notification for the
// owner.
func (s *ChatService) ReplyToStory(ctx context.Context, in ReplyToStoryInput) (*ReplyToStoryResult, error) {
	if in.Content == "" && in.Emoji == "" {
		return nil, models.NewValidationError("Reply content or emoji is required")
	}

	story, err := s.stories.GetByID(ctx, in.StoryID)
	if err != nil {
		return nil, err
	}
	if story.Expired(time.Now()) {
		return nil, models.NewValidationError("Story has expired")
	}
	if story.UserID == in.UserID {
		return nil, models.NewValidationError("Cannot reply to your own story")
	}

	owner, err := s.users.GetByID(ctx, story.UserID)
	if err != nil {
		return nil, err
	}
	if owner.IsBanned {
		return nil, models.NewForbiddenError("Cannot reply to this story")
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, in.UserID, story.UserID)
	if err != nil {
		return nil, err
	}

	ref := models.StoryReference{
		Type:     "story_reply",
		StoryID:  story.ID,
		Preview:  story.Caption,
		OwnerID:  story.UserID,
		MediaURL: story.MediaURL,
	}
	content := in.Content
	kind := models.NotificationKindStoryReply
	if content == "" {
		ref.Type = "story_reaction"
		content = in.Emoji
		kind = models.NotificationKindStoryReaction
	}
	metadata, err := json.Marshal(ref)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	view, err := s.SendMessage(ctx, SendMessageInput{
		SenderID:       in.UserID,
		ConversationID: conv.ID,
		Content:        content,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}

	notif := &models.Notification{
		UserID:   story.UserID,
		ActorID:  in.UserID,
		Kind:     kind,
		TargetID: story.ID,
		Body:     content,
	}
	if nerr := s.notifs.Create(ctx, notif); nerr != nil {
		slog.WarnContext(ctx, "story reply notification not recorded", "story_id", story.ID, "error", nerr)
	} else {
		s.dispatchToUser(ctx, story.UserID, notifications.EventNotification, conv.ID, in.UserID, notif)
	}

	return &ReplyToStoryResult{
		Message:           view,
		ConversationID:    conv.ID,
		IsNewConversation: created,
		StoryPreview:      &ref,
	}, nil
}

// decryptToView opens the message envelope for the viewer, degrading to the
// placeholder view on failure.
func (s *ChatService) decryptToView(msg *models.Message, viewerID uint) models.MessageView {
	if msg.Ciphertext == "" {
		return models.NewMessageView(msg, viewerID, "", true)
	}
	plaintext, err := s.cipher.Decrypt(msg.ConversationID, msg.Ciphertext)
	if err != nil {
		middleware.DecryptFailures.Inc()
		return models.NewMessageView(msg, viewerID, "", false)
	}
	return models.NewMessageView(msg, viewerID, plaintext, true)
}

// dispatch helpers are fire-and-forget: a realtime delivery failure never
// unwinds a durable write.

func (s *ChatService) dispatchToUser(ctx context.Context, userID uint, eventType string, convID, actorID uint, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	ev, err := notifications.NewEvent(eventType, convID, actorID, payload)
	if err != nil {
		slog.WarnContext(ctx, "event encode failed", "event", eventType, "error", err)
		return
	}
	if err := s.dispatcher.ToUser(ctx, userID, ev); err != nil {
		slog.WarnContext(ctx, "event dispatch failed", "event", eventType, "user_id", userID, "error", err)
	}
}

// dispatchToParticipants delivers an event to every participant's devices,
// whether or not they currently have the conversation open. skipOrigin drops
// the actor's own copy.
func (s *ChatService) dispatchToParticipants(ctx context.Context, eventType string, conv *models.Conversation, actorID uint, skipOrigin bool, payload interface{}) {
	if s.dispatcher == nil || conv == nil {
		return
	}
	ev, err := notifications.NewEvent(eventType, conv.ID, actorID, payload)
	if err != nil {
		slog.WarnContext(ctx, "event encode failed", "event", eventType, "error", err)
		return
	}
	ev.SkipOrigin = skipOrigin
	for _, p := range conv.Participants {
		if skipOrigin && p.ID == actorID {
			continue
		}
		if err := s.dispatcher.ToUser(ctx, p.ID, ev); err != nil {
			slog.WarnContext(ctx, "event dispatch failed", "event", eventType, "user_id", p.ID, "error", err)
		}
	}
}

// participantsOf loads the conversation with its participant set for fan-out.
// Returns nil on failure; dispatch helpers treat that as nothing to deliver.
func (s *ChatService) participantsOf(ctx context.Context, convID uint) *models.Conversation {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		slog.WarnContext(ctx, "participant resolve failed", "conversation_id", convID, "error", err)
		return nil
	}
	return conv
}

// dispatchToRoom reaches only users who currently have the conversation open.
// Used for ephemeral signals like typing that are noise to anyone else.
func (s *ChatService) dispatchToRoom(ctx context.Context, eventType string, convID, actorID uint, skipOrigin bool, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	ev, err := notifications.NewEvent(eventType, convID, actorID, payload)
	if err != nil {
		slog.WarnContext(ctx, "event encode failed", "event", eventType, "error", err)
		return
	}
	ev.SkipOrigin = skipOrigin
	if err := s.dispatcher.ToConversation(ctx, convID, ev); err != nil {
		slog.WarnContext(ctx, "event dispatch failed", "event", eventType, "conversation_id", convID, "error", err)
	}
}

func sendKey(userID uint) string {
	return fmt.Sprintf("msg:%d", userID)
}

func typingKey(userID, convID uint) string {
	return fmt.Sprintf("typing:%d:%d", userID, convID)
}
