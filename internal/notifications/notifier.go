package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix     = "notifications:user:"
	broadcastChannel      = "notifications:broadcast"
	convChannelPrefix     = "chat:conv:"
	typingChannelPrefix   = "typing:conv:"
	presenceChannelPrefix = "presence:conv:"

	typingExpiryMS = 5000
)

// Notifier provides helpers to publish realtime events into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser sends an event payload to a user's channel.
func (n *Notifier) PublishUser(
	ctx context.Context, userID uint, payload string,
) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishBroadcast sends an event payload to all connected users.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, broadcastChannel, payload).Err()
}

// PublishConversation publishes an event to a conversation channel
func (n *Notifier) PublishConversation(
	ctx context.Context, conversationID uint, payload string,
) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, ConversationChannel(conversationID), payload).Err()
}

// PublishTypingIndicator publishes a typing indicator to a conversation
func (n *Notifier) PublishTypingIndicator(
	ctx context.Context, conversationID, userID uint, username string, isTyping bool,
) error {
	if n.rdb == nil {
		return nil
	}
	channel := typingChannelPrefix + strconv.FormatUint(uint64(conversationID), 10)
	payload := map[string]interface{}{
		"user_id":       userID,
		"username":      username,
		"is_typing":     isTyping,
		"expires_in_ms": typingExpiryMS,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, string(payloadJSON)).Err()
}

// PublishPresence publishes a user's presence status to a conversation
func (n *Notifier) PublishPresence(
	ctx context.Context, conversationID, userID uint, username, status string,
) error {
	if n.rdb == nil {
		return nil
	}
	channel := presenceChannelPrefix + strconv.FormatUint(uint64(conversationID), 10)
	payload := map[string]interface{}{
		"user_id":  userID,
		"username": username,
		"status":   status, // "online" or "offline"
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, string(payloadJSON)).Err()
}

// StartUserSubscriber subscribes to pattern `notifications:user:*` plus the
// broadcast channel and calls onMessage for each incoming message.
func (n *Notifier) StartUserSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	return n.startSubscriber(ctx, "UserSubscriber", onMessage,
		userChannelPrefix+"*", broadcastChannel)
}

// StartConversationSubscriber subscribes to conversation-scoped patterns
// (chat:conv:*, typing:conv:*, presence:conv:*) and calls onMessage for each
// incoming message.
func (n *Notifier) StartConversationSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	return n.startSubscriber(ctx, "ConversationSubscriber", onMessage,
		convChannelPrefix+"*", typingChannelPrefix+"*", presenceChannelPrefix+"*")
}

func (n *Notifier) startSubscriber(
	ctx context.Context, name string, onMessage func(channel, payload string), patterns ...string,
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, patterns...)
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

// ConversationChannel derives the Redis channel name for a conversation.
func ConversationChannel(conversationID uint) string {
	return convChannelPrefix + strconv.FormatUint(uint64(conversationID), 10)
}

// ParseConversationChannel extracts the conversation ID from any
// conversation-scoped channel name. ok is false when the channel does not
// match a known prefix or the ID is not numeric.
func ParseConversationChannel(channel string) (conversationID uint, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(channel, convChannelPrefix):
		rest = channel[len(convChannelPrefix):]
	case strings.HasPrefix(channel, typingChannelPrefix):
		rest = channel[len(typingChannelPrefix):]
	case strings.HasPrefix(channel, presenceChannelPrefix):
		rest = channel[len(presenceChannelPrefix):]
	default:
		return 0, false
	}
	id64, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id64), true
}
