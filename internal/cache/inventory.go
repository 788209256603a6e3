package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix           = "user:%d"
	ConversationKeyPrefix   = "conv:%d"
	ConversationListPrefix  = "user:%d:convs"
	StoryViewCountPrefix    = "story:%d:views"
	UnreadCountPrefix       = "conv:%d:unread:%d"
	TicketKeyPrefix         = "ws:ticket:%s"
	JTIBlacklistPrefix      = "jwt:revoked:%s"
	RateLimitMessagesPrefix = "rl:msg:%d"
	RateLimitTypingPrefix   = "rl:typing:%d:%d"
)

const (
	UserTTL           = 5 * time.Minute
	ConversationTTL   = 2 * time.Minute
	StoryViewCountTTL = 30 * time.Second
	TicketTTL         = 30 * time.Second
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func ConversationKey(convID uint) string {
	return fmt.Sprintf(ConversationKeyPrefix, convID)
}

func ConversationListKey(userID uint) string {
	return fmt.Sprintf(ConversationListPrefix, userID)
}

func StoryViewCountKey(storyID uint) string {
	return fmt.Sprintf(StoryViewCountPrefix, storyID)
}

func UnreadCountKey(convID, userID uint) string {
	return fmt.Sprintf(UnreadCountPrefix, convID, userID)
}

func TicketKey(ticket string) string {
	return fmt.Sprintf(TicketKeyPrefix, ticket)
}

func JTIBlacklistKey(jti string) string {
	return fmt.Sprintf(JTIBlacklistPrefix, jti)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

func InvalidateConversation(ctx context.Context, convID uint) {
	Invalidate(ctx, ConversationKey(convID))
}
