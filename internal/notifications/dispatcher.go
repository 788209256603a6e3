package notifications

import (
	"context"

	"glimmer/internal/observability"
)

// Dispatcher abstracts how realtime events reach connected clients. The
// Redis-backed implementation fans out across server instances; the local
// implementation delivers straight to an in-process hub.
type Dispatcher interface {
	ToUser(ctx context.Context, userID uint, event Event) error
	ToConversation(ctx context.Context, conversationID uint, event Event) error
	Broadcast(ctx context.Context, event Event) error
}

// RedisDispatcher publishes events through the Notifier's pub/sub channels.
type RedisDispatcher struct {
	notifier *Notifier
	metrics  *observability.MessageMetrics
}

// NewRedisDispatcher creates a dispatcher over the given notifier.
func NewRedisDispatcher(n *Notifier) *RedisDispatcher {
	return &RedisDispatcher{notifier: n, metrics: observability.NewMessageMetrics()}
}

func (d *RedisDispatcher) ToUser(ctx context.Context, userID uint, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	d.metrics.RecordMessage(event.Type)
	return d.notifier.PublishUser(ctx, userID, payload)
}

func (d *RedisDispatcher) ToConversation(ctx context.Context, conversationID uint, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	d.metrics.RecordMessage(event.Type)
	return d.notifier.PublishConversation(ctx, conversationID, payload)
}

func (d *RedisDispatcher) Broadcast(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	d.metrics.RecordMessage(event.Type)
	return d.notifier.PublishBroadcast(ctx, payload)
}

// LocalDispatcher delivers events directly to an in-process hub. Used when
// Redis is unavailable and in tests.
type LocalDispatcher struct {
	hub *Hub
}

// NewLocalDispatcher creates a dispatcher over the given hub.
func NewLocalDispatcher(h *Hub) *LocalDispatcher {
	return &LocalDispatcher{hub: h}
}

func (d *LocalDispatcher) ToUser(_ context.Context, userID uint, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	d.hub.Broadcast(userID, payload)
	return nil
}

func (d *LocalDispatcher) ToConversation(_ context.Context, conversationID uint, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	except := uint(0)
	if event.SkipOrigin {
		except = event.UserID
	}
	d.hub.BroadcastToConversation(conversationID, payload, except)
	return nil
}

func (d *LocalDispatcher) Broadcast(_ context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	d.hub.BroadcastAll(payload)
	return nil
}
