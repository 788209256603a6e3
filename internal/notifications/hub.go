// Package notifications provides real-time event delivery and management.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxConnsPerUser = 5
	defaultMaxTotalConns   = 10000
)

// HubConfig controls connection caps and the Redis client used for presence.
type HubConfig struct {
	MaxConnsPerUser int
	MaxTotalConns   int
	Redis           *redis.Client
}

// Hub routes realtime events to websocket clients. It is user-centric with
// conversation rooms layered on top: durable conversation events are
// addressed per user and reach every device, while rooms scope ephemeral
// signals (typing, viewing presence) to users who have the conversation open.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int

	// rooms maps conversationID -> set of member userIDs currently viewing.
	rooms map[uint]map[uint]struct{}
	// userRooms maps userID -> set of conversationIDs, for cleanup.
	userRooms map[uint]map[uint]struct{}

	maxConnsPerUser int
	maxTotalConns   int

	shutdown chan struct{}
	done     chan struct{}
	presence *PresenceTracker
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "conversation hub" }

// NewHub creates a new Hub instance.
func NewHub(cfg HubConfig) *Hub {
	perUser := cfg.MaxConnsPerUser
	if perUser <= 0 {
		perUser = defaultMaxConnsPerUser
	}
	total := cfg.MaxTotalConns
	if total <= 0 {
		total = defaultMaxTotalConns
	}

	return &Hub{
		conns:           make(map[uint]map[*Client]struct{}),
		rooms:           make(map[uint]map[uint]struct{}),
		userRooms:       make(map[uint]map[uint]struct{}),
		maxConnsPerUser: perUser,
		maxTotalConns:   total,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		presence:        NewPresenceTracker(cfg.Redis, PresenceOptions{}),
	}
}

// Register a connection for a given userID. Returns the Client or error if limits exceeded.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.totalConns >= h.maxTotalConns {
		h.mu.Unlock()
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	if len(m) >= h.maxConnsPerUser {
		h.mu.Unlock()
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid uint) {
		if h.presence != nil {
			h.presence.Heartbeat(context.Background(), uid)
		}
	}

	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	if h.presence != nil {
		h.presence.Register(context.Background(), userID)
	}

	return client, nil
}

// UnregisterClient removes a connection. When the user's last device goes,
// their room memberships are cleared as well.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removedClient := false
	lastDevice := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removedClient = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
			lastDevice = true
		}
	}
	if lastDevice {
		for convID := range h.userRooms[client.UserID] {
			if members, ok := h.rooms[convID]; ok {
				delete(members, client.UserID)
				if len(members) == 0 {
					delete(h.rooms, convID)
				}
			}
		}
		delete(h.userRooms, client.UserID)
	}
	h.mu.Unlock()

	if removedClient && h.presence != nil {
		h.presence.Unregister(context.Background(), client.UserID)
	}
}

// JoinConversation subscribes a connected user to a conversation's events.
func (h *Hub) JoinConversation(userID, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, connected := h.conns[userID]; !connected {
		return
	}

	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[uint]struct{})
	}
	h.rooms[conversationID][userID] = struct{}{}

	if h.userRooms[userID] == nil {
		h.userRooms[userID] = make(map[uint]struct{})
	}
	h.userRooms[userID][conversationID] = struct{}{}
}

// LeaveConversation unsubscribes a user from a conversation's events.
func (h *Hub) LeaveConversation(userID, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[conversationID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if convs, ok := h.userRooms[userID]; ok {
		delete(convs, conversationID)
	}
}

// InConversation reports whether a user is currently viewing a conversation.
func (h *Hub) InConversation(userID, conversationID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if convs, ok := h.userRooms[userID]; ok {
		_, in := convs[conversationID]
		return in
	}
	return false
}

// Broadcast sends message to all connections for userID.
func (h *Hub) Broadcast(userID uint, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.conns[userID]; ok {
		data := []byte(message)
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// BroadcastToConversation sends message to every device of every user
// currently viewing the conversation. exceptUserID (when nonzero) is
// skipped, used so typing events are not echoed back to their origin.
func (h *Hub) BroadcastToConversation(conversationID uint, message string, exceptUserID uint) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	data := []byte(message)
	for userID := range members {
		if exceptUserID != 0 && userID == exceptUserID {
			continue
		}
		for c := range h.conns[userID] {
			c.TrySend(data)
		}
	}
}

// BroadcastAll sends message to every connected websocket client.
func (h *Hub) BroadcastAll(message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// IsOnline reports whether a user currently has at least one active websocket connection.
func (h *Hub) IsOnline(userID uint) bool {
	if h.presence != nil {
		return h.presence.IsOnline(context.Background(), userID)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.conns[userID]
	return ok && len(clients) > 0
}

// SetPresenceCallbacks installs the online/offline transition hooks.
func (h *Hub) SetPresenceCallbacks(onOnline, onOffline func(userID uint)) {
	if h.presence == nil {
		return
	}
	h.presence.SetCallbacks(onOnline, onOffline)
}

// OnlineUserIDs returns the set of currently online users.
func (h *Hub) OnlineUserIDs(ctx context.Context) []uint {
	if h.presence != nil {
		return h.presence.OnlineIDs(ctx)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// StartWiring subscribes the hub to Redis so events published by any server
// instance reach the clients connected here.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	if err := n.StartUserSubscriber(ctx, func(channel, payload string) {
		if channel == broadcastChannel {
			h.BroadcastAll(payload)
			return
		}
		if !strings.HasPrefix(channel, userChannelPrefix) {
			log.Printf("invalid user channel: %s", channel)
			return
		}
		var userID uint
		if _, err := fmt.Sscanf(channel, userChannelPrefix+"%d", &userID); err != nil {
			log.Printf("invalid user channel: %s", channel)
			return
		}
		h.Broadcast(userID, payload)
	}); err != nil {
		return err
	}

	return n.StartConversationSubscriber(ctx, func(channel, payload string) {
		conversationID, ok := ParseConversationChannel(channel)
		if !ok {
			log.Printf("invalid conversation channel: %s", channel)
			return
		}
		var env Event
		exceptUserID := uint(0)
		if err := json.Unmarshal([]byte(payload), &env); err == nil && env.SkipOrigin {
			exceptUserID = env.UserID
		}
		h.BroadcastToConversation(conversationID, payload, exceptUserID)
	})
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	close(h.shutdown)

	if h.presence != nil {
		h.presence.Stop()
	}

	h.mu.Lock()
	for userID, userConns := range h.conns {
		for client := range userConns {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				log.Printf("failed to write close message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.rooms = make(map[uint]map[uint]struct{})
	h.userRooms = make(map[uint]map[uint]struct{})
	h.mu.Unlock()

	close(h.done)

	return nil
}
