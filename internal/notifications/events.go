package notifications

import "encoding/json"

// Realtime event types pushed to websocket clients.
const (
	EventMessageNew          = "message:new"
	EventMessageEdited       = "message:edited"
	EventMessageDeleted      = "message:deleted"
	EventMessageReacted      = "message:reacted"
	EventMessagesRead        = "messages:read"
	EventTyping              = "typing"
	EventPresence            = "presence"
	EventNotification        = "notification"
	EventConversationCreated = "conversation:created"
	EventConversationsUpdate = "conversations:updated"
)

// Event is the wire envelope for realtime events. Payload carries the
// event-specific body. SkipOrigin marks events that should not be echoed
// back to the device of UserID (typing indicators, read receipts).
type Event struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversation_id,omitempty"`
	UserID         uint            `json:"user_id,omitempty"`
	SkipOrigin     bool            `json:"skip_origin,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event with the payload marshaled to JSON.
func NewEvent(eventType string, conversationID, userID uint, payload interface{}) (Event, error) {
	e := Event{
		Type:           eventType,
		ConversationID: conversationID,
		UserID:         userID,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		e.Payload = body
	}
	return e, nil
}

// Encode marshals the event for publishing.
func (e Event) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
