package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message delivery status values. A message is SENT once persisted,
// DELIVERED when pushed to a recipient connection, and READ once the
// recipient has fetched the conversation.
const (
	MessageStatusSent      = "SENT"
	MessageStatusDelivered = "DELIVERED"
	MessageStatusRead      = "READ"
)

// Attachment media kinds.
const (
	AttachmentKindImage = "IMAGE"
	AttachmentKindVideo = "VIDEO"
	AttachmentKindVoice = "VOICE"
	AttachmentKindFile  = "FILE"
)

// Conversation represents a durable direct-message thread between two users.
// The schema permits more participants, but lookup-or-create semantics key on
// the unordered participant pair.
type Conversation struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// PairKey is "minUserID:maxUserID" for direct conversations. The unique
	// index is what makes concurrent mutual starts converge on one row.
	PairKey string `gorm:"uniqueIndex;not null" json:"-"`

	LastMessageID *uint     `json:"last_message_id,omitempty"`
	LastMessage   *Message  `gorm:"foreignKey:LastMessageID" json:"last_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Participants []User `gorm:"many2many:conversation_participants;" json:"participants,omitempty"`
}

// PairKeyFor returns the canonical pair key for two participant IDs.
func PairKeyFor(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c *Conversation) HasParticipant(userID uint) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not the given user.
// Returns nil when participants are not loaded or the user is alone.
func (c *Conversation) OtherParticipant(userID uint) *User {
	for i := range c.Participants {
		if c.Participants[i].ID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ConversationParticipant is the join table row for conversation membership.
type ConversationParticipant struct {
	ConversationID uint      `gorm:"primaryKey" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey" json:"user_id"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
	LastReadAt     time.Time `json:"last_read_at"`
}

// Message is a single conversation entry. Ciphertext holds the AEAD envelope
// produced by the per-conversation cipher; it is empty for attachment-only
// messages. Soft deletion flags the row but retains the ciphertext.
type Message struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ConversationID uint            `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint            `gorm:"not null;index" json:"sender_id"`
	Sender         *User           `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Ciphertext     string          `gorm:"type:text" json:"-"`
	Status         string          `gorm:"default:'SENT'" json:"status"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	ReplyToID      *uint           `gorm:"index" json:"reply_to_id,omitempty"`
	ReplyTo        *Message        `gorm:"foreignKey:ReplyToID" json:"reply_to,omitempty"`
	Metadata       json.RawMessage `gorm:"type:json" json:"metadata,omitempty"`
	IsEdited       bool            `gorm:"default:false" json:"is_edited"`
	IsDeleted      bool            `gorm:"default:false" json:"is_deleted"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	Reactions   []Reaction   `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

// Attachment is immutable media metadata created atomically with its message.
// The bytes themselves live in object storage; only the URL is kept here.
type Attachment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;index" json:"message_id"`
	URL       string    `gorm:"not null" json:"url"`
	Kind      string    `gorm:"not null" json:"kind"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction is an emoji reaction, unique per (message, user); a new reaction
// from the same user replaces the old one.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reactions_message_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reactions_message_user" json:"user_id"`
	Emoji     string    `gorm:"not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageEdit is an append-only record of the ciphertext a message carried
// before an edit overwrote it.
type MessageEdit struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	MessageID       uint      `gorm:"not null;index" json:"message_id"`
	EditorID        uint      `gorm:"not null" json:"editor_id"`
	PriorCiphertext string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// MessageDeletion records a soft delete. The message ciphertext is retained
// on the message row itself.
type MessageDeletion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;index" json:"message_id"`
	DeletedBy uint      `gorm:"not null" json:"deleted_by"`
	CreatedAt time.Time `json:"created_at"`
}

// StoryReference is the structured metadata attached to a message sent as a
// reply or reaction to a story.
type StoryReference struct {
	Type     string `json:"type"` // "story_reply" or "story_reaction"
	StoryID  uint   `json:"story_id"`
	Preview  string `json:"preview,omitempty"`
	OwnerID  uint   `json:"owner_id,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// ParseStoryReference decodes the story reference carried in message
// metadata, if any.
func ParseStoryReference(metadata json.RawMessage) *StoryReference {
	if len(metadata) == 0 {
		return nil
	}
	var ref StoryReference
	if err := json.Unmarshal(metadata, &ref); err != nil {
		return nil
	}
	if ref.Type != "story_reply" && ref.Type != "story_reaction" {
		return nil
	}
	return &ref
}
