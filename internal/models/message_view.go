package models

import (
	"encoding/json"
	"time"
)

// Placeholder content returned in place of plaintext when a message cannot
// be shown to the viewer.
const (
	PlaceholderUnreadable = "[unreadable message]"
	PlaceholderDeleted    = "This message was deleted"
)

// MessageView is the API shape of a message after server-side decryption.
// Ciphertext never leaves the storage layer; clients only ever see Content.
type MessageView struct {
	ID             uint            `json:"id"`
	ConversationID uint            `json:"conversation_id"`
	SenderID       uint            `json:"sender_id"`
	Sender         *UserSummary    `json:"sender,omitempty"`
	Content        string          `json:"content"`
	Status         string          `json:"status"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	ReplyToID      *uint           `json:"reply_to_id,omitempty"`
	ReplyTo        *MessageView    `json:"reply_to,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	IsEdited       bool            `json:"is_edited"`
	IsDeleted      bool            `json:"is_deleted"`
	IsOwn          bool            `json:"is_own"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	Reactions      []Reaction      `json:"reactions,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewMessageView builds the viewer-facing shape of a message. plaintext is
// the decrypted body; pass decryptOK=false when decryption failed so the
// view carries the unreadable placeholder instead of leaking garbage.
// Deleted messages always show the deleted placeholder regardless of
// decryption outcome, and drop attachments and metadata.
func NewMessageView(m *Message, viewerID uint, plaintext string, decryptOK bool) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sender:         SummaryPtr(m.Sender),
		Content:        plaintext,
		Status:         m.Status,
		ReadAt:         m.ReadAt,
		ReplyToID:      m.ReplyToID,
		Metadata:       m.Metadata,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		IsOwn:          m.SenderID == viewerID,
		Attachments:    m.Attachments,
		Reactions:      m.Reactions,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if !decryptOK {
		v.Content = PlaceholderUnreadable
	}
	if m.IsDeleted {
		v.Content = PlaceholderDeleted
		v.Metadata = nil
		v.Attachments = nil
	}
	return v
}
