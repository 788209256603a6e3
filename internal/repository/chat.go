package repository

import (
	"context"
	"time"

	"glimmer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository defines the interface for conversation and message storage
type ChatRepository interface {
	FindOrCreateConversation(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	GetMessages(ctx context.Context, convID uint, limit int, beforeID uint) ([]*models.Message, error)
	EditMessage(ctx context.Context, msgID, editorID uint, newCiphertext string) error
	SoftDeleteMessage(ctx context.Context, msgID, deletedBy uint) error
	MarkConversationRead(ctx context.Context, convID, readerID uint) (int64, error)
	UnreadCount(ctx context.Context, convID, userID uint) (int64, error)
	UpsertReaction(ctx context.Context, reaction *models.Reaction) error
	RemoveReaction(ctx context.Context, msgID, userID uint) error
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// FindOrCreateConversation returns the direct conversation between the two
// users, creating it if absent. The bool reports whether a new row was
// created. Concurrent calls for the same pair converge on one row via the
// unique pair key.
func (r *chatRepository) FindOrCreateConversation(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	pairKey := models.PairKeyFor(userA, userB)

	var conv models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").
		Where("pair_key = ?", pairKey).First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	created := true
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := models.Conversation{PairKey: pairKey}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race; another request inserted the row first.
			created = false
		}
		if err := tx.Where("pair_key = ?", pairKey).First(&conv).Error; err != nil {
			return err
		}
		if created {
			participants := []models.ConversationParticipant{
				{ConversationID: conv.ID, UserID: userA},
				{ConversationID: conv.ID, UserID: userB},
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Preload("Participants").First(&conv, conv.ID).Error; err != nil {
		return nil, false, err
	}
	return &conv, created, nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *chatRepository) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON conversations.id = cp.conversation_id").
		Where("cp.user_id = ?", userID).
		Preload("Participants").
		Preload("LastMessage").
		Preload("LastMessage.Sender").
		Order("conversations.updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// AppendMessage persists the message, its attachments, and the conversation
// bump in one transaction. A failure on any row leaves no trace of the send.
func (r *chatRepository) AppendMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		for i := range attachments {
			attachments[i].MessageID = msg.ID
		}
		if len(attachments) > 0 {
			if err := tx.Create(&attachments).Error; err != nil {
				return err
			}
			msg.Attachments = attachments
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"last_message_id": msg.ID,
				"updated_at":      time.Now(),
			}).Error
	})
}

func (r *chatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Attachments").
		Preload("Reactions").
		First(&msg, id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessages returns up to limit messages in chronological order. beforeID
// is a keyset cursor; zero means the newest page.
func (r *chatRepository) GetMessages(ctx context.Context, convID uint, limit int, beforeID uint) ([]*models.Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Preload("Sender").
		Preload("Attachments").
		Preload("Reactions").
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var messages []*models.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}

	// Fetched DESC to get the latest page; clients expect oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// EditMessage swaps in the new ciphertext and records the prior one in the
// edit history, atomically.
func (r *chatRepository) EditMessage(ctx context.Context, msgID, editorID uint, newCiphertext string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.First(&msg, msgID).Error; err != nil {
			return err
		}
		edit := models.MessageEdit{
			MessageID:       msg.ID,
			EditorID:        editorID,
			PriorCiphertext: msg.Ciphertext,
		}
		if err := tx.Create(&edit).Error; err != nil {
			return err
		}
		return tx.Model(&msg).Updates(map[string]interface{}{
			"ciphertext": newCiphertext,
			"is_edited":  true,
		}).Error
	})
}

// SoftDeleteMessage flags the message deleted and records who did it. The
// ciphertext stays on the row.
func (r *chatRepository) SoftDeleteMessage(ctx context.Context, msgID, deletedBy uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("id = ? AND is_deleted = ?", msgID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"deleted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already deleted; keep the operation idempotent.
			return nil
		}
		return tx.Create(&models.MessageDeletion{
			MessageID: msgID,
			DeletedBy: deletedBy,
		}).Error
	})
}

// MarkConversationRead marks every unread message from the other participant
// as read and bumps the reader's last-read marker. Returns how many messages
// changed status; repeat calls return zero.
func (r *chatRepository) MarkConversationRead(ctx context.Context, convID, readerID uint) (int64, error) {
	var updated int64
	now := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND status <> ?", convID, readerID, models.MessageStatusRead).
			Updates(map[string]interface{}{
				"status":  models.MessageStatusRead,
				"read_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected
		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", convID, readerID).
			Update("last_read_at", now).Error
	})
	return updated, err
}

func (r *chatRepository) UnreadCount(ctx context.Context, convID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND status <> ? AND is_deleted = ?",
			convID, userID, models.MessageStatusRead, false).
		Count(&count).Error
	return count, err
}

// UpsertReaction replaces any existing reaction by the same user on the
// same message.
func (r *chatRepository) UpsertReaction(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
	}).Create(reaction).Error
}

func (r *chatRepository) RemoveReaction(ctx context.Context, msgID, userID uint) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", msgID, userID).
		Delete(&models.Reaction{}).Error
}
