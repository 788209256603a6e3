package database

import "glimmer/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.Attachment{},
		&models.Reaction{},
		&models.MessageEdit{},
		&models.MessageDeletion{},
		&models.Story{},
		&models.StoryView{},
		&models.Notification{},
	}
}
