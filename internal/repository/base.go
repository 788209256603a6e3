package repository

import (
	"glimmer/internal/database"

	"gorm.io/gorm"
)

// readDB prefers the read replica when one is configured. Recency-sensitive
// paths (message history, unread counts) stay on the primary.
func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}
