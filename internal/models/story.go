package models

import "time"

// Story media kinds.
const (
	StoryKindImage = "IMAGE"
	StoryKindVideo = "VIDEO"
)

// Story is an ephemeral media post. Expired stories stay in the table but
// are excluded from feeds and cannot be replied to.
type Story struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	MediaURL  string    `gorm:"not null" json:"media_url"`
	Kind      string    `gorm:"not null" json:"kind"`
	Caption   string    `json:"caption,omitempty"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`

	ViewCount int64 `gorm:"-" json:"view_count,omitempty"`
}

// Expired reports whether the story is past its expiry at the given instant.
func (s *Story) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// StoryView records that a user saw a story. Unique per (story, viewer);
// repeat views do not create new rows.
type StoryView struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	StoryID  uint      `gorm:"not null;uniqueIndex:idx_story_views_story_viewer" json:"story_id"`
	ViewerID uint      `gorm:"not null;uniqueIndex:idx_story_views_story_viewer" json:"viewer_id"`
	ViewedAt time.Time `gorm:"autoCreateTime" json:"viewed_at"`
}

// Notification kinds surfaced over the realtime channel and the inbox.
const (
	NotificationKindMessage       = "message"
	NotificationKindStoryReply    = "story_reply"
	NotificationKindStoryReaction = "story_reaction"
)

// Notification is a durable inbox entry mirrored to the realtime channel.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	ActorID   uint      `gorm:"not null" json:"actor_id"`
	Actor     *User     `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Kind      string    `gorm:"not null" json:"kind"`
	TargetID  uint      `json:"target_id,omitempty"`
	Body      string    `json:"body,omitempty"`
	IsRead    bool      `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
