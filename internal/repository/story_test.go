package repository

import (
	"context"
	"testing"
	"time"

	"glimmer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStoryDB(t *testing.T) *gorm.DB {
	db := setupTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.Story{}, &models.StoryView{}))
	return db
}

func TestStoryActiveForUsers(t *testing.T) {
	db := setupStoryDB(t)
	repo := NewStoryRepository(db)
	ctx := context.Background()
	user1, user2 := createTestUsers(t, db)
	now := time.Now()

	live := &models.Story{UserID: user1.ID, MediaURL: "https://cdn.example.com/a.png", Kind: models.StoryKindImage, ExpiresAt: now.Add(time.Hour)}
	expired := &models.Story{UserID: user1.ID, MediaURL: "https://cdn.example.com/b.png", Kind: models.StoryKindImage, ExpiresAt: now.Add(-time.Minute)}
	other := &models.Story{UserID: user2.ID, MediaURL: "https://cdn.example.com/c.png", Kind: models.StoryKindImage, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, other))

	stories, err := repo.ActiveForUsers(ctx, []uint{user1.ID}, now)
	assert.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, live.ID, stories[0].ID)
}

func TestStoryBulkRecordViews(t *testing.T) {
	db := setupStoryDB(t)
	repo := NewStoryRepository(db)
	ctx := context.Background()
	user1, user2 := createTestUsers(t, db)

	story := &models.Story{UserID: user1.ID, MediaURL: "https://cdn.example.com/a.png", Kind: models.StoryKindImage, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, story))

	views := []models.StoryView{
		{StoryID: story.ID, ViewerID: user2.ID},
		{StoryID: story.ID, ViewerID: user2.ID}, // duplicate in one batch
	}
	// sqlite applies OnConflict per row, so the duplicate is dropped.
	require.NoError(t, repo.BulkRecordViews(ctx, views[:1]))
	require.NoError(t, repo.BulkRecordViews(ctx, views[1:]))

	count, err := repo.ViewCount(ctx, story.ID)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, count)

	viewers, err := repo.Viewers(ctx, story.ID, 10)
	assert.NoError(t, err)
	require.Len(t, viewers, 1)
	assert.Equal(t, user2.ID, viewers[0].ViewerID)
}

func TestNotificationInbox(t *testing.T) {
	db := setupStoryDB(t)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	user1, user2 := createTestUsers(t, db)

	n := &models.Notification{UserID: user1.ID, ActorID: user2.ID, Kind: models.NotificationKindMessage, TargetID: 1}
	require.NoError(t, repo.Create(ctx, n))

	count, err := repo.UnreadCount(ctx, user1.ID)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, count)

	list, err := repo.ListForUser(ctx, user1.ID, 10, 0)
	assert.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.MarkRead(ctx, n.ID, user1.ID))
	count, err = repo.UnreadCount(ctx, user1.ID)
	assert.NoError(t, err)
	assert.Zero(t, count)
}
