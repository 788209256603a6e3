package repository

import (
	"context"
	"errors"
	"time"

	"glimmer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoryRepository defines persistence operations for stories and views.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uint) (*models.Story, error)
	ActiveForUsers(ctx context.Context, userIDs []uint, now time.Time) ([]*models.Story, error)
	BulkRecordViews(ctx context.Context, views []models.StoryView) error
	ViewCount(ctx context.Context, storyID uint) (int64, error)
	Viewers(ctx context.Context, storyID uint, limit int) ([]models.StoryView, error)
}

type storyRepository struct {
	db *gorm.DB
}

// NewStoryRepository returns a new StoryRepository implementation.
func NewStoryRepository(db *gorm.DB) StoryRepository {
	return &storyRepository{db: db}
}

func (r *storyRepository) Create(ctx context.Context, story *models.Story) error {
	if err := r.db.WithContext(ctx).Create(story).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *storyRepository) GetByID(ctx context.Context, id uint) (*models.Story, error) {
	var story models.Story
	err := r.db.WithContext(ctx).Preload("User").First(&story, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Story", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &story, nil
}

// ActiveForUsers returns unexpired stories by the given authors, newest
// first.
func (r *storyRepository) ActiveForUsers(ctx context.Context, userIDs []uint, now time.Time) ([]*models.Story, error) {
	var stories []*models.Story
	err := readDB(r.db).WithContext(ctx).
		Where("user_id IN ? AND expires_at > ?", userIDs, now).
		Preload("User").
		Order("created_at DESC").
		Find(&stories).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return stories, nil
}

// BulkRecordViews inserts view rows, silently skipping pairs already seen.
func (r *storyRepository) BulkRecordViews(ctx context.Context, views []models.StoryView) error {
	if len(views) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&views).Error
}

func (r *storyRepository) ViewCount(ctx context.Context, storyID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StoryView{}).
		Where("story_id = ?", storyID).Count(&count).Error
	return count, err
}

func (r *storyRepository) Viewers(ctx context.Context, storyID uint, limit int) ([]models.StoryView, error) {
	var views []models.StoryView
	err := r.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("viewed_at DESC").
		Limit(limit).
		Find(&views).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return views, nil
}
