package service

import (
	"context"
	"time"

	"glimmer/internal/cache"
	"glimmer/internal/models"
	"glimmer/internal/repository"
)

const defaultStoryTTL = 24 * time.Hour

// StoryService provides story posting, viewing, and the story-owner inbox.
type StoryService struct {
	stories  repository.StoryRepository
	notifs   repository.NotificationRepository
	recorder *StoryViewRecorder
	ttl      time.Duration
}

// NewStoryService returns a new StoryService. The recorder is optional; when
// nil, views are not recorded.
func NewStoryService(stories repository.StoryRepository, notifs repository.NotificationRepository, recorder *StoryViewRecorder, ttl time.Duration) *StoryService {
	if ttl <= 0 {
		ttl = defaultStoryTTL
	}
	return &StoryService{
		stories:  stories,
		notifs:   notifs,
		recorder: recorder,
		ttl:      ttl,
	}
}

// PostStoryInput is the input for posting a story.
type PostStoryInput struct {
	UserID   uint
	MediaURL string
	Kind     string
	Caption  string
}

// PostStory creates a story expiring after the configured TTL.
func (s *StoryService) PostStory(ctx context.Context, in PostStoryInput) (*models.Story, error) {
	if in.MediaURL == "" {
		return nil, models.NewValidationError("Story media URL is required")
	}
	if in.Kind != models.StoryKindImage && in.Kind != models.StoryKindVideo {
		return nil, models.NewValidationError("Story kind must be IMAGE or VIDEO")
	}
	if len(in.Caption) > 500 {
		return nil, models.NewValidationError("Story caption too long (max 500 characters)")
	}

	story := &models.Story{
		UserID:    in.UserID,
		MediaURL:  in.MediaURL,
		Kind:      in.Kind,
		Caption:   in.Caption,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}
	return story, nil
}

// GetStory returns a story for the viewer. Viewing someone else's live story
// enqueues a view record; the owner additionally sees the view count.
func (s *StoryService) GetStory(ctx context.Context, storyID, viewerID uint) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Expired(time.Now()) && story.UserID != viewerID {
		return nil, models.NewNotFoundError("Story", storyID)
	}

	if story.UserID != viewerID && s.recorder != nil {
		s.recorder.Record(models.StoryView{StoryID: storyID, ViewerID: viewerID})
	}

	if story.UserID == viewerID {
		var count int64
		err := cache.Aside(ctx, cache.StoryViewCountKey(storyID), &count, cache.StoryViewCountTTL, func() error {
			var cerr error
			count, cerr = s.stories.ViewCount(ctx, storyID)
			return cerr
		})
		if err == nil {
			story.ViewCount = count
		}
	}

	return story, nil
}

// ActiveStories returns the unexpired stories of the given authors.
func (s *StoryService) ActiveStories(ctx context.Context, userIDs []uint) ([]*models.Story, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return s.stories.ActiveForUsers(ctx, userIDs, time.Now())
}

// Viewers returns who has seen the story. Owner only.
func (s *StoryService) Viewers(ctx context.Context, storyID, requesterID uint, limit int) ([]models.StoryView, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.UserID != requesterID {
		return nil, models.NewForbiddenError("Only the story owner can see viewers")
	}
	if limit < 1 || limit > maxPageLimit {
		limit = 50
	}
	return s.stories.Viewers(ctx, storyID, limit)
}

// Notifications returns the user's inbox entries, newest first.
func (s *StoryService) Notifications(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	if limit < 1 || limit > maxPageLimit {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifs.ListForUser(ctx, userID, limit, offset)
}

// MarkNotificationRead marks one inbox entry read.
func (s *StoryService) MarkNotificationRead(ctx context.Context, id, userID uint) error {
	return s.notifs.MarkRead(ctx, id, userID)
}
