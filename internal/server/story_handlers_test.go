package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"glimmer/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStoryEndpoint(t *testing.T) {
	s, app := newHandlerTestServer(t, 30)
	_, token := createHandlerUser(t, s, "alice")

	t.Run("Success", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/stories", token,
			fiber.Map{"mediaUrl": "https://cdn.example.com/clip.mp4", "kind": models.StoryKindVideo, "caption": "weekend"}))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.NotZero(t, body["id"])
		assert.Equal(t, models.StoryKindVideo, body["kind"])
		assert.Equal(t, "weekend", body["caption"])

		expires, err := time.Parse(time.RFC3339, body["expires_at"].(string))
		require.NoError(t, err)
		assert.True(t, expires.After(time.Now()))
	})

	t.Run("Missing media URL", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/stories", token,
			fiber.Map{"kind": models.StoryKindImage}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("Bad kind", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/stories", token,
			fiber.Map{"mediaUrl": "https://cdn.example.com/x.gif", "kind": "GIF"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestGetStoryEndpoint_RecordsViews(t *testing.T) {
	s, app := newHandlerTestServer(t, 30)
	_, ownerToken := createHandlerUser(t, s, "owner")
	viewer, viewerToken := createHandlerUser(t, s, "viewer")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/stories", ownerToken,
		fiber.Map{"mediaUrl": "https://cdn.example.com/s.jpg", "kind": models.StoryKindImage}))
	require.NoError(t, err)
	storyID := uint(decodeBody(t, resp)["id"].(float64))
	storyPath := fmt.Sprintf("/api/stories/%d", storyID)

	// A non-owner view enqueues a record
	resp, err = app.Test(jsonRequest(http.MethodGet, storyPath, viewerToken, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, 1, s.viewRecorder.Pending())

	// The owner's own view does not
	resp, err = app.Test(jsonRequest(http.MethodGet, storyPath, ownerToken, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, 1, s.viewRecorder.Pending())

	s.viewRecorder.FlushOnce(context.Background())

	var views []models.StoryView
	require.NoError(t, s.db.Where("story_id = ?", storyID).Find(&views).Error)
	require.Len(t, views, 1)
	assert.Equal(t, viewer.ID, views[0].ViewerID)
}

func TestGetStoryViewersEndpoint_OwnerOnly(t *testing.T) {
	s, app := newHandlerTestServer(t, 30)
	_, ownerToken := createHandlerUser(t, s, "owner")
	viewer, viewerToken := createHandlerUser(t, s, "viewer")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/stories", ownerToken,
		fiber.Map{"mediaUrl": "https://cdn.example.com/s.jpg", "kind": models.StoryKindImage}))
	require.NoError(t, err)
	storyID := uint(decodeBody(t, resp)["id"].(float64))

	resp, err = app.Test(jsonRequest(http.MethodGet, fmt.Sprintf("/api/stories/%d", storyID), viewerToken, nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	s.viewRecorder.FlushOnce(context.Background())

	viewersPath := fmt.Sprintf("/api/stories/%d/viewers", storyID)

	t.Run("Owner sees viewers", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodGet, viewersPath, ownerToken, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		viewers := decodeBody(t, resp)["viewers"].([]interface{})
		require.Len(t, viewers, 1)
		first := viewers[0].(map[string]interface{})
		assert.Equal(t, float64(viewer.ID), first["viewer_id"])
	})

	t.Run("Non-owner is 403", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodGet, viewersPath, viewerToken, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestExpiredStoryEndpoint(t *testing.T) {
	s, app := newHandlerTestServer(t, 30)
	owner, ownerToken := createHandlerUser(t, s, "owner")
	_, viewerToken := createHandlerUser(t, s, "viewer")

	story := &models.Story{
		UserID:    owner.ID,
		MediaURL:  "https://cdn.example.com/old.jpg",
		Kind:      models.StoryKindImage,
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.db.Create(story).Error)
	storyPath := fmt.Sprintf("/api/stories/%d", story.ID)

	// Gone for everyone but the owner
	resp, err := app.Test(jsonRequest(http.MethodGet, storyPath, viewerToken, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(http.MethodGet, storyPath, ownerToken, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestNotificationEndpoints(t *testing.T) {
	s, app := newHandlerTestServer(t, 30)
	user, token := createHandlerUser(t, s, "alice")
	other, otherToken := createHandlerUser(t, s, "bob")

	notif := &models.Notification{
		UserID:  user.ID,
		ActorID: other.ID,
		Kind:    models.NotificationKindStoryReply,
		Body:    "replied to your story",
	}
	require.NoError(t, s.db.Create(notif).Error)

	t.Run("List", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodGet, "/api/notifications", token, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		notifs := decodeBody(t, resp)["notifications"].([]interface{})
		require.Len(t, notifs, 1)
		first := notifs[0].(map[string]interface{})
		assert.Equal(t, models.NotificationKindStoryReply, first["kind"])
		assert.False(t, first["is_read"].(bool))
	})

	t.Run("Mark read", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodPatch,
			fmt.Sprintf("/api/notifications/%d/read", notif.ID), token, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decodeBody(t, resp)["success"].(bool))

		var reloaded models.Notification
		require.NoError(t, s.db.First(&reloaded, notif.ID).Error)
		assert.True(t, reloaded.IsRead)
	})

	t.Run("Cannot mark another user's notification", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(http.MethodPatch,
			fmt.Sprintf("/api/notifications/%d/read", notif.ID), otherToken, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
