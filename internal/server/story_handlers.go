// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"glimmer/internal/models"
	"glimmer/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateStory handles POST /api/stories
func (s *Server) CreateStory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		MediaURL string `json:"mediaUrl" form:"mediaUrl"`
		Kind     string `json:"kind" form:"kind"`
		Caption  string `json:"caption" form:"caption"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	story, err := s.storyService.PostStory(c.Context(), service.PostStoryInput{
		UserID:   userID,
		MediaURL: req.MediaURL,
		Kind:     req.Kind,
		Caption:  req.Caption,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(story)
}

// GetStory handles GET /api/stories/:id. A non-owner view is recorded
// through the batched view recorder.
func (s *Server) GetStory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	storyID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	story, err := s.storyService.GetStory(c.Context(), storyID, userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(story)
}

// GetStoryViewers handles GET /api/stories/:id/viewers (owner only)
func (s *Server) GetStoryViewers(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	storyID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	pagination := parsePagination(c, 50)
	viewers, err := s.storyService.Viewers(c.Context(), storyID, userID, pagination.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"viewers": viewers})
}

// GetNotifications handles GET /api/notifications
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	pagination := parsePagination(c, 20)

	notifs, err := s.storyService.Notifications(c.Context(), userID, pagination.Limit, pagination.Offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"notifications": notifs})
}

// MarkNotificationRead handles PATCH /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	notifID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.storyService.MarkNotificationRead(c.Context(), notifID, userID); err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}
