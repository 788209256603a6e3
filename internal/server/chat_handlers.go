// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"glimmer/internal/models"
	"glimmer/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	conversations, total, err := s.chatService.ListConversations(c.Context(), userID, page, limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"total":         total,
		"page":          page,
		"limit":         limit,
	})
}

// StartConversation handles POST /api/messages/start
func (s *Server) StartConversation(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		ParticipantID uint `json:"participantId"`
	}
	if err := c.BodyParser(&req); err != nil || req.ParticipantID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("participantId is required"))
	}

	conv, created, err := s.chatService.StartConversation(c.Context(), userID, req.ParticipantID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"conversationId": conv.ID,
		"participants":   conv.Participants,
		"isNew":          created,
	})
}

// GetMessages handles GET /api/conversations/:id/messages.
// `before` is a keyset cursor on message ID: pass the oldest message ID from
// the previous page to fetch the page preceding it. IDs are append-ordered
// within a conversation, so this pages identically to a timestamp cursor
// without needing a tiebreaker.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	limit := c.QueryInt("limit", 50)
	before := uint(c.QueryInt("before", 0))

	messages, hasMore, err := s.chatService.FetchMessages(c.Context(), convID, userID, limit, before)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"hasMore":  hasMore,
	})
}

// SendMessage handles POST /api/conversations/:id/messages. Accepts JSON or
// multipart form bodies; attachment media is referenced by URL, the upload
// itself happens out of band.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content        string `json:"content" form:"content"`
		ReplyToID      uint   `json:"replyToId" form:"replyToId"`
		AttachmentURL  string `json:"attachmentUrl" form:"attachmentUrl"`
		AttachmentKind string `json:"attachmentKind" form:"attachmentKind"`
		AttachmentName string `json:"attachmentName" form:"attachmentName"`
		AttachmentSize int64  `json:"attachmentSize" form:"attachmentSize"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	in := service.SendMessageInput{
		SenderID:       userID,
		ConversationID: convID,
		Content:        req.Content,
	}
	if req.ReplyToID != 0 {
		replyTo := req.ReplyToID
		in.ReplyToID = &replyTo
	}
	if req.AttachmentURL != "" {
		kind := req.AttachmentKind
		if kind == "" {
			kind = models.AttachmentKindFile
		}
		in.Attachments = []models.Attachment{{
			URL:      req.AttachmentURL,
			Kind:     kind,
			Filename: req.AttachmentName,
			Size:     req.AttachmentSize,
		}}
	}

	view, err := s.chatService.SendMessage(c.Context(), in)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(view)
}

// UpdateMessage handles PATCH /api/messages/:id/update
func (s *Server) UpdateMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	view, err := s.chatService.EditMessage(c.Context(), msgID, userID, req.Content)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": view,
	})
}

// DeleteMessage handles DELETE /api/messages/:id/delete
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.chatService.DeleteMessage(c.Context(), msgID, userID); err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// SearchMessages handles GET /api/conversations/:id/search
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	if !s.flags.Enabled("message_search", userID) {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Message search is not available for this account"))
	}
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	query := c.Query("q")
	limit := c.QueryInt("limit", 20)

	results, err := s.chatService.SearchMessages(c.Context(), convID, userID, query, limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"results": results})
}

// ReplyToStory handles POST /api/messages/reply-story
func (s *Server) ReplyToStory(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	if !s.flags.Enabled("story_replies", userID) {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Story replies are not available for this account"))
	}

	var req struct {
		StoryID uint   `json:"storyId"`
		Content string `json:"content"`
		Emoji   string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.StoryID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("storyId is required"))
	}

	result, err := s.chatService.ReplyToStory(c.Context(), service.ReplyToStoryInput{
		UserID:  userID,
		StoryID: req.StoryID,
		Content: req.Content,
		Emoji:   req.Emoji,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// AddReaction handles POST /api/messages/:id/reactions
func (s *Server) AddReaction(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.chatService.ReactToMessage(c.Context(), msgID, userID, req.Emoji); err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// RemoveReaction handles DELETE /api/messages/:id/reactions
func (s *Server) RemoveReaction(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.chatService.RemoveReaction(c.Context(), msgID, userID); err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}
