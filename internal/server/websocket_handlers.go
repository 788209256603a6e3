// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"glimmer/internal/cache"
	"glimmer/internal/middleware"
	"glimmer/internal/models"
	"glimmer/internal/notifications"
	"glimmer/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// wsInbound is the envelope for client-to-server websocket frames.
type wsInbound struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
	Content        string `json:"content"`
	Emoji          string `json:"emoji"`
}

// IssueWSTicket handles POST /api/ws/ticket. Browsers cannot set an
// Authorization header on the websocket upgrade, so an authenticated client
// trades its JWT for a short-lived single-use ticket passed as a query param.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(nil))
	}

	ticket := uuid.New().String()
	if err := s.redis.SetEx(c.Context(), cache.TicketKey(ticket),
		idString(userID), cache.TicketTTL).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(cache.TicketTTL.Seconds()),
	})
}

// WebSocketChatHandler handles WebSocket connections for real-time chat
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		ctx := context.Background()

		// Get userID from context locals (set by AuthRequired middleware)
		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket Chat: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			log.Printf("WebSocket Chat: Failed to get user %d: %v", userID, err)
			_ = conn.Close()
			return
		}
		username := user.Username

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Chat: Failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var in wsInbound
			if err := json.Unmarshal(message, &in); err != nil {
				log.Printf("WebSocket: Invalid message format from user %d", userID)
				return
			}

			switch in.Type {
			case "conversation:join":
				if in.ConversationID == 0 {
					return
				}
				// Verify user is a participant before joining the room
				if !s.isUserParticipant(ctx, userID, in.ConversationID) {
					return
				}
				s.hub.JoinConversation(userID, in.ConversationID)
				s.sendEvent(c, "conversation:joined", in.ConversationID, fiber.Map{
					"conversation_id": in.ConversationID,
				})

			case "conversation:leave":
				if in.ConversationID != 0 {
					s.hub.LeaveConversation(userID, in.ConversationID)
				}

			case "typing:start", "typing:stop":
				if in.ConversationID == 0 {
					return
				}
				isTyping := in.Type == "typing:start"
				if err := s.chatService.Typing(ctx, in.ConversationID, userID, username, isTyping); err != nil {
					log.Printf("WebSocket: typing event from user %d rejected: %v", userID, err)
				}

			case "message:send":
				if in.ConversationID == 0 {
					return
				}
				_, err := s.chatService.SendMessage(ctx, service.SendMessageInput{
					SenderID:       userID,
					ConversationID: in.ConversationID,
					Content:        in.Content,
				})
				if err != nil {
					s.sendError(c, err)
				}

			case "message:edit":
				if in.MessageID == 0 {
					return
				}
				if _, err := s.chatService.EditMessage(ctx, in.MessageID, userID, in.Content); err != nil {
					s.sendError(c, err)
				}

			case "message:react":
				if in.MessageID == 0 {
					return
				}
				if err := s.chatService.ReactToMessage(ctx, in.MessageID, userID, in.Emoji); err != nil {
					s.sendError(c, err)
				}
			}
		}

		// Send welcome message
		s.sendEvent(client, "connected", 0, fiber.Map{
			"user_id":  userID,
			"username": username,
		})

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump runs in the main handler goroutine (blocking)
		client.ReadPump()
	})
}

// sendEvent pushes a server-originated frame to a single client.
func (s *Server) sendEvent(c *notifications.Client, eventType string, convID uint, payload interface{}) {
	event, err := notifications.NewEvent(eventType, convID, c.UserID, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.TrySend(data)
}

// sendError reports a rejected websocket command back to its sender.
func (s *Server) sendError(c *notifications.Client, cause error) {
	payload := fiber.Map{"message": cause.Error()}
	var appErr *models.AppError
	if errors.As(cause, &appErr) {
		payload["code"] = appErr.Code
		payload["message"] = appErr.Message
	}
	s.sendEvent(c, "error", 0, payload)
}

// isUserParticipant checks if a user is a participant in a conversation
func (s *Server) isUserParticipant(ctx context.Context, userID, conversationID uint) bool {
	conv, err := s.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.HasParticipant(userID)
}
