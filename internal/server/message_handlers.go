package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/notifications"
	"studyroom/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// MessagePage is the API response shape for a history page. NextBefore and
// NextBeforeID, when present, feed the next request's before/before_id query
// parameters; their absence means the start of history was reached.
type MessagePage struct {
	Messages     []*models.Message `json:"messages"`
	NextBefore   *string           `json:"next_before,omitempty"`
	NextBeforeID *uint             `json:"next_before_id,omitempty"`
}

// GetMessages handles GET /api/rooms/:id/messages
// @Summary Page a room's message history
// @Description Returns messages in chronological order, newest page first. Cursor is (before, before_id).
// @Tags messages
// @Produce json
// @Success 200 {object} MessagePage
// @Router /api/rooms/{id}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	before, limit, err := parseHistoryPage(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	messages, next, err := s.messageService.History(ctx, service.HistoryInput{
		UserID: userID,
		RoomID: roomID,
		Before: before,
		Limit:  limit,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	page := MessagePage{Messages: messages}
	if next != nil {
		ts := next.CreatedAt.UTC().Format(time.RFC3339Nano)
		id := next.ID
		page.NextBefore = &ts
		page.NextBeforeID = &id
	}

	return c.JSON(page)
}

// SendMessage handles POST /api/rooms/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content      string `json:"content"`
		Type         string `json:"type,omitempty"`
		CodeLanguage string `json:"code_language,omitempty"`
		FileName     string `json:"file_name,omitempty"`
		FileSize     int64  `json:"file_size,omitempty"`
		FileURL      string `json:"file_url,omitempty"`
		ReplyToID    *uint  `json:"reply_to_id,omitempty"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	message, err := s.messageService.Send(ctx, service.SendMessageInput{
		UserID:       userID,
		RoomID:       roomID,
		Type:         models.MessageType(req.Type),
		Content:      req.Content,
		CodeLanguage: req.CodeLanguage,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		FileURL:      req.FileURL,
		ReplyToID:    req.ReplyToID,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	s.publishMessageEvent(ctx, roomID, userID, message)

	return c.Status(fiber.StatusCreated).JSON(message)
}

// publishMessageEvent fans a persisted message out over Redis so every
// instance's room hub delivers it. The event ID makes redelivery safe for
// deduplicating consumers. Delivery is best-effort; the message is already
// durable by the time this runs.
func (s *Server) publishMessageEvent(ctx context.Context, roomID, userID uint, message *models.Message) {
	if s.notifier == nil {
		return
	}

	event := notifications.RoomEvent{
		Type:    "message",
		EventID: uuid.NewString(),
		RoomID:  roomID,
		UserID:  userID,
		Payload: message,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal room message event: %v", err)
		return
	}
	if perr := s.notifier.PublishRoomMessage(ctx, roomID, string(eventJSON)); perr != nil {
		log.Printf("publish room message: %v", perr)
	}
}

// MarkMessageRead handles POST /api/messages/:id/read
func (s *Server) MarkMessageRead(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messageService.MarkRead(ctx, userID, msgID); err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Message marked as read"})
}

// EditMessage handles PUT /api/messages/:id
func (s *Server) EditMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.messageService.Edit(ctx, userID, msgID, req.Content); err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Message updated"})
}

// DeleteMessage handles DELETE /api/messages/:id
// The row survives as a tombstone; only the content is hidden.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messageService.Delete(ctx, userID, msgID); err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Message deleted"})
}
