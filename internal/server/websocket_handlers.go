package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"studyroom/internal/middleware"
	"studyroom/internal/models"
	"studyroom/internal/notifications"
	"studyroom/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const wsTicketTTL = 30 * time.Second

// IssueWSTicket handles POST /api/ws/ticket. Browsers cannot set headers on
// WebSocket upgrades, so an authenticated client exchanges its JWT for a
// short-lived single-use ticket passed as a query parameter.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewTransientError("Realtime layer unavailable", nil))
	}

	ticket := uuid.NewString()
	key := fmt.Sprintf("ws_ticket:%s", ticket)
	if err := s.redis.Set(c.Context(), key, fmt.Sprintf("%d", userID), wsTicketTTL).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// WebSocketRoomHandler handles WebSocket connections for realtime room traffic
func (s *Server) WebSocketRoomHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		// Get userID from context locals (set by AuthRequired middleware)
		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket Rooms: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		if s.roomHub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.roomHub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Rooms: Failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(cl *notifications.Client, raw []byte) {
			var frame struct {
				Type    string `json:"type"`
				RoomID  uint   `json:"room_id"`
				Content string `json:"content"`
				Typing  bool   `json:"is_typing"`
			}
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("WebSocket: Invalid frame from user %d", userID)
				return
			}

			switch frame.Type {
			case "subscribe":
				// Attach this connection to a room's fan-out. Membership is
				// checked against the directory, not the socket.
				if frame.RoomID == 0 || !s.isRoomMember(ctx, userID, frame.RoomID) {
					return
				}
				s.roomHub.JoinRoom(userID, frame.RoomID)
				ack := notifications.RoomEvent{
					Type:   "subscribed",
					RoomID: frame.RoomID,
					UserID: userID,
				}
				if ackJSON, err := json.Marshal(ack); err == nil {
					cl.TrySend(ackJSON)
				}

			case "unsubscribe":
				if frame.RoomID != 0 {
					s.roomHub.LeaveRoom(userID, frame.RoomID)
				}

			case "typing":
				// Typing indicators are throttled to keep chatter off the wire
				if frame.RoomID == 0 || s.notifier == nil {
					return
				}
				if !s.isRoomMember(ctx, userID, frame.RoomID) {
					return
				}
				id := fmt.Sprintf("user:%d", userID)
				allowed, _ := middleware.CheckRateLimit(ctx, s.redis, "typing", id, 10, 10*time.Second)
				if !allowed {
					return
				}
				status := "typing"
				if !frame.Typing {
					status = "stopped_typing"
				}
				if perr := s.notifier.PublishPresence(ctx, frame.RoomID, userID, status); perr != nil {
					log.Printf("publish typing indicator: %v", perr)
				}

			case "message":
				// Send a message (alternative to the HTTP endpoint)
				if frame.RoomID == 0 || frame.Content == "" {
					return
				}
				// Same rate limit as HTTP sends
				id := fmt.Sprintf("user:%d", userID)
				allowed, _ := middleware.CheckRateLimit(ctx, s.redis, "send_chat", id, 15, time.Minute)
				if !allowed {
					errEvent := notifications.RoomEvent{
						Type:   "error",
						RoomID: frame.RoomID,
						Payload: map[string]string{
							"message": "Rate limit exceeded. Please wait a moment.",
						},
					}
					if errJSON, err := json.Marshal(errEvent); err == nil {
						cl.TrySend(errJSON)
					}
					return
				}

				message, err := s.messageService.Send(ctx, service.SendMessageInput{
					UserID:  userID,
					RoomID:  frame.RoomID,
					Type:    models.MessageTypeText,
					Content: frame.Content,
				})
				if err != nil {
					log.Printf("WebSocket: send message for user %d: %v", userID, err)
					return
				}

				s.publishMessageEvent(ctx, frame.RoomID, userID, message)
			}
		}

		// Confirm the connection before pumps start
		hello := notifications.RoomEvent{
			Type:    "connected",
			UserID:  userID,
			Payload: map[string]interface{}{"user_id": userID},
		}
		if helloJSON, err := json.Marshal(hello); err == nil {
			client.TrySend(helloJSON)
		}

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump runs in the main handler goroutine (blocking)
		client.ReadPump()
	})
}

// isRoomMember checks durable membership in the room directory.
func (s *Server) isRoomMember(ctx context.Context, userID, roomID uint) bool {
	member, err := s.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return false
	}
	return member
}
