package server

import (
	"log"

	"studyroom/internal/models"
	"studyroom/internal/notifications"
	"studyroom/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RoomResponse is the API response shape for a room resolve.
type RoomResponse struct {
	*models.Room
	Created bool `json:"created"`
}

// ResolveRoom handles POST /api/rooms/resolve
// @Summary Resolve or create a room
// @Description Returns the active room for a logical key, creating it if needed. Safe to retry.
// @Tags rooms
// @Accept json
// @Produce json
// @Success 200 {object} RoomResponse
// @Success 201 {object} RoomResponse
// @Router /api/rooms/resolve [post]
func (s *Server) ResolveRoom(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		LogicalKey string `json:"logical_key"`
		Kind       string `json:"kind"`
		Name       string `json:"name,omitempty"`
		PeerIDs    []uint `json:"peer_ids,omitempty"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	resolved, err := s.roomService.Resolve(ctx, service.ResolveRoomInput{
		UserID:     userID,
		LogicalKey: req.LogicalKey,
		Kind:       models.RoomKind(req.Kind),
		Name:       req.Name,
		PeerIDs:    req.PeerIDs,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	status := fiber.StatusOK
	if resolved.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(RoomResponse{
		Room:    resolved.Room,
		Created: resolved.Created,
	})
}

// GetRoom handles GET /api/rooms/:id
func (s *Server) GetRoom(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	room, err := s.roomService.GetRoom(ctx, roomID, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(room)
}

// JoinRoom handles POST /api/rooms/:id/join
func (s *Server) JoinRoom(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	participant, err := s.roomService.Join(ctx, roomID, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	if s.notifier != nil {
		if perr := s.notifier.PublishParticipant(ctx, roomID, userID, "joined"); perr != nil {
			log.Printf("publish participant joined: %v", perr)
		}
	}

	return c.JSON(participant)
}

// GetParticipants handles GET /api/rooms/:id/participants
func (s *Server) GetParticipants(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	participants, err := s.roomService.Participants(ctx, roomID, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(participants)
}

// RoomPresenceResponse lists which members of a room are currently online.
type RoomPresenceResponse struct {
	RoomID        uint   `json:"room_id"`
	OnlineUserIDs []uint `json:"online_user_ids"`
	MemberCount   int    `json:"member_count"`
}

// GetRoomPresence handles GET /api/rooms/:id/presence
// Presence is derived, never stored with membership: the member list comes
// from the directory, liveness from the presence tracker.
func (s *Server) GetRoomPresence(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	participants, err := s.roomService.Participants(ctx, roomID, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	memberIDs := make([]uint, 0, len(participants))
	for _, p := range participants {
		memberIDs = append(memberIDs, p.UserID)
	}

	online := []uint{}
	if s.presence != nil {
		online = s.presence.FilterOnline(ctx, memberIDs)
	}

	return c.JSON(RoomPresenceResponse{
		RoomID:        roomID,
		OnlineUserIDs: online,
		MemberCount:   len(memberIDs),
	})
}

// CloseRoom handles DELETE /api/rooms/:id
// Deactivates the room so the next resolve for the same logical key creates
// a fresh one. Message history is retained.
func (s *Server) CloseRoom(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.roomService.Close(ctx, roomID, userID); err != nil {
		return respondServiceError(c, err)
	}

	if s.roomHub != nil {
		s.roomHub.BroadcastToRoom(roomID, notifications.RoomEvent{
			Type:   "room_closed",
			RoomID: roomID,
			UserID: userID,
			Payload: fiber.Map{
				"room_id": roomID,
			},
		})
	}

	return c.JSON(fiber.Map{"message": "Room closed"})
}

// StartCall handles POST /api/rooms/:id/call/start
func (s *Server) StartCall(c *fiber.Ctx) error {
	return s.publishCallStatus(c, "started")
}

// EndCall handles POST /api/rooms/:id/call/end
func (s *Server) EndCall(c *fiber.Ctx) error {
	return s.publishCallStatus(c, "ended")
}

func (s *Server) publishCallStatus(c *fiber.Ctx, status string) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	member, err := s.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	if !member {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Not a participant of this room"))
	}

	if s.notifier != nil {
		if perr := s.notifier.PublishCall(ctx, roomID, userID, status); perr != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError, perr)
		}
	}

	return c.JSON(fiber.Map{"message": "Call " + status})
}
