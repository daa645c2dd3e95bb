// Package service provides application business logic (rooms, messages, presence).
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"studyroom/internal/models"
	"studyroom/internal/repository"

	"gorm.io/gorm"
)

// RoomService provides room directory business logic.
type RoomService struct {
	roomRepo    repository.RoomRepository
	profileRepo repository.ProfileRepository
}

// ResolveRoomInput is the input for resolving or creating a room.
type ResolveRoomInput struct {
	UserID     uint
	LogicalKey string
	Kind       models.RoomKind
	Name       string
	PeerIDs    []uint
}

// ResolvedRoom pairs a room with whether this call created it.
type ResolvedRoom struct {
	Room    *models.Room
	Created bool
}

// NewRoomService returns a new RoomService.
func NewRoomService(roomRepo repository.RoomRepository, profileRepo repository.ProfileRepository) *RoomService {
	return &RoomService{
		roomRepo:    roomRepo,
		profileRepo: profileRepo,
	}
}

// DirectKey derives the canonical logical key for a direct room between two
// users. The lower id always comes first so both sides resolve the same room.
func DirectKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("direct:%d:%d", a, b)
}

// Resolve returns the active room for the input's logical key, creating it
// when absent. The caller is joined as a participant either way, so a
// resolve is always immediately followed by the caller being able to read
// and post.
func (s *RoomService) Resolve(ctx context.Context, in ResolveRoomInput) (*ResolvedRoom, error) {
	if !in.Kind.Valid() {
		return nil, models.NewValidationError("Unknown room kind")
	}

	key := strings.TrimSpace(in.LogicalKey)
	if in.Kind == models.RoomKindDirect {
		if len(in.PeerIDs) != 1 {
			return nil, models.NewValidationError("Direct rooms require exactly one peer")
		}
		if in.PeerIDs[0] == in.UserID {
			return nil, models.NewValidationError("Cannot open a direct room with yourself")
		}
		key = DirectKey(in.UserID, in.PeerIDs[0])
	}
	if key == "" {
		return nil, models.NewValidationError("Logical key is required")
	}
	if in.Kind == models.RoomKindGroup && strings.TrimSpace(in.Name) == "" {
		return nil, models.NewValidationError("Group rooms require a name")
	}

	room, created, err := s.roomRepo.ResolveOrCreate(ctx, key, in.Kind, in.Name, in.UserID)
	if err != nil {
		return nil, wrapRepoError(err, "room", key)
	}

	role := models.RoleGuest
	if created {
		role = models.RoleOwner
	}
	if _, err := s.roomRepo.Join(ctx, room.ID, in.UserID, role); err != nil {
		return nil, wrapRepoError(err, "room", room.ID)
	}
	for _, peerID := range dedupeIDs(in.PeerIDs, in.UserID) {
		if _, err := s.roomRepo.Join(ctx, room.ID, peerID, models.RoleGuest); err != nil {
			return nil, wrapRepoError(err, "room", room.ID)
		}
	}

	return &ResolvedRoom{Room: room, Created: created}, nil
}

// Join adds the user to an existing room. Joining twice is a no-op.
func (s *RoomService) Join(ctx context.Context, roomID, userID uint) (*models.Participant, error) {
	room, err := s.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, wrapRepoError(err, "room", roomID)
	}
	if !room.IsActive {
		return nil, models.NewConflictError("Room is no longer active")
	}

	participant, err := s.roomRepo.Join(ctx, roomID, userID, models.RoleGuest)
	if err != nil {
		return nil, wrapRepoError(err, "room", roomID)
	}
	return participant, nil
}

// GetRoom returns the room if the user is a member of it.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID uint) (*models.Room, error) {
	ok, err := s.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, wrapRepoError(err, "room", roomID)
	}
	if !ok {
		return nil, models.NewForbiddenError("Not a member of this room")
	}
	room, err := s.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, wrapRepoError(err, "room", roomID)
	}
	return room, nil
}

// Participants lists the room's members in join order, with profiles attached.
func (s *RoomService) Participants(ctx context.Context, roomID, userID uint) ([]*models.Participant, error) {
	ok, err := s.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, wrapRepoError(err, "room", roomID)
	}
	if !ok {
		return nil, models.NewForbiddenError("Not a member of this room")
	}
	return s.roomRepo.ListParticipants(ctx, roomID)
}

// Close deactivates the room. Only the owner may close it.
func (s *RoomService) Close(ctx context.Context, roomID, userID uint) error {
	room, err := s.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return wrapRepoError(err, "room", roomID)
	}
	if room.CreatedBy != userID {
		return models.NewForbiddenError("Only the room owner can close it")
	}
	return wrapRepoError(s.roomRepo.Deactivate(ctx, roomID), "room", roomID)
}

func dedupeIDs(ids []uint, exclude uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// wrapRepoError maps storage errors onto the API error taxonomy.
func wrapRepoError(err error, entity string, id interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(entity, id)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
