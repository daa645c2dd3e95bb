// Package repository provides data access for rooms, participants and messages.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomRepository defines the interface for room and participant data operations.
type RoomRepository interface {
	ResolveOrCreate(ctx context.Context, logicalKey string, kind models.RoomKind, name string, createdBy uint) (*models.Room, bool, error)
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	Deactivate(ctx context.Context, id uint) error
	Join(ctx context.Context, roomID, userID uint, role models.ParticipantRole) (*models.Participant, error)
	ListParticipants(ctx context.Context, roomID uint) ([]*models.Participant, error)
	IsParticipant(ctx context.Context, roomID, userID uint) (bool, error)
}

type roomRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewRoomRepository creates a new room repository.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{
		db:  db,
		log: observability.NewRepoLogger("rooms"),
	}
}

// ResolveOrCreate returns the active room for (logicalKey, kind), creating it
// when absent. Two clients resolving the same key concurrently race on the
// partial unique index uniq_active_room_per_key; the loser's INSERT fails
// with a duplicate-key error and we re-fetch the winner's row, so both
// callers observe the same room id. The bool reports whether this call
// created the row.
func (r *roomRepository) ResolveOrCreate(ctx context.Context, logicalKey string, kind models.RoomKind, name string, createdBy uint) (*models.Room, bool, error) {
	room, err := r.findActive(ctx, logicalKey, kind)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	candidate := &models.Room{
		LogicalKey: logicalKey,
		Kind:       kind,
		Name:       name,
		IsActive:   true,
		CreatedBy:  createdBy,
	}
	createErr := r.db.WithContext(ctx).Create(candidate).Error
	if createErr == nil {
		r.log.LogCreate(ctx, map[string]interface{}{
			"room_id":     candidate.ID,
			"logical_key": logicalKey,
			"kind":        kind,
		})
		return candidate, true, nil
	}
	if !isDuplicateKeyError(createErr) {
		r.log.LogError(ctx, createErr, "create")
		return nil, false, createErr
	}

	// Lost the race: another caller created the room between our lookup and
	// insert. Return the winner's row.
	room, err = r.findActive(ctx, logicalKey, kind)
	return room, false, err
}

func (r *roomRepository) findActive(ctx context.Context, logicalKey string, kind models.RoomKind) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Where("logical_key = ? AND kind = ? AND is_active = ?", logicalKey, kind, true).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// Deactivate flips the activity flag. Rooms are never hard-deleted; history
// stays reachable for members after the originating session ends.
func (r *roomRepository) Deactivate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"room_id": id, "is_active": false})
	return nil
}

// Join upserts the membership row. Re-joining updates last_seen_at instead of
// duplicating, which also makes retried join requests harmless.
func (r *roomRepository) Join(ctx context.Context, roomID, userID uint, role models.ParticipantRole) (*models.Participant, error) {
	now := time.Now().UTC()
	participant := models.Participant{
		RoomID:     roomID,
		UserID:     userID,
		Role:       role,
		LastSeenAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_seen_at": now}),
	}).Create(&participant).Error
	if err != nil {
		r.log.LogError(ctx, err, "join")
		return nil, err
	}

	var stored models.Participant
	err = r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *roomRepository) ListParticipants(ctx context.Context, roomID uint) ([]*models.Participant, error) {
	var participants []*models.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Preload("Profile").
		Order("joined_at ASC, user_id ASC").
		Find(&participants).Error
	return participants, err
}

func (r *roomRepository) IsParticipant(ctx context.Context, roomID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// isDuplicateKeyError detects unique-constraint violations across the
// Postgres and SQLite drivers. GORM's translated sentinel covers Postgres;
// the string checks cover drivers that don't translate.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
