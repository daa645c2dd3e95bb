// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// RoomKind classifies a room by the context it was created for.
type RoomKind string

const (
	RoomKindDirect  RoomKind = "direct"
	RoomKindGroup   RoomKind = "group"
	RoomKindSession RoomKind = "session"
)

// Valid reports whether the kind is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomKindDirect, RoomKindGroup, RoomKindSession:
		return true
	}
	return false
}

// Room is a named conversation scope, one per logical context (e.g. a
// tutoring session). At most one active room exists per (logical_key, kind);
// the partial unique index backing that invariant is created in
// database.Migrate since GORM tags cannot express WHERE clauses.
type Room struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	LogicalKey string         `gorm:"not null;index:idx_rooms_logical_key" json:"logical_key"`
	Kind       RoomKind       `gorm:"type:varchar(16);not null;default:'session'" json:"kind"`
	Name       string         `json:"name"`
	IsActive   bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedBy  uint           `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Participants []Participant `gorm:"foreignKey:RoomID" json:"participants,omitempty"`
	Messages     []Message     `gorm:"foreignKey:RoomID" json:"messages,omitempty"`
}

// ParticipantRole distinguishes the room owner (the tutor or the user whose
// join created the room) from invited guests.
type ParticipantRole string

const (
	RoleOwner ParticipantRole = "owner"
	RoleGuest ParticipantRole = "guest"
)

// Participant is a durable membership record linking a user to a room.
// Membership survives disconnects; online/offline state lives in the
// presence layer, never here.
type Participant struct {
	RoomID     uint            `gorm:"primaryKey" json:"room_id"`
	UserID     uint            `gorm:"primaryKey" json:"user_id"`
	Role       ParticipantRole `gorm:"type:varchar(16);not null;default:'guest'" json:"role"`
	IsAdmin    bool            `gorm:"not null;default:false" json:"is_admin"`
	JoinedAt   time.Time       `gorm:"autoCreateTime" json:"joined_at"`
	LastSeenAt time.Time       `json:"last_seen_at"`

	Profile *UserProfile `gorm:"foreignKey:UserID;references:ID" json:"profile,omitempty"`
}
