package models

import "time"

// UserProfile is the minimal projection of a user this service needs for
// sender enrichment and participant listings. Identity issuance and
// credentials live in the external identity provider; rows here are synced
// from JWT claims on first contact and are intentionally sparse.
type UserProfile struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DisplayName string    `gorm:"not null" json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsTutor     bool      `gorm:"not null;default:false" json:"is_tutor"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlaceholderProfile is substituted when sender enrichment fails; event
// delivery is never blocked on a profile lookup.
func PlaceholderProfile(userID uint) *UserProfile {
	return &UserProfile{
		ID:          userID,
		DisplayName: "Unknown user",
	}
}
