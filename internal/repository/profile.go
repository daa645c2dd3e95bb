package repository

import (
	"context"

	"studyroom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository defines the interface for user profile lookups used by
// message enrichment and participant listings.
type ProfileRepository interface {
	Get(ctx context.Context, userID uint) (*models.UserProfile, error)
	Upsert(ctx context.Context, profile *models.UserProfile) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Get(ctx context.Context, userID uint) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.WithContext(ctx).First(&profile, userID).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert writes the profile snapshot propagated from the account service.
func (r *profileRepository) Upsert(ctx context.Context, profile *models.UserProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "is_tutor", "updated_at"}),
	}).Create(profile).Error
}
