package server

import (
	"context"
	"errors"
	"strings"

	"studyroom/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// GetMyProfile handles GET /api/users/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	profile, err := s.profileRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// First contact: mirror the profile from token claims when present.
			if synced, serr := s.syncProfileFromClaims(ctx, c, userID); serr == nil && synced != nil {
				return c.JSON(synced)
			}
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("Profile", userID))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(profile)
}

// UpdateMyProfile handles PUT /api/users/me
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url,omitempty"`
		IsTutor     bool   `json:"is_tutor,omitempty"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("display_name is required"))
	}

	profile := &models.UserProfile{
		ID:          userID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		IsTutor:     req.IsTutor,
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(profile)
}

// syncProfileFromClaims creates a local profile row from optional token
// claims. Returns (nil, nil) when the token carried no profile claims.
func (s *Server) syncProfileFromClaims(ctx context.Context, c *fiber.Ctx, userID uint) (*models.UserProfile, error) {
	name, ok := c.Locals("displayName").(string)
	if !ok || name == "" {
		return nil, nil
	}
	isTutor, _ := c.Locals("isTutor").(bool)

	profile := &models.UserProfile{
		ID:          userID,
		DisplayName: name,
		IsTutor:     isTutor,
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
