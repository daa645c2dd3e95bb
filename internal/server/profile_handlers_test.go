package server

import (
	"net/http"
	"testing"

	"studyroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMyProfile(t *testing.T) {
	_, app, db := newTestServer(t)
	db.Create(&models.UserProfile{ID: 1, DisplayName: "Tutor Tina", IsTutor: true})

	t.Run("Existing", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/users/me", nil, 1))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var profile models.UserProfile
		decodeBody(t, resp, &profile)
		assert.Equal(t, "Tutor Tina", profile.DisplayName)
		assert.True(t, profile.IsTutor)
	})

	t.Run("MissingWithoutClaims", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/users/me", nil, 7))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestUpdateMyProfile(t *testing.T) {
	_, app, db := newTestServer(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPut, "/api/users/me", map[string]interface{}{
		"display_name": "Student Sam",
		"avatar_url":   "https://cdn.example.com/sam.png",
	}, 2))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.UserProfile
	require.NoError(t, db.First(&stored, 2).Error)
	assert.Equal(t, "Student Sam", stored.DisplayName)
	assert.Equal(t, "https://cdn.example.com/sam.png", stored.AvatarURL)

	// Upsert path: updating again replaces fields in place
	resp, err = app.Test(jsonRequest(t, http.MethodPut, "/api/users/me", map[string]interface{}{
		"display_name": "Sam the Scholar",
	}, 2))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, db.First(&stored, 2).Error)
	assert.Equal(t, "Sam the Scholar", stored.DisplayName)

	t.Run("BlankNameRejected", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodPut, "/api/users/me", map[string]interface{}{
			"display_name": "   ",
		}, 2))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
