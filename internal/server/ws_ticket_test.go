package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studyroom/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": "studyroom-api",
		"aud": "studyroom-client",
		"sub": "123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthRequired(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := &Server{
		config: &config.Config{JWTSecret: "test-secret"},
		redis:  rdb,
	}

	app := fiber.New()
	app.Get("/api/ws/test", s.AuthRequired(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})
	app.Get("/api/other", s.AuthRequired(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	ctx := context.Background()

	t.Run("ValidTicketIsSingleUse", func(t *testing.T) {
		ticket := "ws-test-ticket-1"
		key := fmt.Sprintf("ws_ticket:%s", ticket)
		require.NoError(t, rdb.Set(ctx, key, "123", time.Minute).Err())

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket="+ticket, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		// Consumed from Redis on first use
		exists, err := rdb.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)

		// Second use fails on a WS path
		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket="+ticket, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("InvalidTicketOnWSPath", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket=bogus", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("BearerTokenAccepted", func(t *testing.T) {
		token := signTestToken(t, "test-secret", nil)
		req := httptest.NewRequest(http.MethodGet, "/api/other", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("WrongIssuerRejected", func(t *testing.T) {
		token := signTestToken(t, "test-secret", func(c jwt.MapClaims) {
			c["iss"] = "someone-else"
		})
		req := httptest.NewRequest(http.MethodGet, "/api/other", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongSecretRejected", func(t *testing.T) {
		token := signTestToken(t, "other-secret", nil)
		req := httptest.NewRequest(http.MethodGet, "/api/other", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("RevokedJTIRejected", func(t *testing.T) {
		token := signTestToken(t, "test-secret", func(c jwt.MapClaims) {
			c["jti"] = "revoked-token"
		})
		require.NoError(t, rdb.Set(ctx, "blacklist:revoked-token", "1", time.Minute).Err())

		req := httptest.NewRequest(http.MethodGet, "/api/other", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("QueryTokenRejectedOnWSPath", func(t *testing.T) {
		token := signTestToken(t, "test-secret", nil)
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?token="+token, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("MissingAuthRejected", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/other", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestIssueWSTicket(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := &Server{
		config: &config.Config{JWTSecret: "test-secret"},
		redis:  rdb,
	}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", uint(42))
		return c.Next()
	})
	app.Post("/api/ws/ticket", s.IssueWSTicket)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/ws/ticket", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body.Ticket)
	assert.Equal(t, int(wsTicketTTL.Seconds()), body.ExpiresIn)

	// Ticket maps back to the issuing user
	val, err := rdb.Get(context.Background(), "ws_ticket:"+body.Ticket).Result()
	require.NoError(t, err)
	assert.Equal(t, "42", val)
}

func TestIssueWSTicketWithoutRedis(t *testing.T) {
	s := &Server{config: &config.Config{JWTSecret: "test-secret"}}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", uint(42))
		return c.Next()
	})
	app.Post("/api/ws/ticket", s.IssueWSTicket)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/ws/ticket", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
