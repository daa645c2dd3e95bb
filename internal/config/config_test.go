package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{
			"Development defaults pass",
			Config{Env: "development", Port: "8480", JWTSecret: "your-secret-key-change-in-production", DBPassword: "password"},
			false,
		},
		{
			"Missing port",
			Config{Env: "development", JWTSecret: "some-secret"},
			true,
		},
		{
			"Missing JWT secret",
			Config{Env: "development", Port: "8480"},
			true,
		},
		{
			"Production with default JWT secret",
			Config{Env: "production", Port: "8480", JWTSecret: "your-secret-key-change-in-production", DBPassword: "strong-password"},
			true,
		},
		{
			"Production with short JWT secret",
			Config{Env: "production", Port: "8480", JWTSecret: "short", DBPassword: "strong-password"},
			true,
		},
		{
			"Production with weak DB password",
			Config{Env: "production", Port: "8480", JWTSecret: "secure-secret-at-least-32-chars-long", DBPassword: "password"},
			true,
		},
		{
			"Production fully configured",
			Config{Env: "production", Port: "8480", JWTSecret: "secure-secret-at-least-32-chars-long", DBPassword: "strong-password", DBSSLMode: "require"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	c := Config{
		DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p",
		DBName: "studyroom", DBSSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=studyroom sslmode=disable",
		c.DSN())
}
