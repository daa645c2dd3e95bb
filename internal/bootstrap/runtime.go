// Package bootstrap wires runtime dependencies for the server and tooling.
package bootstrap

import (
	"fmt"

	"studyroom/internal/cache"
	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// Migrate applies the schema before the server starts. Disable when a
	// separate migration step owns the schema.
	Migrate bool
	// SeedBuiltIns creates the permanent lounge rooms.
	SeedBuiltIns bool
}

// InitRuntime connects to DB and Redis and optionally migrates and runs
// built-in seeding.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	// Connect DB
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.Migrate {
		if err := database.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("schema migration failed: %w", err)
		}
	}

	if opts.SeedBuiltIns {
		if err := seed.Lounges(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed built-in lounges: %w", err)
		}
	}

	return db, r, nil
}
