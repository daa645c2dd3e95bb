package database

import (
	"fmt"

	"studyroom/internal/models"

	"gorm.io/gorm"
)

// Migrate applies the schema for all chat models and the constraints GORM
// tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.UserProfile{},
		&models.Room{},
		&models.Participant{},
		&models.Message{},
	); err != nil {
		return err
	}
	return ensureRoomUniqueIndex(db)
}

// ensureRoomUniqueIndex creates the partial unique index that enforces "at
// most one active room per (logical_key, kind)". Concurrent
// ResolveOrCreateRoom callers race on INSERT; the loser hits this constraint
// and re-fetches the winner's row. Postgres and SQLite both support partial
// indexes with this syntax.
func ensureRoomUniqueIndex(db *gorm.DB) error {
	const stmt = `CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_room_per_key
		ON rooms (logical_key, kind) WHERE is_active AND deleted_at IS NULL`
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create unique active-room index: %w", err)
	}
	return nil
}
