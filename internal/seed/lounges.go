package seed

import (
	_ "embed"
	"errors"
	"fmt"

	"studyroom/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed lounges.yml
var loungesYAML []byte

// BuiltInLounge is a permanent drop-in group room that exists on every
// deployment. Unlike session rooms, lounges are never closed.
type BuiltInLounge struct {
	LogicalKey string `yaml:"logical_key"`
	Name       string `yaml:"name"`
}

type loungeFixture struct {
	Lounges []BuiltInLounge `yaml:"lounges"`
}

// BuiltInLounges parses the embedded fixture.
func BuiltInLounges() ([]BuiltInLounge, error) {
	var fixture loungeFixture
	if err := yaml.Unmarshal(loungesYAML, &fixture); err != nil {
		return nil, fmt.Errorf("parse lounges fixture: %w", err)
	}
	return fixture.Lounges, nil
}

// Lounges seeds the permanent built-in group rooms. Safe to run on every
// startup: an existing active lounge is renamed in place, never duplicated.
func Lounges(db *gorm.DB) error {
	lounges, err := BuiltInLounges()
	if err != nil {
		return err
	}

	for _, item := range lounges {
		err := db.Transaction(func(tx *gorm.DB) error {
			var existing models.Room
			queryErr := tx.Where(
				"logical_key = ? AND kind = ? AND is_active = ?",
				item.LogicalKey, models.RoomKindGroup, true,
			).First(&existing).Error
			switch {
			case queryErr == nil:
				if existing.Name != item.Name {
					return tx.Model(&models.Room{}).
						Where("id = ?", existing.ID).
						Update("name", item.Name).Error
				}
				return nil
			case !errors.Is(queryErr, gorm.ErrRecordNotFound):
				return queryErr
			}

			room := models.Room{
				LogicalKey: item.LogicalKey,
				Kind:       models.RoomKindGroup,
				Name:       item.Name,
				IsActive:   true,
				CreatedBy:  0,
			}
			return tx.Create(&room).Error
		})
		if err != nil {
			return fmt.Errorf("seed built-in lounge %s: %w", item.LogicalKey, err)
		}
	}

	return nil
}
