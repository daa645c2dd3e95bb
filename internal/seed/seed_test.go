package seed

import (
	"testing"

	"studyroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserProfile{},
		&models.Room{},
		&models.Participant{},
		&models.Message{},
	))
	return db
}

func TestSeedClassrooms(t *testing.T) {
	db := setupTestDB(t)
	s := NewSeeder(db)

	tutors, err := s.SeedClassrooms(3, 2, 10)
	require.NoError(t, err)
	require.Len(t, tutors, 3)
	for _, tutor := range tutors {
		assert.True(t, tutor.IsTutor)
	}

	var roomCount, participantCount, messageCount int64
	db.Model(&models.Room{}).Count(&roomCount)
	db.Model(&models.Participant{}).Count(&participantCount)
	db.Model(&models.Message{}).Count(&messageCount)

	assert.EqualValues(t, 3, roomCount)
	assert.EqualValues(t, 9, participantCount) // owner + 2 students per room
	assert.EqualValues(t, 30, messageCount)

	// Transcripts must respect log ordering when read back
	var rooms []models.Room
	require.NoError(t, db.Find(&rooms).Error)
	for _, room := range rooms {
		var messages []models.Message
		require.NoError(t, db.
			Where("room_id = ?", room.ID).
			Order("created_at ASC, id ASC").
			Find(&messages).Error)
		require.Len(t, messages, 10)
		for i := 1; i < len(messages); i++ {
			assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
		}
	}
}

func TestClearAll(t *testing.T) {
	db := setupTestDB(t)
	s := NewSeeder(db)

	_, err := s.SeedClassrooms(1, 1, 5)
	require.NoError(t, err)

	require.NoError(t, s.ClearAll())

	var roomCount int64
	db.Model(&models.Room{}).Count(&roomCount)
	assert.Zero(t, roomCount)
}

func TestLounges(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, Lounges(db))

	fixtures, err := BuiltInLounges()
	require.NoError(t, err)
	require.NotEmpty(t, fixtures)

	var count int64
	db.Model(&models.Room{}).Where("kind = ?", models.RoomKindGroup).Count(&count)
	assert.EqualValues(t, len(fixtures), count)

	// Idempotent: rerunning does not duplicate
	require.NoError(t, Lounges(db))
	db.Model(&models.Room{}).Where("kind = ?", models.RoomKindGroup).Count(&count)
	assert.EqualValues(t, len(fixtures), count)

	// Active lounges are renamed in place, deactivated ones replaced
	var mathLounge models.Room
	require.NoError(t, db.Where("logical_key = ?", "lounge:math").First(&mathLounge).Error)
	assert.Equal(t, "Math Lounge", mathLounge.Name)
}

func TestFactoryDryRun(t *testing.T) {
	db := setupTestDB(t)
	f := NewFactory(db, SeedOptions{DryRun: true})

	profile, err := f.CreateProfile()
	require.NoError(t, err)
	assert.NotZero(t, profile.ID)

	var count int64
	db.Model(&models.UserProfile{}).Count(&count)
	assert.Zero(t, count)
}

func TestBuildTranscriptVariants(t *testing.T) {
	db := setupTestDB(t)
	f := NewFactory(db, SeedOptions{})

	tutor, err := f.CreateProfile(func(p *models.UserProfile) { p.IsTutor = true })
	require.NoError(t, err)
	room, err := f.CreateRoom(tutor, models.RoomKindSession)
	require.NoError(t, err)

	transcript := f.BuildTranscript(room, []*models.UserProfile{tutor}, 50)
	require.Len(t, transcript, 50)
	for _, msg := range transcript {
		assert.Equal(t, room.ID, msg.RoomID)
		assert.NotEmpty(t, msg.Content)
		if msg.Type == models.MessageTypeCode {
			assert.NotEmpty(t, msg.CodeLanguage)
		}
	}
}
