// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"studyroom/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// SeedOptions tune factory behavior.
type SeedOptions struct {
	// DryRun logs what would be created without writing to the database.
	DryRun bool
	// MaxDays spreads generated timestamps over the past N days.
	MaxDays int
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by seed presets and tests.
type Factory struct {
	db   *gorm.DB
	opts SeedOptions
	r    *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts SeedOptions) *Factory {
	// seed gofakeit for richer content
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{
		db:     db,
		opts:   opts,
		r:      rand.New(rand.NewSource(time.Now().UnixNano())),
		nextID: 1000,
	}
}

// CreateProfile constructs and persists a sample user profile.
// Optional override functions may modify the generated profile before saving.
func (f *Factory) CreateProfile(overrides ...func(*models.UserProfile)) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		DisplayName: gofakeit.Name(),
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}

	for _, override := range overrides {
		override(profile)
	}

	if f.opts.DryRun {
		f.nextID++
		profile.ID = f.nextID
		log.Printf("[dry-run] CreateProfile: %+v", profile)
		return profile, nil
	}

	if err := f.db.Create(profile).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateRoom constructs and persists a room with the given owner already
// joined. The logical key gets a random suffix so repeated seeding never
// trips the one-active-room constraint.
func (f *Factory) CreateRoom(owner *models.UserProfile, kind models.RoomKind, overrides ...func(*models.Room)) (*models.Room, error) {
	room := &models.Room{
		LogicalKey: fmt.Sprintf("booking:%d", gofakeit.Number(10000, 99999)),
		Kind:       kind,
		Name:       fmt.Sprintf("%s with %s", randomSubject(f.r), owner.DisplayName),
		IsActive:   true,
		CreatedBy:  owner.ID,
	}

	for _, override := range overrides {
		override(room)
	}

	if f.opts.DryRun {
		f.nextID++
		room.ID = f.nextID
		log.Printf("[dry-run] CreateRoom: %+v", room)
		return room, nil
	}

	if err := f.db.Create(room).Error; err != nil {
		return nil, err
	}
	if err := f.db.Create(&models.Participant{
		RoomID: room.ID,
		UserID: owner.ID,
		Role:   models.RoleOwner,
	}).Error; err != nil {
		return nil, err
	}
	return room, nil
}

// AddParticipant joins a user to a room as a guest.
func (f *Factory) AddParticipant(room *models.Room, user *models.UserProfile) error {
	if f.opts.DryRun {
		log.Printf("[dry-run] AddParticipant: room=%d user=%d", room.ID, user.ID)
		return nil
	}
	return f.db.Create(&models.Participant{
		RoomID: room.ID,
		UserID: user.ID,
		Role:   models.RoleGuest,
	}).Error
}

// BuildTranscript constructs a plausible back-and-forth between the given
// senders without persisting it. Timestamps walk forward from a random
// starting point in the past so history paging has realistic spread.
func (f *Factory) BuildTranscript(room *models.Room, senders []*models.UserProfile, count int) []*models.Message {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}
	start := time.Now().
		Add(-time.Duration(f.r.Intn(maxDays)) * 24 * time.Hour).
		Add(-time.Duration(f.r.Intn(24)) * time.Hour)

	messages := make([]*models.Message, 0, count)
	at := start
	for i := 0; i < count; i++ {
		sender := senders[i%len(senders)]
		msg := &models.Message{
			RoomID:    room.ID,
			SenderID:  sender.ID,
			Type:      models.MessageTypeText,
			Content:   randomUtterance(f.r),
			CreatedAt: at.UTC(),
		}
		// Occasionally drop in a code snippet
		if f.r.Intn(10) == 0 {
			msg.Type = models.MessageTypeCode
			msg.CodeLanguage = "python"
			msg.Content = fmt.Sprintf("def solve(x):\n    return x ** %d", f.r.Intn(5)+2)
		}
		messages = append(messages, msg)
		at = at.Add(time.Duration(f.r.Intn(180)+5) * time.Second)
	}
	return messages
}

// CreateMessagesBatch persists multiple messages in a single DB call when possible.
func (f *Factory) CreateMessagesBatch(messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	if f.opts.DryRun {
		for _, m := range messages {
			f.nextID++
			m.ID = f.nextID
		}
		log.Printf("[dry-run] CreateMessagesBatch: %d messages (no DB write)", len(messages))
		return nil
	}
	return f.db.Create(&messages).Error
}

var subjects = []string{
	"Algebra", "Calculus", "Statistics", "Physics", "Chemistry", "Biology",
	"Essay writing", "SAT prep", "Spanish", "French", "Python", "Data structures",
	"Linear algebra", "Organic chemistry", "Macroeconomics", "World history",
}

var utteranceTemplates = []string{
	"Can you walk me through problem %d again?",
	"That makes sense now, thanks!",
	"Let me try the next one on my own.",
	"I keep getting a different answer for exercise %d.",
	"Could we slow down a bit on this section?",
	"Here's what I have so far.",
	"Good progress today, same time next week?",
	"Remember to show your intermediate steps.",
	"Which chapter should I review before the exam?",
	"I uploaded my worksheet, question %d is the tricky one.",
}

func randomSubject(r *rand.Rand) string {
	return subjects[r.Intn(len(subjects))]
}

func randomUtterance(r *rand.Rand) string {
	template := utteranceTemplates[r.Intn(len(utteranceTemplates))]
	if containsFormat(template) {
		return fmt.Sprintf(template, r.Intn(20)+1)
	}
	return template
}

func containsFormat(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '%' && s[i+1] == 'd' {
			return true
		}
	}
	return false
}
