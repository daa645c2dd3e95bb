package seed

import (
	"fmt"
	"log"

	"studyroom/internal/models"

	"gorm.io/gorm"
)

// Seeder populates the database with demo tutoring data.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
}

// NewSeeder creates a Seeder with default factory options.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{
		db:      db,
		factory: NewFactory(db, SeedOptions{}),
	}
}

// ClearAll removes all seeded data. Postgres gets a fast TRUNCATE; other
// dialects (sqlite in tests) fall back to per-table deletes.
func (s *Seeder) ClearAll() error {
	log.Println("Clearing existing data...")
	if s.db.Dialector.Name() == "postgres" {
		return s.db.Exec(
			`TRUNCATE TABLE messages, participants, rooms, user_profiles RESTART IDENTITY CASCADE;`,
		).Error
	}
	for _, table := range []string{"messages", "participants", "rooms", "user_profiles"} {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedClassrooms creates tutors with session rooms, each joined by a couple
// of students and filled with a message transcript. Returns the created
// tutor profiles.
func (s *Seeder) SeedClassrooms(numTutors, studentsPerRoom, messagesPerRoom int) ([]*models.UserProfile, error) {
	if numTutors <= 0 {
		return nil, fmt.Errorf("numTutors must be positive")
	}
	if studentsPerRoom <= 0 {
		studentsPerRoom = 2
	}
	if messagesPerRoom <= 0 {
		messagesPerRoom = 25
	}

	tutors := make([]*models.UserProfile, 0, numTutors)
	for i := 0; i < numTutors; i++ {
		tutor, err := s.factory.CreateProfile(func(p *models.UserProfile) {
			p.IsTutor = true
		})
		if err != nil {
			return nil, fmt.Errorf("create tutor: %w", err)
		}
		tutors = append(tutors, tutor)

		room, err := s.factory.CreateRoom(tutor, models.RoomKindSession)
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}

		senders := []*models.UserProfile{tutor}
		for j := 0; j < studentsPerRoom; j++ {
			student, err := s.factory.CreateProfile()
			if err != nil {
				return nil, fmt.Errorf("create student: %w", err)
			}
			if err := s.factory.AddParticipant(room, student); err != nil {
				return nil, fmt.Errorf("join student: %w", err)
			}
			senders = append(senders, student)
		}

		transcript := s.factory.BuildTranscript(room, senders, messagesPerRoom)
		if err := s.factory.CreateMessagesBatch(transcript); err != nil {
			return nil, fmt.Errorf("create transcript: %w", err)
		}

		if (i+1)%10 == 0 {
			log.Printf("Seeded %d classrooms...", i+1)
		}
	}

	log.Printf("Seeded %d classrooms with %d students and %d messages each",
		numTutors, studentsPerRoom, messagesPerRoom)
	return tutors, nil
}
