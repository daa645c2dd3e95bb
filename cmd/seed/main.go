// Command main runs the database seeder for Studyroom.
package main

import (
	"flag"
	"log"

	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/seed"
)

func main() {
	// Parse command line flags
	numTutors := flag.Int("tutors", 20, "Number of tutors (and session rooms) to create")
	studentsPerRoom := flag.Int("students", 2, "Students joined to each room")
	messagesPerRoom := flag.Int("messages", 40, "Messages per room transcript")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("Database Seeder")
	log.Println("===============")
	log.Printf("Target: %d tutors, %d students/room, %d messages/room, clean=%v\n",
		*numTutors, *studentsPerRoom, *messagesPerRoom, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run seeder
	s := seed.NewSeeder(db)

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	if err := seed.Lounges(db); err != nil {
		log.Fatalf("Built-in lounge seeding failed: %v", err)
	}

	if _, err := s.SeedClassrooms(*numTutors, *studentsPerRoom, *messagesPerRoom); err != nil {
		log.Fatalf("Classroom seeding failed: %v", err)
	}

	log.Println("All done! Your database is now populated with demo classrooms.")
}
