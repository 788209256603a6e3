// Command seed populates the database with demo users, conversations, and
// stories for local development.
package main

import (
	"flag"
	"log"
	"time"

	"glimmer/internal/config"
	"glimmer/internal/database"
	"glimmer/internal/encryption"
	"glimmer/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of users to create")
	convsPerUser := flag.Int("conversations", 3, "Conversations started per user")
	msgsPerConv := flag.Int("messages", 20, "Messages per conversation")
	storiesPerUser := flag.Int("stories", 1, "Stories per user")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("Glimmer database seeder")
	log.Printf("Target: %d users, %d conversations/user, %d messages/conversation, clean=%v",
		*numUsers, *convsPerUser, *msgsPerConv, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	cipher, err := encryption.NewCipher(cfg.MessageSecret)
	if err != nil {
		log.Fatalf("Failed to initialize message cipher: %v", err)
	}

	s := seed.NewSeeder(db, cipher)
	if err := s.Seed(seed.Options{
		NumUsers:                *numUsers,
		ConversationsPerUser:    *convsPerUser,
		MessagesPerConversation: *msgsPerConv,
		StoriesPerUser:          *storiesPerUser,
		StoryTTL:                time.Duration(cfg.StoryTTLHours) * time.Hour,
		ShouldClean:             *shouldClean,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
