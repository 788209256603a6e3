package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"glimmer/internal/encryption"
	"glimmer/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder.
type Options struct {
	NumUsers                int
	ConversationsPerUser    int
	MessagesPerConversation int
	StoriesPerUser          int
	StoryTTL                time.Duration
	ShouldClean             bool
}

// Seeder populates the database with realistic demo data.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
	rng     *rand.Rand
}

// NewSeeder creates a Seeder. The cipher must match the server's
// MESSAGE_SECRET or seeded messages will not decrypt.
func NewSeeder(db *gorm.DB, cipher *encryption.Cipher) *Seeder {
	return &Seeder{
		db:      db,
		factory: NewFactory(db, cipher),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ClearAll removes all seedable data.
func (s *Seeder) ClearAll() error {
	log.Println("Clearing existing data...")
	sql := `TRUNCATE TABLE story_views, stories, notifications, reactions,
		message_edits, message_deletions, attachments, messages,
		conversation_participants, conversations, users
		RESTART IDENTITY CASCADE;`
	return s.db.Exec(sql).Error
}

// Seed populates users, conversations, encrypted message history, and
// stories according to the options.
func (s *Seeder) Seed(opts Options) error {
	if opts.NumUsers < 2 {
		return fmt.Errorf("need at least 2 users, got %d", opts.NumUsers)
	}
	if opts.ConversationsPerUser <= 0 {
		opts.ConversationsPerUser = 3
	}
	if opts.MessagesPerConversation <= 0 {
		opts.MessagesPerConversation = 20
	}
	if opts.StoryTTL <= 0 {
		opts.StoryTTL = 24 * time.Hour
	}

	if opts.ShouldClean {
		if err := s.ClearAll(); err != nil {
			log.Printf("Warning: could not clear existing data: %v", err)
		}
	}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		user, err := s.factory.CreateUser()
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		users = append(users, user)
	}
	log.Printf("Created %d users", len(users))

	conversations, err := s.seedConversations(users, opts)
	if err != nil {
		return err
	}
	log.Printf("Created %d conversations", len(conversations))

	if err := s.seedStories(users, opts); err != nil {
		return err
	}

	log.Println("Seeding complete. All users have the password: password123")
	return nil
}

func (s *Seeder) seedConversations(users []*models.User, opts Options) ([]*models.Conversation, error) {
	seen := map[string]bool{}
	var conversations []*models.Conversation

	for _, user := range users {
		for n := 0; n < opts.ConversationsPerUser; n++ {
			other := users[s.rng.Intn(len(users))]
			if other.ID == user.ID {
				continue
			}
			key := models.PairKeyFor(user.ID, other.ID)
			if seen[key] {
				continue
			}
			seen[key] = true

			conv, err := s.factory.CreateConversation(user, other)
			if err != nil {
				return nil, fmt.Errorf("create conversation: %w", err)
			}
			if err := s.seedMessages(conv, user, other, opts.MessagesPerConversation); err != nil {
				return nil, err
			}
			conversations = append(conversations, conv)
		}
	}
	return conversations, nil
}

func (s *Seeder) seedMessages(conv *models.Conversation, a, b *models.User, count int) error {
	var last *models.Message
	for i := 0; i < count; i++ {
		sender := a
		if s.rng.Intn(2) == 0 {
			sender = b
		}
		msg, err := s.factory.CreateMessage(conv, sender, 30)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		// sprinkle some reactions from the other side
		if s.rng.Intn(6) == 0 {
			reactor := a
			if sender == a {
				reactor = b
			}
			if err := s.factory.CreateReaction(msg, reactor); err != nil {
				return fmt.Errorf("create reaction: %w", err)
			}
		}
		if last == nil || msg.CreatedAt.After(last.CreatedAt) {
			last = msg
		}
	}
	if last != nil {
		if err := s.db.Model(conv).Update("last_message_id", last.ID).Error; err != nil {
			return fmt.Errorf("set last message: %w", err)
		}
	}
	return nil
}

func (s *Seeder) seedStories(users []*models.User, opts Options) error {
	total := 0
	for _, user := range users {
		for n := 0; n < opts.StoriesPerUser; n++ {
			story, err := s.factory.CreateStory(user, opts.StoryTTL)
			if err != nil {
				return fmt.Errorf("create story: %w", err)
			}
			total++

			// a handful of random viewers per story
			for _, viewer := range s.pickViewers(users, user.ID, 3) {
				if err := s.factory.CreateStoryView(story, viewer); err != nil {
					return fmt.Errorf("create story view: %w", err)
				}
			}
		}
	}
	log.Printf("Created %d stories", total)
	return nil
}

func (s *Seeder) pickViewers(users []*models.User, excludeID uint, max int) []*models.User {
	picked := map[uint]bool{}
	var out []*models.User
	for i := 0; i < max*3 && len(out) < max; i++ {
		candidate := users[s.rng.Intn(len(users))]
		if candidate.ID == excludeID || picked[candidate.ID] {
			continue
		}
		picked[candidate.ID] = true
		out = append(out, candidate)
	}
	return out
}
