// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"math/rand"
	"time"

	"glimmer/internal/encryption"
	"glimmer/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// sharedPassword is the bcrypt hash every seeded user gets. Hashing once
// keeps large seeds fast.
var sharedPassword string

func init() {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	sharedPassword = string(hash)
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db     *gorm.DB
	cipher *encryption.Cipher
	rng    *rand.Rand
}

// NewFactory creates a Factory bound to the provided Gorm DB. The cipher is
// required so seeded messages carry real per-conversation envelopes.
func NewFactory(db *gorm.DB, cipher *encryption.Cipher) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{
		db:     db,
		cipher: cipher,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateUser constructs and persists a sample user. Optional override
// functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		Email:    gofakeit.Email(),
		Password: sharedPassword,
		Bio:      gofakeit.Sentence(10),
		Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateConversation persists a direct conversation between two users,
// including the membership rows.
func (f *Factory) CreateConversation(a, b *models.User) (*models.Conversation, error) {
	conv := &models.Conversation{
		PairKey:      models.PairKeyFor(a.ID, b.ID),
		Participants: []models.User{*a, *b},
	}
	if err := f.db.Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateMessage encrypts and persists a message in the conversation. The
// created_at is spread over the past maxDays so timelines look lived-in.
func (f *Factory) CreateMessage(conv *models.Conversation, sender *models.User, maxDays int, overrides ...func(*models.Message)) (*models.Message, error) {
	plaintext := gofakeit.HipsterSentence(f.rng.Intn(12) + 3)
	ciphertext, err := f.cipher.Encrypt(conv.ID, plaintext)
	if err != nil {
		return nil, err
	}

	if maxDays <= 0 {
		maxDays = 30
	}
	age := time.Duration(f.rng.Intn(maxDays*24*60)) * time.Minute

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Ciphertext:     ciphertext,
		Status:         models.MessageStatusSent,
		CreatedAt:      time.Now().Add(-age),
	}
	for _, override := range overrides {
		override(msg)
	}
	if err := f.db.Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateReaction persists an emoji reaction on a message.
func (f *Factory) CreateReaction(msg *models.Message, user *models.User) error {
	emojis := []string{"❤️", "😂", "🔥", "👍", "😮", "😢"}
	return f.db.Create(&models.Reaction{
		MessageID: msg.ID,
		UserID:    user.ID,
		Emoji:     emojis[f.rng.Intn(len(emojis))],
	}).Error
}

// CreateStory persists a story for the user. Roughly one in five seeded
// stories is a video.
func (f *Factory) CreateStory(user *models.User, ttl time.Duration, overrides ...func(*models.Story)) (*models.Story, error) {
	kind := models.StoryKindImage
	mediaURL := fmt.Sprintf("https://picsum.photos/seed/%s/1080/1920", gofakeit.UUID())
	if f.rng.Intn(5) == 0 {
		kind = models.StoryKindVideo
		mediaURL = fmt.Sprintf("https://cdn.example.com/stories/%s.mp4", gofakeit.UUID())
	}

	story := &models.Story{
		UserID:    user.ID,
		MediaURL:  mediaURL,
		Kind:      kind,
		Caption:   gofakeit.Sentence(6),
		ExpiresAt: time.Now().Add(ttl),
	}
	for _, override := range overrides {
		override(story)
	}
	if err := f.db.Create(story).Error; err != nil {
		return nil, err
	}
	return story, nil
}

// CreateStoryView persists a view record for the story.
func (f *Factory) CreateStoryView(story *models.Story, viewer *models.User) error {
	return f.db.Create(&models.StoryView{
		StoryID:  story.ID,
		ViewerID: viewer.ID,
	}).Error
}
