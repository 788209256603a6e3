package seed

import (
	"testing"
	"time"

	"glimmer/internal/encryption"
	"glimmer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSeedDB(t *testing.T) (*gorm.DB, *encryption.Cipher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Conversation{}, &models.ConversationParticipant{},
		&models.Message{}, &models.Attachment{}, &models.Reaction{},
		&models.MessageEdit{}, &models.MessageDeletion{},
		&models.Story{}, &models.StoryView{}, &models.Notification{},
	))
	cipher, err := encryption.NewCipher("seed-test-secret")
	require.NoError(t, err)
	return db, cipher
}

func TestSeed(t *testing.T) {
	db, cipher := setupSeedDB(t)
	s := NewSeeder(db, cipher)

	err := s.Seed(Options{
		NumUsers:                6,
		ConversationsPerUser:    2,
		MessagesPerConversation: 5,
		StoriesPerUser:          1,
		StoryTTL:                time.Hour,
	})
	require.NoError(t, err)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	assert.EqualValues(t, 6, userCount)

	var storyCount int64
	require.NoError(t, db.Model(&models.Story{}).Count(&storyCount).Error)
	assert.EqualValues(t, 6, storyCount)

	var conversations []models.Conversation
	require.NoError(t, db.Find(&conversations).Error)
	assert.NotEmpty(t, conversations)

	// pair keys are unique and last_message_id points at a real row
	seen := map[string]bool{}
	for _, conv := range conversations {
		assert.False(t, seen[conv.PairKey], "duplicate pair key %s", conv.PairKey)
		seen[conv.PairKey] = true
		require.NotNil(t, conv.LastMessageID)

		var last models.Message
		require.NoError(t, db.First(&last, *conv.LastMessageID).Error)
		assert.Equal(t, conv.ID, last.ConversationID)
	}
}

func TestSeedMessagesDecrypt(t *testing.T) {
	db, cipher := setupSeedDB(t)
	f := NewFactory(db, cipher)

	alice, err := f.CreateUser()
	require.NoError(t, err)
	bob, err := f.CreateUser()
	require.NoError(t, err)
	conv, err := f.CreateConversation(alice, bob)
	require.NoError(t, err)

	msg, err := f.CreateMessage(conv, alice, 7)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Ciphertext)

	plaintext, err := cipher.Decrypt(conv.ID, msg.Ciphertext)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)

	// a different conversation's key must not open the envelope
	_, err = cipher.Decrypt(conv.ID+1, msg.Ciphertext)
	assert.Error(t, err)
}

func TestSeedRejectsTooFewUsers(t *testing.T) {
	db, cipher := setupSeedDB(t)
	s := NewSeeder(db, cipher)

	err := s.Seed(Options{NumUsers: 1})
	assert.Error(t, err)
}

func TestStoryViewsUniquePerViewer(t *testing.T) {
	db, cipher := setupSeedDB(t)
	f := NewFactory(db, cipher)

	owner, err := f.CreateUser()
	require.NoError(t, err)
	viewer, err := f.CreateUser()
	require.NoError(t, err)

	story, err := f.CreateStory(owner, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.CreateStoryView(story, viewer))

	// the unique index rejects a second view row from the same viewer
	err = f.CreateStoryView(story, viewer)
	assert.Error(t, err)
}
