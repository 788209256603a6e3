package server

import (
	"context"
	"testing"

	"glimmer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockChatRepository is a mock of the ChatRepository interface
type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) FindOrCreateConversation(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockChatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockChatRepository) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Conversation), args.Error(1)
}

func (m *MockChatRepository) AppendMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) error {
	args := m.Called(ctx, msg, attachments)
	return args.Error(0)
}

func (m *MockChatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatRepository) GetMessages(ctx context.Context, convID uint, limit int, beforeID uint) ([]*models.Message, error) {
	args := m.Called(ctx, convID, limit, beforeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockChatRepository) EditMessage(ctx context.Context, msgID, editorID uint, newCiphertext string) error {
	args := m.Called(ctx, msgID, editorID, newCiphertext)
	return args.Error(0)
}

func (m *MockChatRepository) SoftDeleteMessage(ctx context.Context, msgID, deletedBy uint) error {
	args := m.Called(ctx, msgID, deletedBy)
	return args.Error(0)
}

func (m *MockChatRepository) MarkConversationRead(ctx context.Context, convID, readerID uint) (int64, error) {
	args := m.Called(ctx, convID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChatRepository) UnreadCount(ctx context.Context, convID, userID uint) (int64, error) {
	args := m.Called(ctx, convID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChatRepository) UpsertReaction(ctx context.Context, reaction *models.Reaction) error {
	args := m.Called(ctx, reaction)
	return args.Error(0)
}

func (m *MockChatRepository) RemoveReaction(ctx context.Context, msgID, userID uint) error {
	args := m.Called(ctx, msgID, userID)
	return args.Error(0)
}

func TestIsUserParticipant(t *testing.T) {
	mockChatRepo := new(MockChatRepository)
	s := &Server{chatRepo: mockChatRepo}

	tests := []struct {
		name           string
		userID         uint
		convID         uint
		mockSetup      func()
		expectedResult bool
	}{
		{
			name:   "User is participant",
			userID: 1,
			convID: 10,
			mockSetup: func() {
				mockChatRepo.On("GetConversation", mock.Anything, uint(10)).Return(&models.Conversation{
					Participants: []models.User{{ID: 1}},
				}, nil)
			},
			expectedResult: true,
		},
		{
			name:   "User is not participant",
			userID: 2,
			convID: 10,
			mockSetup: func() {
				mockChatRepo.On("GetConversation", mock.Anything, uint(10)).Return(&models.Conversation{
					Participants: []models.User{{ID: 1}},
				}, nil)
			},
			expectedResult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			result := s.isUserParticipant(context.Background(), tt.userID, tt.convID)
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}
