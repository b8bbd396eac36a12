package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/state"
	"chat-sync/internal/transport"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, ownerID, name string, isGroup bool, memberIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, ownerID, name, isGroup, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID string, archived bool) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, archived)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdateSettings(ctx context.Context, conversationID, userID string, muted, pinned, archived *bool) error {
	args := m.Called(ctx, conversationID, userID, muted, pinned, archived)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) AddMember(ctx context.Context, conversationID, userID, name string) error {
	args := m.Called(ctx, conversationID, userID, name)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) RemoveMember(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateLastSeen(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetAvatarURL(ctx context.Context, conversationID, avatarURL string) error {
	args := m.Called(ctx, conversationID, avatarURL)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID, senderID, senderName string, content *string, attachments []models.Attachment) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, senderName, content, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit, before)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageRepositoryMock) AddReceipts(ctx context.Context, messageIDs []string, userID, kind string) error {
	args := m.Called(ctx, messageIDs, userID, kind)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type SessionMock struct {
	mock.Mock
}

func (m *SessionMock) Connect(ctx context.Context, serverURL, token string) error {
	args := m.Called(ctx, serverURL, token)
	return args.Error(0)
}

func (m *SessionMock) Disconnect() {
	m.Called()
}

func (m *SessionMock) PublishData(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *SenderMock) Publish(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ transport.Session = (*SessionMock)(nil)
var _ state.Sender = (*SenderMock)(nil)
var _ interface {
	PublishJSON(context.Context, string, interface{}, map[string]string) error
	Close() error
} = (*PublisherMock)(nil)
