package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockTeamChatRepository struct {
	mock.Mock
}

func (m *MockTeamChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockTeamChatRepository) GetChannel(channelId int) (Channel, error) {
	args := m.Called(channelId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockTeamChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	args := m.Called(externalId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockTeamChatRepository) GetChannelWithMembers(channelId int) (*Channel, error) {
	args := m.Called(channelId)
	if ch, ok := args.Get(0).(*Channel); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockTeamChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	args := m.Called(params)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockTeamChatRepository) AddMember(params AddMemberParams) (Member, error) {
	args := m.Called(params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockTeamChatRepository) GetMembers(channelId int) ([]Member, error) {
	args := m.Called(channelId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockTeamChatRepository) GetMemberForUser(channelId, userId int) (Member, error) {
	args := m.Called(channelId, userId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockTeamChatRepository) GetMemberByEmail(channelId int, email string) (Member, error) {
	args := m.Called(channelId, email)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockTeamChatRepository) ListChannelsForUser(userId int) ([]Channel, error) {
	args := m.Called(userId)
	return args.Get(0).([]Channel), args.Error(1)
}
func (m *MockTeamChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTeamChatRepository) GetMessage(messageId string) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTeamChatRepository) ListMessagesSince(channelId int, after time.Time, afterId string, limit int) ([]Message, error) {
	args := m.Called(channelId, after, afterId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockTeamChatRepository) LastMessage(channelId int) (*Message, error) {
	args := m.Called(channelId)
	if msg, ok := args.Get(0).(*Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockTeamChatRepository) SoftDeleteMessage(messageId string, actorUserId int) error {
	args := m.Called(messageId, actorUserId)
	return args.Error(0)
}
func (m *MockTeamChatRepository) UpsertDelivered(messageId string, memberId int, at time.Time) error {
	args := m.Called(messageId, memberId, at)
	return args.Error(0)
}
func (m *MockTeamChatRepository) UpsertRead(messageId string, memberId int, at time.Time) error {
	args := m.Called(messageId, memberId, at)
	return args.Error(0)
}
func (m *MockTeamChatRepository) GetReadStatuses(messageId string) ([]ReadStatus, error) {
	args := m.Called(messageId)
	return args.Get(0).([]ReadStatus), args.Error(1)
}
func (m *MockTeamChatRepository) CountReadDelivered(messageId string) (int, int, error) {
	args := m.Called(messageId)
	return args.Int(0), args.Int(1), args.Error(2)
}
func (m *MockTeamChatRepository) CountUnread(channelId, userId int) (int, error) {
	args := m.Called(channelId, userId)
	return args.Int(0), args.Error(1)
}
