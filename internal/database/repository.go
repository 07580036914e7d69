package database

import "time"

type TeamChatRepository interface {
	Ping() error
	GetChannel(channelId int) (Channel, error)
	GetChannelByExternalId(externalId string) (Channel, error)
	GetChannelWithMembers(channelId int) (*Channel, error)
	CreateChannel(params CreateChannelParams) (Channel, error)
	AddMember(params AddMemberParams) (Member, error)
	GetMembers(channelId int) ([]Member, error)
	GetMemberForUser(channelId, userId int) (Member, error)
	GetMemberByEmail(channelId int, email string) (Member, error)
	ListChannelsForUser(userId int) ([]Channel, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(messageId string) (Message, error)
	ListMessagesSince(channelId int, after time.Time, afterId string, limit int) ([]Message, error)
	LastMessage(channelId int) (*Message, error)
	SoftDeleteMessage(messageId string, actorUserId int) error
	UpsertDelivered(messageId string, memberId int, at time.Time) error
	UpsertRead(messageId string, memberId int, at time.Time) error
	GetReadStatuses(messageId string) ([]ReadStatus, error)
	CountReadDelivered(messageId string) (read int, delivered int, err error)
	CountUnread(channelId, userId int) (int, error)
}
