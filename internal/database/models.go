package database

import (
	"database/sql"
	"time"
)

type Channel struct {
	Id          int
	ExternalId  string
	Name        string
	OwnerUserId int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []Member
}

type Member struct {
	Id          int
	ChannelId   int
	UserId      sql.NullInt64
	DisplayName string
	Email       string
	Role        string
	Approved    bool
	CreatedAt   time.Time
}

type Message struct {
	Id           string
	ChannelId    int
	AuthorUserId int
	AuthorName   string
	Body         string
	ReplyTo      sql.NullString
	Deleted      bool
	CreatedAt    time.Time
	EditedAt     sql.NullTime
}

type ReadStatus struct {
	MessageId   string
	MemberId    int
	DeliveredAt sql.NullTime
	ReadAt      sql.NullTime
}

type CreateChannelParams struct {
	Name        string
	ExternalId  string
	OwnerUserId int
	OwnerName   string
	OwnerEmail  string
}

type AddMemberParams struct {
	ChannelId   int
	UserId      int
	DisplayName string
	Email       string
	Role        string
	Approved    bool
}

type CreateMessageParams struct {
	Id           string
	ChannelId    int
	AuthorUserId int
	AuthorName   string
	Body         string
	ReplyTo      string
	CreatedAt    time.Time
}
