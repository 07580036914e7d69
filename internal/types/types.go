package types

import (
	"time"
)

// Identity is the authenticated user as resolved by the external identity
// provider. It is resolved once per connection and passed down explicitly.
type Identity struct {
	UserId int    `json:"user_id"`
	Email  string `json:"email"`
}

type Role string

const (
	RoleOwner         Role = "owner"
	RoleCoLead        Role = "co-lead"
	RoleTechnicalLead Role = "technical-lead"
	RoleDesigner      Role = "designer"
	RoleDeveloper     Role = "developer"
	RoleMarketer      Role = "marketer"
	RoleAdvisor       Role = "advisor"
	RoleMember        Role = "member"
)

type Member struct {
	Id          int       `json:"id"`
	ChannelId   int       `json:"channel_id"`
	UserId      int       `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Role        Role      `json:"role"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Channel struct {
	Id          int       `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	OwnerUserId int       `json:"owner_user_id"`
	Members     []Member  `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id           string    `json:"id"`
	ChannelId    int       `json:"channel_id"`
	AuthorUserId int       `json:"author_user_id"`
	AuthorName   string    `json:"author_name"`
	Body         string    `json:"body"`
	ReplyTo      string    `json:"reply_to,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	EditedAt     time.Time `json:"edited_at,omitempty"`
}

// ReadReceipt is one recipient's delivery/read state for a message.
// A missing receipt means "unknown", never "unread".
type ReadReceipt struct {
	MessageId   string    `json:"message_id"`
	MemberId    int       `json:"member_id"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
	ReadAt      time.Time `json:"read_at,omitempty"`
}

type Aggregate struct {
	MessageId      string `json:"message_id"`
	TotalMembers   int    `json:"total_members"`
	DeliveredCount int    `json:"delivered_count"`
	ReadCount      int    `json:"read_count"`
}

type TypingUser struct {
	MemberId    int    `json:"member_id"`
	DisplayName string `json:"display_name"`
}

type ChannelSummary struct {
	ChannelId   int       `json:"channel_id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	MemberCount int       `json:"member_count"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}
