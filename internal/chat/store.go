package chat

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
)

// Cursor is a resume point for incremental history fetches: the (timestamp,
// id) pair of the last message already seen. The zero Cursor starts from the
// beginning.
type Cursor struct {
	After   time.Time `json:"after"`
	AfterId string    `json:"after_id"`
}

// MessageStore is the durable, ordered message log. Appends within one
// channel are serialized and their timestamps clamped to be non-decreasing,
// so (created_at, id) is a total order per channel. The bus publish happens
// strictly after the durable write commits: a failed write never produces a
// ghost event.
type MessageStore struct {
	log    *log.Logger
	db     database.TeamChatRepository
	bus    bus.Bus
	typing *TypingCoordinator

	mu        sync.Mutex
	locks     map[int]*sync.Mutex
	lastStamp map[int]time.Time
	now       func() time.Time
}

func NewMessageStore(logger *log.Logger, db database.TeamChatRepository, b bus.Bus, typing *TypingCoordinator) *MessageStore {
	return &MessageStore{
		log:       logger,
		db:        db,
		bus:       b,
		typing:    typing,
		locks:     make(map[int]*sync.Mutex),
		lastStamp: make(map[int]time.Time),
		now:       time.Now,
	}
}

func (s *MessageStore) channelLock(channelId int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[channelId]
	if !ok {
		l = &sync.Mutex{}
		s.locks[channelId] = l
	}
	return l
}

// stamp returns a per-channel non-decreasing timestamp. Must be called with
// the channel lock held.
func (s *MessageStore) stamp(channelId int) time.Time {
	ts := s.now().UTC().Round(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastStamp[channelId]; ok && ts.Before(last) {
		ts = last
	}
	s.lastStamp[channelId] = ts
	return ts
}

// Append validates, persists and fans out a new message. The author's typing
// signal for the channel is cleared as a side effect of every successful
// send.
func (s *MessageStore) Append(ctx context.Context, ref ChannelRef, author types.Identity, body, replyTo string) (types.Message, error) {
	if strings.TrimSpace(body) == "" {
		return types.Message{}, ErrEmptyBody
	}

	ch, err := s.db.GetChannel(ref.Id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrChannelNotFound
		}
		return types.Message{}, transient("get channel", err)
	}

	member, err := ResolveMember(s.db, ch, author)
	if err != nil {
		return types.Message{}, err
	}

	lock := s.channelLock(ref.Id)
	lock.Lock()
	defer lock.Unlock()

	params := database.CreateMessageParams{
		Id:           uuid.NewString(),
		ChannelId:    ref.Id,
		AuthorUserId: author.UserId,
		AuthorName:   member.DisplayName,
		Body:         body,
		ReplyTo:      replyTo,
		CreatedAt:    s.stamp(ref.Id),
	}

	row, err := s.db.CreateMessage(params)
	if err != nil {
		return types.Message{}, transient("create message", err)
	}

	msg := MessageView(row)

	if err := s.bus.Publish(ctx, ref.ExternalId, bus.KindMessageInserted, msg); err != nil {
		// the write is durable; subscribers recover via baseline re-fetch
		s.log.Printf("publish message %s on %q: %v", msg.Id, ref.ExternalId, err)
	}

	s.clearTypingOnSend(ctx, ref, member)

	return msg, nil
}

// clearTypingOnSend applies to every sender, including an owner synthesized
// without a member row (id 0): the coordinator keys member ids directly and
// receipt rows are not involved.
func (s *MessageStore) clearTypingOnSend(ctx context.Context, ref ChannelRef, member database.Member) {
	s.typing.ClearTyping(ref.Id, member.Id)
	ev := TypingEvent{
		ChannelId: ref.ExternalId,
		Member:    types.TypingUser{MemberId: member.Id, DisplayName: member.DisplayName},
		IsTyping:  false,
		UpdatedAt: Now(),
	}
	if err := s.bus.Publish(ctx, ref.ExternalId, bus.KindTypingUpsert, ev); err != nil {
		s.log.Printf("publish typing clear on %q: %v", ref.ExternalId, err)
	}
}

// ListSince returns the channel's messages strictly after the cursor in
// (created_at, id) order. Repeating a call with the same cursor against an
// unchanged log yields the same suffix.
func (s *MessageStore) ListSince(ctx context.Context, ref ChannelRef, cursor Cursor, limit int) ([]types.Message, error) {
	rows, err := s.db.ListMessagesSince(ref.Id, cursor.After, cursor.AfterId, limit)
	if err != nil {
		return nil, transient("list messages", err)
	}

	messages := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, MessageView(row))
	}

	return messages, nil
}

// SoftDelete flags a message deleted without removing the row, then
// republishes the redacted row so open sessions replace it in place.
func (s *MessageStore) SoftDelete(ctx context.Context, messageId string, actor types.Identity) error {
	if err := s.db.SoftDeleteMessage(messageId, actor.UserId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return transient("soft delete", err)
	}

	row, err := s.db.GetMessage(messageId)
	if err != nil {
		return transient("get message", err)
	}

	ch, err := s.db.GetChannel(row.ChannelId)
	if err != nil {
		return transient("get channel", err)
	}

	if err := s.bus.Publish(ctx, ch.ExternalId, bus.KindMessageInserted, MessageView(row)); err != nil {
		s.log.Printf("publish delete of %s on %q: %v", messageId, ch.ExternalId, err)
	}

	return nil
}

// MessageView converts a stored row to its client-facing shape. Tombstoned
// messages keep their metadata but lose their body.
func MessageView(row database.Message) types.Message {
	msg := types.Message{
		Id:           row.Id,
		ChannelId:    row.ChannelId,
		AuthorUserId: row.AuthorUserId,
		AuthorName:   row.AuthorName,
		Body:         row.Body,
		Deleted:      row.Deleted,
		CreatedAt:    row.CreatedAt,
	}
	if row.ReplyTo.Valid {
		msg.ReplyTo = row.ReplyTo.String
	}
	if row.EditedAt.Valid {
		msg.EditedAt = row.EditedAt.Time
	}
	if row.Deleted {
		msg.Body = ""
	}
	return msg
}
