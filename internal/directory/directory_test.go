package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/testutil"
	"github.com/planforge/teamchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestListChannelsForUser(t *testing.T) {
	identity := types.Identity{UserId: 8, Email: "ada@example.com"}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("builds summaries with unread and roster counts", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		dir := NewDirectory(testutil.TestLogger(t), db)

		ch := database.Channel{Id: 1, ExternalId: "chan-1", Name: "general", OwnerUserId: 7, CreatedAt: base}
		db.On("ListChannelsForUser", 8).Return([]database.Channel{ch}, nil).Once()
		db.On("GetMembers", 1).Return([]database.Member{
			{Id: 11, ChannelId: 1, UserId: sql.NullInt64{Int64: 8, Valid: true}, DisplayName: "ada", Role: "developer"},
		}, nil).Once()
		db.On("LastMessage", 1).Return(&database.Message{
			Id: "msg-9", ChannelId: 1, AuthorUserId: 7, Body: "latest", CreatedAt: base.Add(time.Hour),
		}, nil).Once()
		db.On("CountUnread", 1, 8).Return(3, nil).Once()

		summaries, err := dir.ListChannelsForUser(context.Background(), identity)
		assert.NoError(t, err, "expected list to succeed")
		assert.Lenf(t, summaries, 1, "expected 1 summary, got %d", len(summaries))

		s := summaries[0]
		assert.Equal(t, "chan-1", s.ExternalId, "expected external id")
		assert.Equal(t, types.RoleDeveloper, s.Role, "expected caller's role from roster")
		assert.Equal(t, 2, s.MemberCount, "expected stored member plus synthesized owner")
		assert.Equal(t, 3, s.UnreadCount, "expected unread count")
		assert.NotNil(t, s.LastMessage, "expected last message preview")
		assert.Equal(t, "latest", s.LastMessage.Body, "expected preview body")

		db.AssertExpectations(t)
	})

	t.Run("orders by last activity, message-less channels last", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		dir := NewDirectory(testutil.TestLogger(t), db)

		quiet := database.Channel{Id: 1, ExternalId: "quiet", OwnerUserId: 8, CreatedAt: base.Add(3 * time.Hour)}
		older := database.Channel{Id: 2, ExternalId: "older", OwnerUserId: 8, CreatedAt: base}
		busy := database.Channel{Id: 3, ExternalId: "busy", OwnerUserId: 8, CreatedAt: base}

		db.On("ListChannelsForUser", 8).Return([]database.Channel{quiet, older, busy}, nil).Once()
		for _, ch := range []database.Channel{quiet, older, busy} {
			db.On("GetMembers", ch.Id).Return([]database.Member{}, nil).Once()
			db.On("CountUnread", ch.Id, 8).Return(0, nil).Once()
		}
		db.On("LastMessage", 1).Return((*database.Message)(nil), sql.ErrNoRows).Once()
		db.On("LastMessage", 2).Return(&database.Message{Id: "m-old", ChannelId: 2, CreatedAt: base.Add(time.Hour)}, nil).Once()
		db.On("LastMessage", 3).Return(&database.Message{Id: "m-new", ChannelId: 3, CreatedAt: base.Add(2 * time.Hour)}, nil).Once()

		summaries, err := dir.ListChannelsForUser(context.Background(), identity)
		assert.NoError(t, err, "expected list to succeed")
		assert.Lenf(t, summaries, 3, "expected 3 summaries, got %d", len(summaries))
		assert.Equal(t, "busy", summaries[0].ExternalId, "expected most recently active channel first")
		assert.Equal(t, "older", summaries[1].ExternalId, "expected older activity second")
		assert.Equal(t, "quiet", summaries[2].ExternalId, "expected message-less channel last")

		db.AssertExpectations(t)
	})

	t.Run("redacts deleted last message", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		dir := NewDirectory(testutil.TestLogger(t), db)

		ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 8, CreatedAt: base}
		db.On("ListChannelsForUser", 8).Return([]database.Channel{ch}, nil).Once()
		db.On("GetMembers", 1).Return([]database.Member{}, nil).Once()
		db.On("LastMessage", 1).Return(&database.Message{
			Id: "msg-9", ChannelId: 1, Body: "secret", Deleted: true, CreatedAt: base.Add(time.Hour),
		}, nil).Once()
		db.On("CountUnread", 1, 8).Return(0, nil).Once()

		summaries, err := dir.ListChannelsForUser(context.Background(), identity)
		assert.NoError(t, err, "expected list to succeed")
		assert.True(t, summaries[0].LastMessage.Deleted, "expected tombstone flag")
		assert.Empty(t, summaries[0].LastMessage.Body, "expected tombstone body redacted")

		db.AssertExpectations(t)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		dir := NewDirectory(testutil.TestLogger(t), db)

		db.On("ListChannelsForUser", 8).Return([]database.Channel(nil), errors.New("conn refused")).Once()

		_, err := dir.ListChannelsForUser(context.Background(), identity)
		assert.Error(t, err, "expected error to surface")
		db.AssertExpectations(t)
	})
}

func TestRefresher(t *testing.T) {
	identity := types.Identity{UserId: 8}

	db := &database.MockTeamChatRepository{}
	dir := NewDirectory(testutil.TestLogger(t), db)

	db.On("ListChannelsForUser", 8).Return([]database.Channel{}, nil)

	updates := make(chan []types.ChannelSummary, 16)
	r := NewRefresher(testutil.TestLogger(t), dir, identity, 10*time.Millisecond, func(s []types.ChannelSummary) {
		updates <- s
	})

	go r.Run()

	// one immediate refresh plus at least one tick
	for i := 0; i < 2; i++ {
		select {
		case <-updates:
		case <-time.After(time.Second):
			t.Fatal("timeout: refresher did not poll")
		}
	}

	r.Stop()
}
