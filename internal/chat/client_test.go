package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/stats"
	"github.com/planforge/teamchat/internal/testutil"
	"github.com/planforge/teamchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestClient(t *testing.T, cs *ChatServer) *Client {
	t.Helper()
	return NewClient(types.Identity{UserId: 8, Email: "ada@example.com"}, nil, cs, testutil.TestLogger(t))
}

func recvMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout: no message queued for client")
		return nil
	}
}

func registeredStats(t *testing.T) *stats.MockStatsUpdater {
	t.Helper()
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.AnythingOfType("string")).Times(4)
	return su
}

func TestClient_OpenChannel(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", Name: "general", OwnerUserId: 7}

	t.Run("opens and subscribes", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(database.Member{Id: 11, ChannelId: 1, DisplayName: "ada"}, nil).Once()

		c.openChannel(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Open:        &Open{ChannelId: "chan-1"},
		})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected ok response")
		assert.NotNil(t, c.getSession("chan-1"), "expected session stored")

		// events on the channel topic now reach this client
		err := cs.bus.Publish(context.Background(), "chan-1", bus.KindMessageInserted, types.Message{Id: "msg-1"})
		assert.NoError(t, err, "expected publish to succeed")

		ev := recvMessage(t, c)
		assert.NotNil(t, ev.Event, "expected a bus event frame")
		assert.Equal(t, bus.KindMessageInserted, ev.Event.Kind, "expected message event forwarded")

		db.AssertExpectations(t)
	})

	t.Run("reopen is idempotent", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(database.Member{Id: 11, ChannelId: 1, DisplayName: "ada"}, nil).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
		recvMessage(t, c)

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Open: &Open{ChannelId: "chan-1"}})
		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected reopen to succeed without a second lookup")

		db.AssertExpectations(t)
	})

	t.Run("unknown channel", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "nope").Return(database.Channel{}, sql.ErrNoRows).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "nope"}})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode, "expected not found")
		db.AssertExpectations(t)
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(database.Member{}, sql.ErrNoRows).Once()
		db.On("GetMemberByEmail", 1, "ada@example.com").Return(database.Member{}, sql.ErrNoRows).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusForbidden, resp.Response.ResponseCode, "expected forbidden")
		assert.Nil(t, c.getSession("chan-1"), "expected no session for rejected open")
		db.AssertExpectations(t)
	})
}

func TestClient_CloseChannel(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}

	db := &database.MockTeamChatRepository{}
	cs := newTestChatServer(t, db, registeredStats(t))
	c := newTestClient(t, cs)

	db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
	db.On("GetMemberForUser", 1, 8).Return(database.Member{Id: 11, ChannelId: 1, DisplayName: "ada"}, nil).Once()

	c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
	recvMessage(t, c)

	c.closeChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Close: &Close{ChannelId: "chan-1"}})
	resp := recvMessage(t, c)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected close to succeed")
	assert.Nil(t, c.getSession("chan-1"), "expected session removed")

	// closing again is a no-op
	c.closeChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Close: &Close{ChannelId: "chan-1"}})
	resp = recvMessage(t, c)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected repeated close to succeed")

	db.AssertExpectations(t)
}

func TestClient_Publish(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}
	member := database.Member{Id: 11, ChannelId: 1, DisplayName: "ada"}

	t.Run("appends and accepts", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		su := registeredStats(t)
		su.On("Incr", stats.MessagesSent).Once()
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(member, nil).Twice()
		db.On("GetChannel", 1).Return(ch, nil).Once()
		db.On("CreateMessage", mock.AnythingOfType("database.CreateMessageParams")).Return(database.Message{
			Id: "msg-1", ChannelId: 1, AuthorUserId: 8, AuthorName: "ada", Body: "hello", CreatedAt: Now(),
		}, nil).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
		recvMessage(t, c)

		c.publish(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{ChannelId: "chan-1", Body: "hello"},
		})

		// the accepted response comes via queueMessage, the echo via the bus
		var gotAccepted, gotEcho bool
		for !gotAccepted || !gotEcho {
			msg := recvMessage(t, c)
			switch {
			case msg.Response != nil:
				assert.Equal(t, http.StatusAccepted, msg.Response.ResponseCode, "expected accepted response")
				gotAccepted = true
			case msg.Event != nil && msg.Event.Kind == bus.KindMessageInserted:
				gotEcho = true
			}
		}

		su.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("empty body", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(member, nil).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
		recvMessage(t, c)

		c.publish(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{ChannelId: "chan-1", Body: "   "},
		})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected bad request for empty body")
		db.AssertExpectations(t)
	})

	t.Run("channel not open", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := newTestClient(t, cs)

		c.publish(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Publish:     &Publish{ChannelId: "chan-1", Body: "hello"},
		})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode, "expected not found for unopened channel")
	})
}

func TestClient_Typing(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}
	member := database.Member{Id: 11, ChannelId: 1, DisplayName: "ada"}

	db := &database.MockTeamChatRepository{}
	su := registeredStats(t)
	su.On("Incr", stats.TypingEvents).Twice()
	cs := newTestChatServer(t, db, su)
	c := newTestClient(t, cs)

	db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
	db.On("GetMemberForUser", 1, 8).Return(member, nil).Once()

	c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
	recvMessage(t, c)

	c.typing(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Typing: &Typing{ChannelId: "chan-1", IsTyping: true}})

	var resp *ServerMessage
	var typingEv TypingEvent
	var gotEvent bool
	for resp == nil || !gotEvent {
		msg := recvMessage(t, c)
		switch {
		case msg.Response != nil:
			resp = msg
		case msg.Event != nil && msg.Event.Kind == bus.KindTypingUpsert:
			assert.NoError(t, json.Unmarshal(msg.Event.Payload, &typingEv), "expected typing payload to decode")
			gotEvent = true
		}
	}
	assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode, "expected accepted response")
	assert.True(t, typingEv.IsTyping, "expected typing start event")
	assert.Equal(t, 11, typingEv.Member.MemberId, "expected member id in event")
	assert.Len(t, cs.Typing.ActiveTypers(1, 0), 1, "expected typing signal recorded")

	c.typing(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Typing: &Typing{ChannelId: "chan-1", IsTyping: false}})
	assert.Eventually(t, func() bool {
		return len(cs.Typing.ActiveTypers(1, 0)) == 0
	}, time.Second, 10*time.Millisecond, "expected typing signal cleared")

	su.AssertExpectations(t)
	db.AssertExpectations(t)
}

func TestClient_MarkRead(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}
	member := database.Member{Id: 11, ChannelId: 1, UserId: sql.NullInt64{Int64: 8, Valid: true}, DisplayName: "ada"}

	t.Run("marks batch and accepts", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		su := registeredStats(t)
		su.On("Incr", stats.ReadReceipts).Once()
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs)

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 8).Return(member, nil).Once()
		db.On("UpsertRead", "msg-1", 11, mock.AnythingOfType("time.Time")).Return(nil).Once()
		db.On("GetMessage", "msg-1").Return(database.Message{Id: "msg-1", ChannelId: 1}, nil)
		db.On("GetChannel", 1).Return(ch, nil)
		db.On("GetChannelWithMembers", 1).Return(&database.Channel{
			Id: 1, ExternalId: "chan-1", OwnerUserId: 7, Members: []database.Member{member},
		}, nil)
		db.On("CountReadDelivered", "msg-1").Return(1, 1, nil)

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
		recvMessage(t, c)

		c.markRead(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Read:        &Read{ChannelId: "chan-1", MessageIds: []string{"msg-1"}},
		})

		var resp *ServerMessage
		for resp == nil {
			msg := recvMessage(t, c)
			if msg.Response != nil {
				resp = msg
			}
		}
		assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode, "expected accepted response")

		su.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("owner without a row carries no receipts", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		cs := newTestChatServer(t, db, registeredStats(t))
		c := NewClient(types.Identity{UserId: 7, Email: "owner@example.com"}, nil, cs, testutil.TestLogger(t))

		db.On("GetChannelByExternalId", "chan-1").Return(ch, nil).Once()
		db.On("GetMemberForUser", 1, 7).Return(database.Member{}, sql.ErrNoRows).Once()
		db.On("GetMemberByEmail", 1, "owner@example.com").Return(database.Member{}, sql.ErrNoRows).Once()

		c.openChannel(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Open: &Open{ChannelId: "chan-1"}})
		recvMessage(t, c)

		c.markRead(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Read:        &Read{ChannelId: "chan-1", MessageIds: []string{"msg-1"}},
		})

		resp := recvMessage(t, c)
		assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode, "expected accepted response")
		db.AssertNotCalled(t, "UpsertRead", mock.Anything, mock.Anything, mock.Anything)
		db.AssertExpectations(t)
	})
}
