package chat

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRosterView_SynthesizesOwner(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}
	members := []database.Member{
		{Id: 11, ChannelId: 1, UserId: sql.NullInt64{Int64: 8, Valid: true}, DisplayName: "ada", Role: "developer"},
	}

	view := RosterView(ch, members)
	assert.Lenf(t, view, 2, "expected stored member plus synthesized owner, got %d", len(view))
	assert.Equal(t, "ada", view[0].DisplayName, "expected stored member first")
	assert.Equal(t, 7, view[1].UserId, "expected synthesized owner user id")
	assert.Equal(t, types.RoleOwner, view[1].Role, "expected synthesized owner role")
	assert.Zero(t, view[1].Id, "expected synthesized owner to have no row id")
}

func TestRosterView_NoDuplicateOwner(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}
	members := []database.Member{
		{Id: 10, ChannelId: 1, UserId: sql.NullInt64{Int64: 7, Valid: true}, DisplayName: "owner", Role: "owner"},
		{Id: 11, ChannelId: 1, UserId: sql.NullInt64{Int64: 8, Valid: true}, DisplayName: "ada", Role: "developer"},
	}

	view := RosterView(ch, members)
	assert.Lenf(t, view, 2, "expected no synthesized owner when a row exists, got %d members", len(view))
}

func TestResolveMember(t *testing.T) {
	ch := database.Channel{Id: 1, ExternalId: "chan-1", OwnerUserId: 7}

	t.Run("resolves by linked user id", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		db.On("GetMemberForUser", 1, 8).Return(database.Member{Id: 11, DisplayName: "ada"}, nil).Once()

		m, err := ResolveMember(db, ch, types.Identity{UserId: 8, Email: "ada@example.com"})
		assert.NoError(t, err, "expected no error resolving member")
		assert.Equal(t, 11, m.Id, "expected member row id to match")
		db.AssertExpectations(t)
	})

	t.Run("falls back to email for unlinked member", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		db.On("GetMemberForUser", 1, 8).Return(database.Member{}, sql.ErrNoRows).Once()
		db.On("GetMemberByEmail", 1, "ada@example.com").Return(database.Member{Id: 12, Email: "ada@example.com"}, nil).Once()

		m, err := ResolveMember(db, ch, types.Identity{UserId: 8, Email: "ada@example.com"})
		assert.NoError(t, err, "expected no error resolving member by email")
		assert.Equal(t, 12, m.Id, "expected member resolved by email")
		db.AssertExpectations(t)
	})

	t.Run("owner is a member without a row", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		db.On("GetMemberForUser", 1, 7).Return(database.Member{}, sql.ErrNoRows).Once()
		db.On("GetMemberByEmail", 1, "owner@example.com").Return(database.Member{}, sql.ErrNoRows).Once()

		m, err := ResolveMember(db, ch, types.Identity{UserId: 7, Email: "owner@example.com"})
		assert.NoError(t, err, "expected owner to resolve without a member row")
		assert.Zero(t, m.Id, "expected synthesized owner member to have no row id")
		assert.Equal(t, string(types.RoleOwner), m.Role, "expected owner role")
		db.AssertExpectations(t)
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		db.On("GetMemberForUser", 1, 99).Return(database.Member{}, sql.ErrNoRows).Once()
		db.On("GetMemberByEmail", 1, "eve@example.com").Return(database.Member{}, sql.ErrNoRows).Once()

		_, err := ResolveMember(db, ch, types.Identity{UserId: 99, Email: "eve@example.com"})
		assert.ErrorIs(t, err, ErrNotAMember, "expected ErrNotAMember for stranger")
		db.AssertExpectations(t)
	})

	t.Run("store failure is transient", func(t *testing.T) {
		db := &database.MockTeamChatRepository{}
		db.On("GetMemberForUser", 1, 8).Return(database.Member{}, errors.New("conn refused")).Once()

		_, err := ResolveMember(db, ch, types.Identity{UserId: 8})
		assert.ErrorIs(t, err, ErrTransient, "expected transient error to be tagged")
		db.AssertExpectations(t)
	})
}
