package chat

import (
	"database/sql"
	"errors"

	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
)

// ChannelRef identifies a channel both ways: the numeric id keys the store,
// the external id is the bus topic clients subscribe by.
type ChannelRef struct {
	Id         int
	ExternalId string
}

// RosterView derives the effective member list: the stored rows plus a
// synthesized owner member when the owner has no explicit row. The synthesis
// happens at read time only and is never written back, so adding the owner
// explicitly later cannot create a duplicate identity.
func RosterView(ch database.Channel, members []database.Member) []types.Member {
	view := make([]types.Member, 0, len(members)+1)
	ownerPresent := false
	for _, m := range members {
		if m.UserId.Valid && int(m.UserId.Int64) == ch.OwnerUserId {
			ownerPresent = true
		}
		view = append(view, memberView(m))
	}

	if !ownerPresent {
		view = append(view, types.Member{
			ChannelId:   ch.Id,
			UserId:      ch.OwnerUserId,
			DisplayName: "Owner",
			Role:        types.RoleOwner,
			Approved:    true,
		})
	}

	return view
}

func memberView(m database.Member) types.Member {
	var userId int
	if m.UserId.Valid {
		userId = int(m.UserId.Int64)
	}
	return types.Member{
		Id:          m.Id,
		ChannelId:   m.ChannelId,
		UserId:      userId,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		Role:        types.Role(m.Role),
		Approved:    m.Approved,
		CreatedAt:   m.CreatedAt,
	}
}

// ResolveMember matches an authenticated identity to a channel member row:
// by linked user id first, by email for invited-but-unlinked members. The
// channel owner is always a member even without a row; in that case the
// returned member has no row id and read receipts for them are skipped.
func ResolveMember(db database.TeamChatRepository, ch database.Channel, identity types.Identity) (database.Member, error) {
	m, err := db.GetMemberForUser(ch.Id, identity.UserId)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.Member{}, transient("get member", err)
	}

	if identity.Email != "" {
		m, err = db.GetMemberByEmail(ch.Id, identity.Email)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return database.Member{}, transient("get member by email", err)
		}
	}

	if identity.UserId == ch.OwnerUserId {
		return database.Member{
			ChannelId:   ch.Id,
			UserId:      sql.NullInt64{Int64: int64(identity.UserId), Valid: true},
			DisplayName: "Owner",
			Email:       identity.Email,
			Role:        string(types.RoleOwner),
			Approved:    true,
		}, nil
	}

	return database.Member{}, ErrNotAMember
}
