package directory

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"

	"github.com/planforge/teamchat/internal/chat"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
)

// Directory builds the per-user channel list: every channel the user belongs
// to, with roster size, unread count and the latest message for preview.
type Directory struct {
	log *log.Logger
	db  database.TeamChatRepository
}

func NewDirectory(logger *log.Logger, db database.TeamChatRepository) *Directory {
	return &Directory{log: logger, db: db}
}

// ListChannelsForUser returns one summary per channel, ordered with the most
// recently active channels first. Channels without any messages sort after
// those with messages, newest channel first.
func (d *Directory) ListChannelsForUser(ctx context.Context, identity types.Identity) ([]types.ChannelSummary, error) {
	channels, err := d.db.ListChannelsForUser(identity.UserId)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		members, err := d.db.GetMembers(ch.Id)
		if err != nil {
			return nil, err
		}
		roster := chat.RosterView(ch, members)

		summary := types.ChannelSummary{
			ChannelId:   ch.Id,
			ExternalId:  ch.ExternalId,
			Name:        ch.Name,
			Role:        rosterRole(roster, identity),
			MemberCount: len(roster),
			CreatedAt:   ch.CreatedAt,
		}

		last, err := d.db.LastMessage(ch.Id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if last != nil {
			msg := chat.MessageView(*last)
			summary.LastMessage = &msg
		}

		unread, err := d.db.CountUnread(ch.Id, identity.UserId)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		si, sj := summaries[i], summaries[j]
		switch {
		case si.LastMessage != nil && sj.LastMessage != nil:
			return si.LastMessage.CreatedAt.After(sj.LastMessage.CreatedAt)
		case si.LastMessage != nil:
			return true
		case sj.LastMessage != nil:
			return false
		default:
			return si.CreatedAt.After(sj.CreatedAt)
		}
	})

	return summaries, nil
}

func rosterRole(roster []types.Member, identity types.Identity) types.Role {
	for _, m := range roster {
		if m.UserId != 0 && m.UserId == identity.UserId {
			return m.Role
		}
	}
	for _, m := range roster {
		if identity.Email != "" && m.Email == identity.Email {
			return m.Role
		}
	}
	return types.RoleMember
}
