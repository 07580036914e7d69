package database

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	addMemberQuery = "INSERT INTO members (channel_id, user_id, display_name, email, role, approved, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, channel_id, user_id, display_name, email, role, approved, created_at"

	memberColumns = "id, channel_id, user_id, display_name, email, role, approved, created_at"

	messageColumns = "id, channel_id, author_user_id, author_name, body, reply_to, deleted, created_at, edited_at"
)

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	err := row.Scan(
		&m.Id,
		&m.ChannelId,
		&m.UserId,
		&m.DisplayName,
		&m.Email,
		&m.Role,
		&m.Approved,
		&m.CreatedAt,
	)
	return m, err
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ChannelId,
		&msg.AuthorUserId,
		&msg.AuthorName,
		&msg.Body,
		&msg.ReplyTo,
		&msg.Deleted,
		&msg.CreatedAt,
		&msg.EditedAt,
	)
	return msg, err
}

func (db *PgTeamChatRepository) GetChannel(channelId int) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, owner_user_id, created_at, updated_at FROM channels "+
			"WHERE id = $1 LIMIT 1",
		channelId,
	)

	var ch Channel
	err := row.Scan(
		&ch.Id,
		&ch.ExternalId,
		&ch.Name,
		&ch.OwnerUserId,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)

	return ch, err
}

func (db *PgTeamChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, owner_user_id, created_at, updated_at FROM channels "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var ch Channel
	err := row.Scan(
		&ch.Id,
		&ch.ExternalId,
		&ch.Name,
		&ch.OwnerUserId,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)

	return ch, err
}

func (db *PgTeamChatRepository) GetChannelWithMembers(channelId int) (*Channel, error) {
	query := `
		SELECT
				c.id AS channel_id,
				c.external_id,
				c.name,
				c.owner_user_id,
				c.created_at AS channel_created_at,
				c.updated_at AS channel_updated_at,
				m.id,
				m.user_id,
				m.display_name,
				m.email,
				m.role,
				m.approved,
				m.created_at AS member_created_at
		FROM channels c
		LEFT JOIN members m ON c.id = m.channel_id
		WHERE c.id = $1;
`

	rows, err := db.conn.Query(query, channelId)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel with members: %w", err)
	}
	defer rows.Close()

	var channel *Channel
	for rows.Next() {
		var (
			chId            int
			externalId      string
			name            string
			ownerUserId     int
			chCreatedAt     time.Time
			chUpdatedAt     time.Time
			memberId        sql.NullInt64
			userId          sql.NullInt64
			displayName     sql.NullString
			email           sql.NullString
			role            sql.NullString
			approved        sql.NullBool
			memberCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&chId,
			&externalId,
			&name,
			&ownerUserId,
			&chCreatedAt,
			&chUpdatedAt,
			&memberId,
			&userId,
			&displayName,
			&email,
			&role,
			&approved,
			&memberCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if channel == nil {
			channel = &Channel{
				Id:          chId,
				ExternalId:  externalId,
				Name:        name,
				OwnerUserId: ownerUserId,
				CreatedAt:   chCreatedAt,
				UpdatedAt:   chUpdatedAt,
				Members:     make([]Member, 0),
			}
		}

		if memberId.Valid {
			channel.Members = append(channel.Members, Member{
				Id:          int(memberId.Int64),
				ChannelId:   chId,
				UserId:      userId,
				DisplayName: displayName.String,
				Email:       email.String,
				Role:        role.String,
				Approved:    approved.Bool,
				CreatedAt:   memberCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if channel == nil {
		return nil, fmt.Errorf("channel with id %d not found", channelId)
	}

	return channel, nil
}

func (db *PgTeamChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Channel{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO channels (name, external_id, owner_user_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, name, external_id, owner_user_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.OwnerUserId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var channel Channel
	err = res.Scan(
		&channel.Id,
		&channel.Name,
		&channel.ExternalId,
		&channel.OwnerUserId,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	if err != nil {
		return Channel{}, err
	}

	_, err = tx.Exec(
		addMemberQuery,
		channel.Id,
		params.OwnerUserId,
		params.OwnerName,
		params.OwnerEmail,
		"owner",
		true,
		time.Now().UTC(),
	)
	if err != nil {
		return Channel{}, err
	}

	if err = tx.Commit(); err != nil {
		return Channel{}, err
	}

	return channel, err
}

func (db *PgTeamChatRepository) AddMember(params AddMemberParams) (Member, error) {
	var userId sql.NullInt64
	if params.UserId != 0 {
		userId = sql.NullInt64{Int64: int64(params.UserId), Valid: true}
	}

	row := db.conn.QueryRow(
		addMemberQuery,
		params.ChannelId,
		userId,
		params.DisplayName,
		params.Email,
		params.Role,
		params.Approved,
		time.Now().UTC(),
	)

	return scanMember(row)
}

func (db *PgTeamChatRepository) GetMembers(channelId int) ([]Member, error) {
	rows, err := db.conn.Query(
		"SELECT "+memberColumns+" FROM members WHERE channel_id = $1",
		channelId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members = make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgTeamChatRepository) GetMemberForUser(channelId, userId int) (Member, error) {
	row := db.conn.QueryRow(
		"SELECT "+memberColumns+" FROM members WHERE channel_id = $1 AND user_id = $2 LIMIT 1",
		channelId,
		userId,
	)

	return scanMember(row)
}

func (db *PgTeamChatRepository) GetMemberByEmail(channelId int, email string) (Member, error) {
	row := db.conn.QueryRow(
		"SELECT "+memberColumns+" FROM members WHERE channel_id = $1 AND email = $2 AND user_id IS NULL LIMIT 1",
		channelId,
		email,
	)

	return scanMember(row)
}

func (db *PgTeamChatRepository) ListChannelsForUser(userId int) ([]Channel, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT c.id, c.external_id, c.name, c.owner_user_id, c.created_at, c.updated_at "+
			"FROM channels c LEFT JOIN members m ON c.id = m.channel_id "+
			"WHERE m.user_id = $1 OR c.owner_user_id = $1",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err = rows.Scan(&ch.Id, &ch.ExternalId, &ch.Name, &ch.OwnerUserId, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

func (db *PgTeamChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	var replyTo sql.NullString
	if params.ReplyTo != "" {
		replyTo = sql.NullString{String: params.ReplyTo, Valid: true}
	}

	row := db.conn.QueryRow(
		"INSERT INTO messages (id, channel_id, author_user_id, author_name, body, reply_to, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+messageColumns,
		params.Id,
		params.ChannelId,
		params.AuthorUserId,
		params.AuthorName,
		params.Body,
		replyTo,
		params.CreatedAt,
	)

	return scanMessage(row)
}

func (db *PgTeamChatRepository) GetMessage(messageId string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		messageId,
	)

	return scanMessage(row)
}

// ListMessagesSince returns messages strictly after the (after, afterId)
// cursor in (created_at, id) ascending order. A zero cursor returns from the
// beginning.
func (db *PgTeamChatRepository) ListMessagesSince(channelId int, after time.Time, afterId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE channel_id = $1 AND (created_at, id::text) > ($2, $3) "+
			"ORDER BY created_at ASC, id ASC LIMIT $4",
		channelId,
		after,
		afterId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgTeamChatRepository) LastMessage(channelId int) (*Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE channel_id = $1 AND NOT deleted ORDER BY created_at DESC, id DESC LIMIT 1",
		channelId,
	)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

func (db *PgTeamChatRepository) SoftDeleteMessage(messageId string, actorUserId int) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET deleted = TRUE, edited_at = $3 WHERE id = $1 AND "+
			"(author_user_id = $2 OR channel_id IN (SELECT id FROM channels WHERE owner_user_id = $2))",
		messageId,
		actorUserId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// UpsertDelivered records delivery for a (message, member) pair. Re-marking
// keeps the earliest delivered_at, so repeated calls are no-ops.
func (db *PgTeamChatRepository) UpsertDelivered(messageId string, memberId int, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO read_statuses (message_id, member_id, delivered_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, member_id) DO UPDATE "+
			"SET delivered_at = COALESCE(read_statuses.delivered_at, EXCLUDED.delivered_at)",
		messageId,
		memberId,
		at,
	)

	return err
}

// UpsertRead records a read, implying delivery. There is no way to un-read:
// existing read_at/delivered_at values are kept.
func (db *PgTeamChatRepository) UpsertRead(messageId string, memberId int, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO read_statuses (message_id, member_id, delivered_at, read_at) VALUES ($1, $2, $3, $3) "+
			"ON CONFLICT (message_id, member_id) DO UPDATE "+
			"SET delivered_at = COALESCE(read_statuses.delivered_at, EXCLUDED.delivered_at), "+
			"read_at = COALESCE(read_statuses.read_at, EXCLUDED.read_at)",
		messageId,
		memberId,
		at,
	)

	return err
}

func (db *PgTeamChatRepository) GetReadStatuses(messageId string) ([]ReadStatus, error) {
	rows, err := db.conn.Query(
		"SELECT message_id, member_id, delivered_at, read_at FROM read_statuses WHERE message_id = $1",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses = make([]ReadStatus, 0)
	for rows.Next() {
		var rs ReadStatus
		if err = rows.Scan(&rs.MessageId, &rs.MemberId, &rs.DeliveredAt, &rs.ReadAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, rs)
	}

	return statuses, rows.Err()
}

func (db *PgTeamChatRepository) CountReadDelivered(messageId string) (int, int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(read_at), COUNT(delivered_at) FROM read_statuses WHERE message_id = $1",
		messageId,
	)

	var read, delivered int
	err := row.Scan(&read, &delivered)

	return read, delivered, err
}

// CountUnread counts non-deleted messages authored by others with no read
// receipt row for any of the user's member rows in the channel.
func (db *PgTeamChatRepository) CountUnread(channelId, userId int) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages msg "+
			"WHERE msg.channel_id = $1 AND NOT msg.deleted AND msg.author_user_id != $2 "+
			"AND NOT EXISTS (SELECT 1 FROM read_statuses rs JOIN members m ON rs.member_id = m.id "+
			"WHERE rs.message_id = msg.id AND m.user_id = $2 AND rs.read_at IS NOT NULL)",
		channelId,
		userId,
	)

	var count int
	err := row.Scan(&count)

	return count, err
}
