package chat

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
)

// ReadTracker maintains per-(message, member) delivery and read state.
// Upserts are idempotent and keep the earliest timestamps; there is no way
// to un-read. Each viewer writes only its own rows, so concurrent marks are
// commutative and need no locking here.
type ReadTracker struct {
	log *log.Logger
	db  database.TeamChatRepository
	bus bus.Bus
	now func() time.Time
}

func NewReadTracker(logger *log.Logger, db database.TeamChatRepository, b bus.Bus) *ReadTracker {
	return &ReadTracker{
		log: logger,
		db:  db,
		bus: b,
		now: time.Now,
	}
}

func (rt *ReadTracker) MarkDelivered(ctx context.Context, messageId string, memberId int) error {
	at := rt.now().UTC().Round(time.Millisecond)
	if err := rt.db.UpsertDelivered(messageId, memberId, at); err != nil {
		return transient("mark delivered", err)
	}

	rt.publishReadStatus(ctx, messageId, types.ReadReceipt{
		MessageId:   messageId,
		MemberId:    memberId,
		DeliveredAt: at,
	})

	return nil
}

// MarkRead implies delivery: both fields are upserted together when no
// delivery was recorded yet.
func (rt *ReadTracker) MarkRead(ctx context.Context, messageId string, memberId int) error {
	at := rt.now().UTC().Round(time.Millisecond)
	if err := rt.db.UpsertRead(messageId, memberId, at); err != nil {
		return transient("mark read", err)
	}

	rt.publishReadStatus(ctx, messageId, types.ReadReceipt{
		MessageId:   messageId,
		MemberId:    memberId,
		DeliveredAt: at,
		ReadAt:      at,
	})

	return nil
}

// MarkReadBatch marks several messages read in one pass, for the
// focus-regained flow. The first store failure aborts the batch; everything
// already marked stays marked.
func (rt *ReadTracker) MarkReadBatch(ctx context.Context, messageIds []string, memberId int) error {
	for _, id := range messageIds {
		if err := rt.MarkRead(ctx, id, memberId); err != nil {
			return err
		}
	}
	return nil
}

func (rt *ReadTracker) MarkDeliveredBatch(ctx context.Context, messageIds []string, memberId int) error {
	for _, id := range messageIds {
		if err := rt.MarkDelivered(ctx, id, memberId); err != nil {
			return err
		}
	}
	return nil
}

// Aggregate derives counts against the roster as it is right now, not as it
// was at send time, so counts adjust as members join. Counts are clamped so
// read <= delivered <= total always holds even against stale rows.
func (rt *ReadTracker) Aggregate(ctx context.Context, messageId string) (types.Aggregate, error) {
	msg, err := rt.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Aggregate{}, ErrMessageNotFound
		}
		return types.Aggregate{}, transient("get message", err)
	}

	ch, err := rt.db.GetChannelWithMembers(msg.ChannelId)
	if err != nil {
		return types.Aggregate{}, transient("get channel", err)
	}

	total := len(RosterView(*ch, ch.Members))

	read, delivered, err := rt.db.CountReadDelivered(messageId)
	if err != nil {
		return types.Aggregate{}, transient("count read statuses", err)
	}

	if delivered > total {
		delivered = total
	}
	if read > delivered {
		read = delivered
	}

	return types.Aggregate{
		MessageId:      messageId,
		TotalMembers:   total,
		DeliveredCount: delivered,
		ReadCount:      read,
	}, nil
}

// Receipts returns the per-member receipt rows for one message. An unknown
// message yields an empty list; callers wanting a not-found distinction
// check the message first.
func (rt *ReadTracker) Receipts(ctx context.Context, messageId string) ([]types.ReadReceipt, error) {
	rows, err := rt.db.GetReadStatuses(messageId)
	if err != nil {
		return nil, transient("get read statuses", err)
	}

	receipts := make([]types.ReadReceipt, 0, len(rows))
	for _, rs := range rows {
		receipt := types.ReadReceipt{MessageId: rs.MessageId, MemberId: rs.MemberId}
		if rs.DeliveredAt.Valid {
			receipt.DeliveredAt = rs.DeliveredAt.Time
		}
		if rs.ReadAt.Valid {
			receipt.ReadAt = rs.ReadAt.Time
		}
		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// publishReadStatus is best effort: aggregates are derivable from the store
// at any time, so a lost event only delays counter updates until the next
// baseline fetch.
func (rt *ReadTracker) publishReadStatus(ctx context.Context, messageId string, receipt types.ReadReceipt) {
	agg, err := rt.Aggregate(ctx, messageId)
	if err != nil {
		rt.log.Printf("aggregate %s: %v", messageId, err)
		return
	}

	msg, err := rt.db.GetMessage(messageId)
	if err != nil {
		rt.log.Printf("get message %s: %v", messageId, err)
		return
	}

	ch, err := rt.db.GetChannel(msg.ChannelId)
	if err != nil {
		rt.log.Printf("get channel %d: %v", msg.ChannelId, err)
		return
	}

	ev := ReadStatusEvent{
		ChannelId: ch.ExternalId,
		Receipt:   receipt,
		Aggregate: agg,
	}
	if err := rt.bus.Publish(ctx, ch.ExternalId, bus.KindReadStatusUpsert, ev); err != nil {
		rt.log.Printf("publish read status for %s on %q: %v", messageId, ch.ExternalId, err)
	}
}
