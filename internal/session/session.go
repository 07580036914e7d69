package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/chat"
	"github.com/planforge/teamchat/internal/types"
)

// State is the controller's lifecycle position. Transitions:
// Loading -> Ready <-> Sending -> Closed, with LoadFailed as the terminal
// state of an exhausted load.
type State int

const (
	StateLoading State = iota
	StateReady
	StateSending
	StateLoadFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateLoadFailed:
		return "load_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned for operations on a closed controller.
	ErrClosed = errors.New("session closed")
	// ErrNotReady is returned when a send is attempted before the baseline
	// load completed or while another send is in flight.
	ErrNotReady = errors.New("session not ready")
)

const (
	maxLoadAttempts = 3
	loadBackoff     = 250 * time.Millisecond
	historyPage     = 200
)

// HistoryEntry pairs a message with its aggregate at fetch time.
type HistoryEntry struct {
	Message   types.Message   `json:"message"`
	Aggregate types.Aggregate `json:"aggregate"`
}

// The controller talks to the backend through these narrow interfaces so it
// runs unchanged against the HTTP/ws stack or in-process fakes.
type HistoryService interface {
	History(ctx context.Context, channelId string, cursor chat.Cursor, limit int) ([]HistoryEntry, error)
}

type SendService interface {
	Send(ctx context.Context, channelId, body, replyTo string) error
}

type ReadService interface {
	MarkRead(ctx context.Context, channelId string, messageIds []string) error
}

type TypingService interface {
	SetTyping(ctx context.Context, channelId string, isTyping bool) error
}

type typingEntry struct {
	name      string
	updatedAt time.Time
}

// Controller orchestrates one open channel on the client side: baseline
// history load, live event merging, sends, read marks and typing. All state
// the UI renders comes out of the accessors; the controller never blocks on
// I/O while holding its lock.
type Controller struct {
	log     *log.Logger
	bus     bus.Bus
	history HistoryService
	sender  SendService
	reader  ReadService
	typer   TypingService

	channelId string
	identity  types.Identity
	memberId  int

	mu          sync.Mutex
	state       State
	messages    []types.Message
	aggregates  map[string]types.Aggregate
	typing      map[int]typingEntry
	compose     string
	markedRead  map[string]bool
	failedReads []string
	sub         bus.Subscription

	now   func() time.Time
	sleep func(time.Duration)
}

func NewController(logger *log.Logger, b bus.Bus, history HistoryService, sender SendService, reader ReadService, typer TypingService, channelId string, identity types.Identity, memberId int) *Controller {
	return &Controller{
		log:        logger,
		bus:        b,
		history:    history,
		sender:     sender,
		reader:     reader,
		typer:      typer,
		channelId:  channelId,
		identity:   identity,
		memberId:   memberId,
		state:      StateLoading,
		aggregates: make(map[string]types.Aggregate),
		typing:     make(map[int]typingEntry),
		markedRead: make(map[string]bool),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Open subscribes to the channel topic and then loads the baseline. The
// subscription comes first so nothing published during the fetch is lost:
// events that race the baseline merge idempotently by id. Load failures are
// retried with backoff; after the attempt budget the controller lands in
// LoadFailed and the last error is returned.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateLoading
	c.mu.Unlock()

	sub, err := c.bus.Subscribe(c.channelId, c.handleEvent)
	if err != nil {
		c.setState(StateLoadFailed)
		return fmt.Errorf("subscribe %q: %w", c.channelId, err)
	}

	c.mu.Lock()
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.sub = sub
	c.mu.Unlock()

	if err := c.loadBaseline(ctx); err != nil {
		c.setState(StateLoadFailed)
		return err
	}

	c.setState(StateReady)
	return nil
}

// Resubscribe recovers from a dropped bus connection. Buffered bus state is
// never trusted across a gap: the baseline is re-fetched from scratch, which
// makes the result identical to a cold open at the same instant.
func (c *Controller) Resubscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.messages = nil
	c.aggregates = make(map[string]types.Aggregate)
	c.typing = make(map[int]typingEntry)
	c.mu.Unlock()

	return c.Open(ctx)
}

func (c *Controller) loadBaseline(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxLoadAttempts; attempt++ {
		if err := c.fetchAll(ctx); err != nil {
			lastErr = err
			c.log.Printf("load history for %q (attempt %d/%d): %v", c.channelId, attempt, maxLoadAttempts, err)
			if attempt < maxLoadAttempts {
				c.sleep(loadBackoff * time.Duration(attempt))
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Controller) fetchAll(ctx context.Context) error {
	var cursor chat.Cursor
	var entries []HistoryEntry
	for {
		page, err := c.history.History(ctx, c.channelId, cursor, historyPage)
		if err != nil {
			return err
		}
		entries = append(entries, page...)
		if len(page) < historyPage {
			break
		}
		last := page[len(page)-1].Message
		cursor = chat.Cursor{After: last.CreatedAt, AfterId: last.Id}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.mergeMessageLocked(e.Message)
		c.aggregates[e.Message.Id] = e.Aggregate
	}
	return nil
}

func (c *Controller) handleEvent(ev bus.Event) {
	switch ev.Kind {
	case bus.KindMessageInserted:
		var msg types.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			c.log.Printf("decode message event on %q: %v", c.channelId, err)
			return
		}
		c.mu.Lock()
		c.mergeMessageLocked(msg)
		c.mu.Unlock()
	case bus.KindReadStatusUpsert:
		var rs chat.ReadStatusEvent
		if err := json.Unmarshal(ev.Payload, &rs); err != nil {
			c.log.Printf("decode read status event on %q: %v", c.channelId, err)
			return
		}
		c.mu.Lock()
		c.aggregates[rs.Aggregate.MessageId] = rs.Aggregate
		c.mu.Unlock()
	case bus.KindTypingUpsert:
		var te chat.TypingEvent
		if err := json.Unmarshal(ev.Payload, &te); err != nil {
			c.log.Printf("decode typing event on %q: %v", c.channelId, err)
			return
		}
		c.mu.Lock()
		if te.IsTyping {
			c.typing[te.Member.MemberId] = typingEntry{name: te.Member.DisplayName, updatedAt: te.UpdatedAt}
		} else {
			delete(c.typing, te.Member.MemberId)
		}
		c.mu.Unlock()
	}
}

// mergeMessageLocked inserts the message at its (created_at, id) sort
// position, or replaces the existing copy when the id is already present.
// Replacement is how tombstones and re-deliveries land; blind appends would
// break on out-of-order arrival.
func (c *Controller) mergeMessageLocked(msg types.Message) {
	for i := range c.messages {
		if c.messages[i].Id == msg.Id {
			c.messages[i] = msg
			return
		}
	}

	pos := sort.Search(len(c.messages), func(i int) bool {
		m := c.messages[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.Id > msg.Id
	})

	c.messages = append(c.messages, types.Message{})
	copy(c.messages[pos+1:], c.messages[pos:])
	c.messages[pos] = msg
}

// Send clears the compose field optimistically, then performs the send. On
// failure the typed text is restored, never dropped. On success no local row
// is inserted: the bus echo is the canonical copy.
func (c *Controller) Send(ctx context.Context, replyTo string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	text := c.compose
	c.compose = ""
	c.state = StateSending
	c.mu.Unlock()

	err := c.sender.Send(ctx, c.channelId, text, replyTo)

	c.mu.Lock()
	if c.state == StateSending {
		c.state = StateReady
	}
	if err != nil {
		c.compose = text
	}
	c.mu.Unlock()

	return err
}

// Focus marks everything currently visible and unread as read in one batch,
// plus anything whose earlier mark failed. A failed mark is invisible to the
// user; the ids are kept and retried on the next focus.
func (c *Controller) Focus(ctx context.Context) {
	c.mu.Lock()
	var ids []string
	seen := make(map[string]bool)
	for _, id := range c.failedReads {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	for _, m := range c.messages {
		if m.AuthorUserId == c.identity.UserId {
			continue
		}
		if c.markedRead[m.Id] || seen[m.Id] {
			continue
		}
		ids = append(ids, m.Id)
		seen[m.Id] = true
	}
	c.failedReads = nil
	c.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	if err := c.reader.MarkRead(ctx, c.channelId, ids); err != nil {
		c.log.Printf("mark read on %q: %v", c.channelId, err)
		c.mu.Lock()
		c.failedReads = append(c.failedReads, ids...)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	for _, id := range ids {
		c.markedRead[id] = true
	}
	c.mu.Unlock()
}

// SetTyping forwards the local typing state. Failures are logged and
// swallowed: indicators are best effort and must never block composing.
func (c *Controller) SetTyping(ctx context.Context, isTyping bool) {
	if err := c.typer.SetTyping(ctx, c.channelId, isTyping); err != nil {
		c.log.Printf("set typing on %q: %v", c.channelId, err)
	}
}

// Close unsubscribes and freezes the controller. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.typing = make(map[int]typingEntry)
	c.state = StateClosed
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the ordered message list.
func (c *Controller) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) Aggregate(messageId string) (types.Aggregate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.aggregates[messageId]
	return agg, ok
}

// Typers returns the live typing set, excluding the controller's own member
// and anything past the TTL.
func (c *Controller) Typers() []types.TypingUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-chat.TypingTTL)
	var typers []types.TypingUser
	for memberId, entry := range c.typing {
		if memberId == c.memberId {
			continue
		}
		if entry.updatedAt.Before(cutoff) {
			continue
		}
		typers = append(typers, types.TypingUser{MemberId: memberId, DisplayName: entry.name})
	}

	sort.Slice(typers, func(i, j int) bool { return typers[i].MemberId < typers[j].MemberId })
	return typers
}

func (c *Controller) SetCompose(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compose = text
}

func (c *Controller) Compose() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compose
}
