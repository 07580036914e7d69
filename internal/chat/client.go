package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/stats"
	"github.com/planforge/teamchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// channelSession is one open channel on a connection: the resolved
// membership plus the live bus subscription feeding events back to the
// socket.
type channelSession struct {
	ref    ChannelRef
	name   string
	member types.Member
	sub    bus.Subscription
}

type Client struct {
	conn         *websocket.Conn
	chatServer   *ChatServer
	log          *log.Logger
	identity     types.Identity
	send         chan *ServerMessage
	sessions     map[string]*channelSession
	sessionsLock sync.RWMutex
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewClient(identity types.Identity, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		send:       make(chan *ServerMessage, 256),
		sessions:   make(map[string]*channelSession),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Identity = c.identity
		msg.Timestamp = Now()

		switch {
		case msg.Open != nil:
			c.openChannel(&msg)
		case msg.Close != nil:
			c.closeChannel(&msg)
		case msg.Publish != nil:
			c.publish(&msg)
		case msg.Typing != nil:
			c.typing(&msg)
		case msg.Read != nil:
			c.markRead(&msg)
		case msg.Delivered != nil:
			c.markDelivered(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

// openData is the response body for a successful open: the channel, the
// caller's own membership and whoever is currently typing.
type openData struct {
	ChannelId string             `json:"channel_id"`
	Name      string             `json:"name"`
	Member    types.Member       `json:"member"`
	Typers    []types.TypingUser `json:"typers"`
}

func (c *Client) openChannel(msg *ClientMessage) {
	extId := msg.Open.ChannelId

	if sess := c.getSession(extId); sess != nil {
		c.queueMessage(NoErrOK(msg.Id, openData{
			ChannelId: extId,
			Name:      sess.name,
			Member:    sess.member,
			Typers:    c.chatServer.Typing.ActiveTypers(sess.ref.Id, sess.member.Id),
		}))
		return
	}

	ch, err := c.chatServer.db.GetChannelByExternalId(extId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		} else {
			c.log.Printf("get channel %q: %s", extId, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	member, err := ResolveMember(c.chatServer.db, ch, c.identity)
	if err != nil {
		if errors.Is(err, ErrNotAMember) {
			c.queueMessage(ErrNotChannelMember(msg.Id))
		} else {
			c.log.Printf("resolve member for channel %q: %s", extId, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	sub, err := c.chatServer.bus.Subscribe(extId, func(ev bus.Event) {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Event:       &ev,
		})
	})
	if err != nil {
		c.log.Printf("subscribe to channel %q: %s", extId, err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	sess := &channelSession{
		ref:    ChannelRef{Id: ch.Id, ExternalId: ch.ExternalId},
		name:   ch.Name,
		member: memberView(member),
		sub:    sub,
	}
	c.addSession(extId, sess)

	c.queueMessage(NoErrOK(msg.Id, openData{
		ChannelId: extId,
		Name:      ch.Name,
		Member:    sess.member,
		Typers:    c.chatServer.Typing.ActiveTypers(ch.Id, member.Id),
	}))
}

func (c *Client) closeChannel(msg *ClientMessage) {
	sess := c.delSession(msg.Close.ChannelId)
	if sess != nil {
		sess.sub.Unsubscribe()
		c.clearTyping(sess)
	}

	// closing an already-closed channel is a no-op
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) publish(msg *ClientMessage) {
	sess := c.getSession(msg.Publish.ChannelId)
	if sess == nil {
		c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		return
	}

	_, err := c.chatServer.Store.Append(context.Background(), sess.ref, c.identity, msg.Publish.Body, msg.Publish.ReplyTo)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyBody):
			c.queueMessage(ErrEmptyMessageBody(msg.Id))
		case errors.Is(err, ErrNotAMember):
			c.queueMessage(ErrNotChannelMember(msg.Id))
		case errors.Is(err, ErrChannelNotFound):
			c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		case errors.Is(err, ErrTransient):
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		default:
			c.log.Printf("append message to channel %q: %s", sess.ref.ExternalId, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.chatServer.stats.Incr(stats.MessagesSent)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) typing(msg *ClientMessage) {
	sess := c.getSession(msg.Typing.ChannelId)
	if sess == nil {
		c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		return
	}

	now := Now()
	if msg.Typing.IsTyping {
		c.chatServer.Typing.SetTyping(sess.ref.Id, sess.member.Id, sess.member.DisplayName)
	} else {
		c.chatServer.Typing.ClearTyping(sess.ref.Id, sess.member.Id)
	}

	ev := TypingEvent{
		ChannelId: sess.ref.ExternalId,
		Member: types.TypingUser{
			MemberId:    sess.member.Id,
			DisplayName: sess.member.DisplayName,
		},
		IsTyping:  msg.Typing.IsTyping,
		UpdatedAt: now,
	}
	if err := c.chatServer.bus.Publish(context.Background(), sess.ref.ExternalId, bus.KindTypingUpsert, ev); err != nil {
		// indicators are advisory, the next signal supersedes this one
		c.log.Printf("publish typing event for channel %q: %s", sess.ref.ExternalId, err)
	}

	c.chatServer.stats.Incr(stats.TypingEvents)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) markRead(msg *ClientMessage) {
	sess := c.getSession(msg.Read.ChannelId)
	if sess == nil {
		c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		return
	}

	// owners without a member row carry no receipts
	if sess.member.Id == 0 {
		c.queueMessage(NoErrAccepted(msg.Id))
		return
	}

	if err := c.chatServer.Tracker.MarkReadBatch(context.Background(), msg.Read.MessageIds, sess.member.Id); err != nil {
		c.log.Printf("mark read in channel %q: %s", sess.ref.ExternalId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.chatServer.stats.Incr(stats.ReadReceipts)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) markDelivered(msg *ClientMessage) {
	sess := c.getSession(msg.Delivered.ChannelId)
	if sess == nil {
		c.queueMessage(ErrChannelNotFoundMsg(msg.Id))
		return
	}

	if sess.member.Id == 0 {
		c.queueMessage(NoErrAccepted(msg.Id))
		return
	}

	if err := c.chatServer.Tracker.MarkDeliveredBatch(context.Background(), msg.Delivered.MessageIds, sess.member.Id); err != nil {
		c.log.Printf("mark delivered in channel %q: %s", sess.ref.ExternalId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.chatServer.stats.Incr(stats.ReadReceipts)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) clearTyping(sess *channelSession) {
	c.chatServer.Typing.ClearTyping(sess.ref.Id, sess.member.Id)

	ev := TypingEvent{
		ChannelId: sess.ref.ExternalId,
		Member: types.TypingUser{
			MemberId:    sess.member.Id,
			DisplayName: sess.member.DisplayName,
		},
		IsTyping:  false,
		UpdatedAt: Now(),
	}
	if err := c.chatServer.bus.Publish(context.Background(), sess.ref.ExternalId, bus.KindTypingUpsert, ev); err != nil {
		c.log.Printf("publish typing event for channel %q: %s", sess.ref.ExternalId, err)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.stop:
	}
	c.closeAllChannels()
	c.stopClient()
}

func (c *Client) closeAllChannels() {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	for extId, sess := range c.sessions {
		sess.sub.Unsubscribe()
		c.clearTyping(sess)
		delete(c.sessions, extId)
	}
}

func (c *Client) addSession(extId string, sess *channelSession) {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	c.sessions[extId] = sess
}

func (c *Client) delSession(extId string) *channelSession {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	sess := c.sessions[extId]
	delete(c.sessions, extId)
	return sess
}

func (c *Client) getSession(extId string) *channelSession {
	c.sessionsLock.RLock()
	defer c.sessionsLock.RUnlock()

	return c.sessions[extId]
}
