package chat

import (
	"net/http"
	"time"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the tagged union of everything a websocket client can
// send; exactly one of the pointer fields is set.
type ClientMessage struct {
	BaseMessage
	Open      *Open          `json:"open,omitempty"`
	Close     *Close         `json:"close,omitempty"`
	Publish   *Publish       `json:"publish,omitempty"`
	Typing    *Typing        `json:"typing,omitempty"`
	Read      *Read          `json:"read,omitempty"`
	Delivered *Delivered     `json:"delivered,omitempty"`
	Identity  types.Identity `json:"-"`
	client    *Client        `json:"-"`
}

type Open struct {
	ChannelId string `json:"channel_id"`
}

type Close struct {
	ChannelId string `json:"channel_id"`
}

type Publish struct {
	ChannelId string `json:"channel_id"`
	Body      string `json:"body"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

type Typing struct {
	ChannelId string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// Read marks a batch of messages read in one call.
type Read struct {
	ChannelId  string   `json:"channel_id"`
	MessageIds []string `json:"message_ids"`
}

type Delivered struct {
	ChannelId  string   `json:"channel_id"`
	MessageIds []string `json:"message_ids"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response  `json:"response,omitempty"`
	Event    *bus.Event `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// TypingEvent is the payload of typing.upserted bus events.
type TypingEvent struct {
	ChannelId string           `json:"channel_id"`
	Member    types.TypingUser `json:"member"`
	IsTyping  bool             `json:"is_typing"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ReadStatusEvent is the payload of readStatus.upserted bus events. It
// carries the fresh aggregate so subscribers can update counters without a
// round trip.
type ReadStatusEvent struct {
	ChannelId string            `json:"channel_id"`
	Receipt   types.ReadReceipt `json:"receipt"`
	Aggregate types.Aggregate   `json:"aggregate"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrChannelNotFoundMsg(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "channel not found",
		},
	}
}

func ErrNotChannelMember(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a channel member",
		},
	}
}

func ErrEmptyMessageBody(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "empty message body",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
