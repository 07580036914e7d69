package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAMember is returned when a write is attempted by a user who is
	// not on the channel roster. Writes are rejected, never silently dropped.
	ErrNotAMember = errors.New("not a channel member")
	// ErrEmptyBody is returned for empty or whitespace-only message bodies,
	// before any write happens.
	ErrEmptyBody = errors.New("empty message body")
	// ErrMessageNotFound is returned when a message id does not resolve, or
	// the actor is not allowed to touch it.
	ErrMessageNotFound = errors.New("message not found")
	// ErrChannelNotFound is returned when a channel id does not resolve.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrTransient wraps store/network failures that are worth retrying.
	// The session controller decides the user-visible recovery.
	ErrTransient = errors.New("transient i/o failure")
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}
