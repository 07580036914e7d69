package chat

import (
	"sync"
	"time"

	"github.com/planforge/teamchat/internal/types"
)

// TypingTTL is how long a typing signal stays live without a refresh.
const TypingTTL = 3 * time.Second

type typingSignal struct {
	name      string
	updatedAt time.Time
}

// TypingCoordinator tracks ephemeral per-(channel, member) typing signals.
// Expiry is a pure function of the stored updated-at versus now, evaluated
// lazily at read time: there are no per-signal timers to orphan when a
// client disconnects mid-keystroke.
type TypingCoordinator struct {
	mu      sync.Mutex
	signals map[int]map[int]typingSignal
	now     func() time.Time
}

func NewTypingCoordinator() *TypingCoordinator {
	return &TypingCoordinator{
		signals: make(map[int]map[int]typingSignal),
		now:     time.Now,
	}
}

// SetTyping starts or refreshes the member's signal for the channel.
func (tc *TypingCoordinator) SetTyping(channelId, memberId int, name string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.signals[channelId] == nil {
		tc.signals[channelId] = make(map[int]typingSignal)
	}
	tc.signals[channelId][memberId] = typingSignal{name: name, updatedAt: tc.now()}

	tc.pruneLocked(channelId)
}

// ClearTyping removes the member's signal. Clearing an absent signal is a
// no-op.
func (tc *TypingCoordinator) ClearTyping(channelId, memberId int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if members, ok := tc.signals[channelId]; ok {
		delete(members, memberId)
		if len(members) == 0 {
			delete(tc.signals, channelId)
		}
	}
}

// ActiveTypers returns the unexpired signals for the channel, never
// including the excluded (calling) member.
func (tc *TypingCoordinator) ActiveTypers(channelId, excludeMemberId int) []types.TypingUser {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	cutoff := tc.now().Add(-TypingTTL)

	var typers []types.TypingUser
	for memberId, sig := range tc.signals[channelId] {
		if memberId == excludeMemberId {
			continue
		}
		if sig.updatedAt.Before(cutoff) {
			continue
		}
		typers = append(typers, types.TypingUser{MemberId: memberId, DisplayName: sig.name})
	}

	return typers
}

// pruneLocked drops expired signals for a channel. Called opportunistically
// on writes; correctness does not depend on it since reads filter by TTL.
func (tc *TypingCoordinator) pruneLocked(channelId int) {
	cutoff := tc.now().Add(-TypingTTL)
	for memberId, sig := range tc.signals[channelId] {
		if sig.updatedAt.Before(cutoff) {
			delete(tc.signals[channelId], memberId)
		}
	}
}
