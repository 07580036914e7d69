package chat

import (
	"context"
	"testing"
	"time"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/stats"
	"github.com/planforge/teamchat/internal/testutil"
	"github.com/planforge/teamchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestChatServer(t *testing.T, db database.TeamChatRepository, su stats.StatsProvider) *ChatServer {
	t.Helper()

	b := bus.NewMemoryBus(testutil.TestLogger(t))
	t.Cleanup(func() { b.Close() })

	cs, err := NewChatServer(testutil.TestLogger(t), db, b, su)
	assert.NoError(t, err, "expected chat server to initialize")
	return cs
}

func TestNewChatServer_RegistersMetrics(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.AnythingOfType("string")).Times(4)

	newTestChatServer(t, &database.MockTeamChatRepository{}, su)

	su.AssertExpectations(t)
	su.AssertCalled(t, "RegisterMetric", stats.ActiveConnections)
	su.AssertCalled(t, "RegisterMetric", stats.MessagesSent)
	su.AssertCalled(t, "RegisterMetric", stats.TypingEvents)
	su.AssertCalled(t, "RegisterMetric", stats.ReadReceipts)
}

func TestChatServer_RegisterDeregister(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.AnythingOfType("string")).Times(4)
	su.On("Incr", stats.ActiveConnections).Once()
	su.On("Decr", stats.ActiveConnections).Once()

	cs := newTestChatServer(t, &database.MockTeamChatRepository{}, su)
	go cs.Run()
	t.Cleanup(func() { cs.Shutdown(context.Background()) })

	c := NewClient(types.Identity{UserId: 1}, nil, cs, testutil.TestLogger(t))

	cs.RegisterChan <- c
	assert.Eventually(t, func() bool {
		cs.clientsLock.Lock()
		defer cs.clientsLock.Unlock()
		_, ok := cs.clients[c]
		return ok
	}, time.Second, 10*time.Millisecond, "expected client to be registered")

	cs.deRegisterChan <- c
	assert.Eventually(t, func() bool {
		cs.clientsLock.Lock()
		defer cs.clientsLock.Unlock()
		return len(cs.clients) == 0
	}, time.Second, 10*time.Millisecond, "expected client to be deregistered")

	su.AssertExpectations(t)
}

func TestChatServer_Shutdown(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.AnythingOfType("string")).Times(4)
	su.On("Incr", stats.ActiveConnections).Once()

	cs := newTestChatServer(t, &database.MockTeamChatRepository{}, su)
	go cs.Run()

	c := NewClient(types.Identity{UserId: 1}, nil, cs, testutil.TestLogger(t))
	cs.RegisterChan <- c

	err := cs.Shutdown(context.Background())
	assert.NoError(t, err, "expected clean shutdown")

	select {
	case <-c.stop:
		// client was stopped
	default:
		t.Error("expected client stop channel to be closed on shutdown")
	}

	select {
	case <-cs.done:
	default:
		t.Error("expected run loop to have exited")
	}
}

func TestChatServer_ShutdownTimeout(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.AnythingOfType("string")).Times(4)

	cs := newTestChatServer(t, &database.MockTeamChatRepository{}, su)
	// Run never started: done is never closed

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := cs.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "expected shutdown to give up with the context")
}
