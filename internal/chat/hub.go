package chat

import (
	"context"
	"log"
	"sync"

	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/stats"
)

// ChatServer owns the server-side messaging core: it wires the message
// store, read tracker and typing coordinator to the event bus and tracks
// connected websocket clients.
type ChatServer struct {
	log   *log.Logger
	db    database.TeamChatRepository
	bus   bus.Bus
	stats stats.StatsProvider

	Store   *MessageStore
	Tracker *ReadTracker
	Typing  *TypingCoordinator

	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.TeamChatRepository, b bus.Bus, su stats.StatsProvider) (*ChatServer, error) {
	typing := NewTypingCoordinator()

	cs := &ChatServer{
		log:            logger,
		db:             db,
		bus:            b,
		stats:          su,
		Store:          NewMessageStore(logger, db, b, typing),
		Tracker:        NewReadTracker(logger, db, b),
		Typing:         typing,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, name := range []string{
		stats.ActiveConnections,
		stats.MessagesSent,
		stats.TypingEvents,
		stats.ReadReceipts,
	} {
		su.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection for user %d", client.identity.UserId)
			cs.addClient(client)
			cs.stats.Incr(stats.ActiveConnections)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection for user %d", client.identity.UserId)
			cs.removeClient(client)
			cs.stats.Decr(stats.ActiveConnections)
		case <-cs.stop:
			cs.log.Println("closing client connections")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.closeAllChannels()
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
