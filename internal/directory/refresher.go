package directory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/planforge/teamchat/internal/types"
)

// Refresher polls the directory on an interval and hands each fresh summary
// list to the callback. Unread badges have no push channel; this poll is the
// only thing that updates them.
type Refresher struct {
	log      *log.Logger
	dir      *Directory
	identity types.Identity
	interval time.Duration
	onUpdate func([]types.ChannelSummary)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewRefresher(logger *log.Logger, dir *Directory, identity types.Identity, interval time.Duration, onUpdate func([]types.ChannelSummary)) *Refresher {
	return &Refresher{
		log:      logger,
		dir:      dir,
		identity: identity,
		interval: interval,
		onUpdate: onUpdate,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until Stop is called. A failed poll is logged and retried on
// the next tick; the previous summaries stay on screen meanwhile.
func (r *Refresher) Run() {
	defer close(r.done)

	r.refresh()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh()
		case <-r.stop:
			return
		}
	}
}

func (r *Refresher) refresh() {
	summaries, err := r.dir.ListChannelsForUser(context.Background(), r.identity)
	if err != nil {
		r.log.Printf("refresh channel list for user %d: %v", r.identity.UserId, err)
		return
	}
	r.onUpdate(summaries)
}

func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
