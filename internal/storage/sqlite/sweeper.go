package sqlite

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/storage"
)

// Broadcaster is the interface for emitting events to gateway subscribers.
type Broadcaster interface {
	Broadcast(event any)
}

// Sweeper runs a background goroutine that periodically expires negotiation
// threads whose last activity is older than the inactivity threshold. Expiry
// is also checked inline when a message arrives; the sweeper catches threads
// the requester simply stopped answering.
type Sweeper struct {
	store      storage.Store
	bus        Broadcaster
	interval   time.Duration
	inactivity time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(store storage.Store, bus Broadcaster, interval, inactivity time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		bus:        bus,
		interval:   interval,
		inactivity: inactivity,
		done:       make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	olderThan := time.Now().UTC().Add(-sw.inactivity)

	expired, err := sw.store.ExpireStale(ctx, olderThan)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Printf("sweeper: expired %d inactive thread(s)", len(expired))
	for _, th := range expired {
		ev := core.Event{
			ID:        uuid.NewString(),
			Type:      core.EventThreadExpired,
			ThreadID:  th.ID,
			State:     core.StateExpired,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := sw.store.AppendEvent(ctx, ev); err != nil {
			log.Printf("sweeper: append event: %v", err)
		}
		if sw.bus != nil {
			sw.bus.Broadcast(ev)
		}
	}
}
