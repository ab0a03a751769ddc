package broadcast

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/metrics"
	"github.com/promptfm/radiocore/src/types"
)

// Store is the slice of persistence the watcher needs.
type Store interface {
	Channels(ctx context.Context) ([]types.Channel, error)
	NextGenerated(ctx context.Context, channelID uint64) (*types.Request, error)
}

// Watcher moves rendered requests onto the air whenever a channel's slot is
// free. The slot acquisition inside StartBroadcast is conditional, so two
// watchers racing for one channel cannot double-occupy it; the loser's
// request simply stays generated for the next cycle.
type Watcher struct {
	store      Store
	machine    *lifecycle.Machine
	controller Controller
	interval   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatcher(store Store, machine *lifecycle.Machine, controller Controller, interval time.Duration) *Watcher {
	return &Watcher{
		store:      store,
		machine:    machine,
		controller: controller,
		interval:   interval,
	}
}

func (w *Watcher) Name() string { return "broadcast" }

func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *Watcher) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	channels, err := w.store.Channels(ctx)
	if err != nil {
		log.Printf("broadcast: load channels: %v", err)
		return
	}
	for _, ch := range channels {
		if ch.BroadcastingRequestID != nil {
			continue
		}
		req, err := w.store.NextGenerated(ctx, ch.ID)
		if err != nil {
			if !errors.Is(err, lifecycle.ErrNotFound) {
				log.Printf("broadcast: next generated for channel %d: %v", ch.ID, err)
			}
			continue
		}
		if err := w.machine.StartBroadcast(ctx, req); err != nil {
			if errors.Is(err, lifecycle.ErrSlotConflict) {
				metrics.SlotConflicts.Inc()
				continue
			}
			log.Printf("broadcast: start for %s: %v", req.PublicID, err)
			continue
		}
		metrics.Broadcasts.Inc()

		meta := Metadata{
			RequestID: req.PublicID,
			Channel:   ch.Name,
			Prompt:    req.Prompt,
			GenreTags: req.GenreTags,
		}
		if err := w.controller.Play(ctx, req.AudioReference, meta); err != nil {
			log.Printf("broadcast: play %s on channel %s: %v", req.PublicID, ch.Name, err)
			if aerr := w.machine.AbortBroadcast(ctx, req, "broadcast_error"); aerr != nil {
				log.Printf("broadcast: abort %s: %v", req.PublicID, aerr)
			}
		}
	}
}
