package moderation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
)

// Store is the slice of persistence the worker needs.
type Store interface {
	PendingBatch(ctx context.Context, limit int) ([]types.Request, error)
	Channel(ctx context.Context, id uint64) (*types.Channel, error)
}

// Worker pulls pending requests and drives them through the gate. Requests
// are evaluated in parallel; only the resulting transitions serialize on
// the database.
type Worker struct {
	store      Store
	machine    *lifecycle.Machine
	gate       *Gate
	violations *ViolationTracker
	interval   time.Duration
	slots      chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(store Store, machine *lifecycle.Machine, gate *Gate, violations *ViolationTracker, interval time.Duration, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Worker{
		store:      store,
		machine:    machine,
		gate:       gate,
		violations: violations,
		interval:   interval,
		slots:      make(chan struct{}, concurrency),
	}
}

func (w *Worker) Name() string { return "moderation" }

func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *Worker) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
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

func (w *Worker) tick(ctx context.Context) {
	batch, err := w.store.PendingBatch(ctx, 50)
	if err != nil {
		log.Printf("moderation: fetch pending batch: %v", err)
		return
	}
	for i := range batch {
		req := batch[i]
		if err := w.machine.BeginModeration(ctx, &req); err != nil {
			log.Printf("moderation: begin for %s: %v", req.PublicID, err)
			continue
		}
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.evaluate(ctx, &req)
		}()
	}
}

func (w *Worker) evaluate(ctx context.Context, req *types.Request) {
	ch, err := w.store.Channel(ctx, req.ChannelID)
	if err != nil {
		log.Printf("moderation: channel %d for %s: %v", req.ChannelID, req.PublicID, err)
		if rerr := w.machine.Reject(ctx, req, "moderation_unavailable"); rerr != nil {
			log.Printf("moderation: reject %s: %v", req.PublicID, rerr)
		}
		return
	}

	verdict := w.gate.Evaluate(ctx, req, ch)
	switch verdict.Decision {
	case DecisionApproved:
		if err := w.machine.Admit(ctx, req, lifecycle.ModerationApproved); err != nil {
			log.Printf("moderation: admit %s: %v", req.PublicID, err)
		}
	case DecisionNeedsReview:
		if err := w.machine.HoldForReview(ctx, req); err != nil {
			log.Printf("moderation: hold %s for review: %v", req.PublicID, err)
		}
	case DecisionRejected:
		if err := w.machine.Reject(ctx, req, "moderation_blocked"); err != nil {
			log.Printf("moderation: reject %s: %v", req.PublicID, err)
			return
		}
		if err := w.violations.RecordRejection(ctx, req.UserID); err != nil {
			log.Printf("moderation: record violation for user %d: %v", req.UserID, err)
		}
	}
}
