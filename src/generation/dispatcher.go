package generation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/metrics"
	"github.com/promptfm/radiocore/src/selector"
	"github.com/promptfm/radiocore/src/types"
)

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	Channels(ctx context.Context) ([]types.Channel, error)
	InFlightCount(ctx context.Context, channelID uint64) (int64, error)
	StaleGenerating(ctx context.Context, olderThan time.Time) ([]types.Request, error)
}

// readAhead caps how many requests a channel may have in flight with the
// provider before its selector is skipped for the tick.
const readAhead = 2

// pollInterval is how often an in-flight job is polled. Var so tests can
// shorten it.
var pollInterval = 5 * time.Second

// Dispatcher runs the per-tick selection loop and drives claimed requests
// through the provider. Success and dwell timeout are two branches of one
// race: the poll loop lives under a context that expires at the dwell
// deadline, so a timed-out render resolves to the retry edge instead of
// hanging in limbo.
type Dispatcher struct {
	store    Store
	machine  *lifecycle.Machine
	selector *selector.Selector
	provider Provider

	interval     time.Duration
	dwellTimeout time.Duration
	slots        chan struct{} // provider concurrency bound

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(store Store, machine *lifecycle.Machine, sel *selector.Selector, provider Provider, interval, dwellTimeout time.Duration, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Dispatcher{
		store:        store,
		machine:      machine,
		selector:     sel,
		provider:     provider,
		interval:     interval,
		dwellTimeout: dwellTimeout,
		slots:        make(chan struct{}, concurrency),
	}
}

func (d *Dispatcher) Name() string { return "dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	d.sweepStale(ctx)

	channels, err := d.store.Channels(ctx)
	if err != nil {
		log.Printf("dispatcher: load channels: %v", err)
		return
	}
	for _, ch := range channels {
		inFlight, err := d.store.InFlightCount(ctx, ch.ID)
		if err != nil {
			log.Printf("dispatcher: in-flight count for channel %d: %v", ch.ID, err)
			continue
		}
		if inFlight >= readAhead {
			continue
		}
		req, err := d.selector.Select(ctx, ch.ID)
		if err != nil {
			log.Printf("dispatcher: select for channel %d: %v", ch.ID, err)
			continue
		}
		if req == nil {
			continue
		}
		d.wg.Add(1)
		go func(req *types.Request) {
			defer d.wg.Done()
			d.generate(ctx, req)
		}(req)
	}
}

// generate submits the render and polls until the job resolves or the
// dwell deadline passes.
func (d *Dispatcher) generate(ctx context.Context, req *types.Request) {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-d.slots }()

	dwellCtx, cancel := context.WithTimeout(ctx, d.dwellTimeout)
	defer cancel()

	jobID, err := d.provider.Generate(dwellCtx, req.Prompt, Params{GenreTags: req.GenreTags})
	if err != nil {
		d.retry(ctx, req, reasonFor(dwellCtx, "provider_error"))
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-dwellCtx.Done():
			d.retry(ctx, req, "provider_timeout")
			return
		case <-ticker.C:
			job, err := d.provider.Poll(dwellCtx, jobID)
			if err != nil {
				if dwellCtx.Err() != nil {
					d.retry(ctx, req, "provider_timeout")
					return
				}
				// Transient poll errors ride out the dwell window.
				log.Printf("dispatcher: poll job %s for %s: %v", jobID, req.PublicID, err)
				continue
			}
			if !job.Done {
				continue
			}
			if job.ErrorMessage != "" || job.AudioReference == "" {
				d.retry(ctx, req, "provider_error")
				return
			}
			if err := d.machine.MarkGenerated(ctx, req, jobID, job.AudioReference); err != nil {
				log.Printf("dispatcher: mark generated %s: %v", req.PublicID, err)
			}
			return
		}
	}
}

func (d *Dispatcher) retry(ctx context.Context, req *types.Request, reason string) {
	wasLastChance := req.RetryCount >= d.machine.RetryLimit()
	if err := d.machine.RetryOrFail(ctx, req, reason); err != nil {
		log.Printf("dispatcher: retry/fail %s: %v", req.PublicID, err)
		return
	}
	if wasLastChance {
		metrics.GenerationFailures.Inc()
	} else {
		metrics.GenerationRetries.Inc()
	}
}

// sweepStale rescues generating rows orphaned by a crashed worker: past the
// dwell timeout they take the same failed/retry edge a live timeout would.
func (d *Dispatcher) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.dwellTimeout - pollInterval)
	stale, err := d.store.StaleGenerating(ctx, cutoff)
	if err != nil {
		log.Printf("dispatcher: stale sweep: %v", err)
		return
	}
	for i := range stale {
		req := stale[i]
		d.retry(ctx, &req, "provider_timeout")
	}
}

func reasonFor(ctx context.Context, fallback string) string {
	if ctx.Err() != nil {
		return "provider_timeout"
	}
	return fallback
}
