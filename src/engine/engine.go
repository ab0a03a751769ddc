package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/promptfm/radiocore/src/data"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/metrics"
	"github.com/promptfm/radiocore/src/moderation"
	"github.com/promptfm/radiocore/src/reputation"
	"github.com/promptfm/radiocore/src/types"
	"gorm.io/gorm"
)

// Submission failures surfaced to callers. All of them resolve before the
// request is ever queued.
var (
	ErrPromptLength = errors.New("engine: prompt length out of bounds")
	ErrQueueFull    = errors.New("engine: channel queue is full")
	ErrUserTimedOut = errors.New("engine: user is in a submission timeout")
)

const (
	minPromptLen = 3
	maxPromptLen = 2000
)

// basePriority fixed at submission time.
const defaultBasePriority = 100

// Engine is the operations surface: everything ingestion adapters and the
// HTTP API may do to a request goes through here.
type Engine struct {
	db         *gorm.DB
	store      *data.RequestStore
	machine    *lifecycle.Machine
	reputation *reputation.Service
	violations *moderation.ViolationTracker
	events     lifecycle.Publisher
}

func New(db *gorm.DB, store *data.RequestStore, machine *lifecycle.Machine, rep *reputation.Service, violations *moderation.ViolationTracker, events lifecycle.Publisher) *Engine {
	return &Engine{
		db:         db,
		store:      store,
		machine:    machine,
		reputation: rep,
		violations: violations,
		events:     events,
	}
}

// Submit admits a raw request into pending. Validation failures reject
// synchronously; nothing invalid is ever queued.
func (e *Engine) Submit(ctx context.Context, userID, channelID uint64, prompt, genreTags string) (*types.Request, error) {
	if len(prompt) < minPromptLen || len(prompt) > maxPromptLen {
		return nil, ErrPromptLength
	}

	timedOut, err := e.violations.InTimeout(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: timeout check for user %d: %w", userID, err)
	}
	if timedOut {
		return nil, ErrUserTimedOut
	}

	ch, err := e.store.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	queued, err := e.store.QueuedCount(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.MaxQueueSize > 0 && queued >= int64(ch.MaxQueueSize) {
		return nil, ErrQueueFull
	}

	now := time.Now().UTC()
	req := &types.Request{
		PublicID:         uuid.NewString(),
		UserID:           userID,
		ChannelID:        channelID,
		Prompt:           prompt,
		GenreTags:        genreTags,
		Status:           string(lifecycle.StatusPending),
		ModerationStatus: lifecycle.ModerationPending,
		BasePriority:     defaultBasePriority,
		RequestedAt:      now,
	}
	if err := e.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("engine: create request: %w", err)
	}
	if err := e.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ?", userID).
		Update("last_request_at", now).Error; err != nil {
		log.Printf("engine: update last_request_at for user %d: %v", userID, err)
	}

	metrics.RequestsSubmitted.Inc()
	if e.events != nil {
		if perr := e.events.Publish(ctx, "submitted", map[string]interface{}{
			"request_id": req.PublicID,
			"channel_id": channelID,
		}); perr != nil {
			log.Printf("engine: publish submitted for %s: %v", req.PublicID, perr)
		}
	}
	return req, nil
}

// Cancel ends a request on behalf of its user or a moderator. Illegal once
// generation has started; the caller gets lifecycle.ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, publicID, actor string) error {
	req, err := e.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return e.machine.Cancel(ctx, req, actor)
}

// ResolveReview settles a needs_review request. Approvals through here are
// recorded as audited bypasses when the moderator overrides the gate.
func (e *Engine) ResolveReview(ctx context.Context, publicID string, approve bool, actor string, audit moderation.Auditor) error {
	req, err := e.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if req.ModerationStatus != lifecycle.ModerationReview {
		return fmt.Errorf("engine: request %s is not awaiting review", publicID)
	}
	if approve {
		if err := e.machine.Admit(ctx, req, lifecycle.ModerationBypassed); err != nil {
			return err
		}
		audit.Record(ctx, req.ID, "override", "bypassed", nil, req.Prompt, actor)
		return nil
	}
	if err := e.machine.Reject(ctx, req, "moderation_blocked"); err != nil {
		return err
	}
	audit.Record(ctx, req.ID, "override", "rejected", nil, req.Prompt, actor)
	if err := e.violations.RecordRejection(ctx, req.UserID); err != nil {
		log.Printf("engine: record violation for user %d: %v", req.UserID, err)
	}
	return nil
}

// Finished handles the broadcast collaborator's playback-finished signal.
func (e *Engine) Finished(ctx context.Context, publicID string) error {
	req, err := e.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return e.machine.FinishBroadcast(ctx, req)
}
