package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/promptfm/radiocore/src/types"
)

// Store is the persistence surface the machine drives. UpdateStatus must be
// a conditional write: it applies fields and the new status only when the
// row still holds the expected current status, and reports whether it did.
// That single primitive is what makes claims and retries race-free.
type Store interface {
	Get(ctx context.Context, id uint64) (*types.Request, error)
	UpdateStatus(ctx context.Context, id uint64, from, to Status, fields map[string]interface{}) (bool, error)
	SetModerationStatus(ctx context.Context, id uint64, moderationStatus string) error
	AcquireSlot(ctx context.Context, channelID, requestID uint64) (bool, error)
	ReleaseSlot(ctx context.Context, channelID, requestID uint64) error
}

// Feedback receives terminal and broadcast outcomes so reputation can close
// the loop into future scoring. Implemented by the reputation service.
type Feedback interface {
	Apply(ctx context.Context, userID uint64, event string) error
}

// Publisher emits status change events for real-time consumers.
type Publisher interface {
	Publish(ctx context.Context, event string, fields map[string]interface{}) error
}

// Machine owns every status mutation in the system. Nothing else writes
// request.status.
type Machine struct {
	store    Store
	feedback Feedback
	events   Publisher

	retryLimit   int
	retryBackoff time.Duration
}

func NewMachine(store Store, feedback Feedback, events Publisher, retryLimit int, retryBackoff time.Duration) *Machine {
	return &Machine{
		store:        store,
		feedback:     feedback,
		events:       events,
		retryLimit:   retryLimit,
		retryBackoff: retryBackoff,
	}
}

// transition performs a checked conditional move and publishes the change.
func (m *Machine) transition(ctx context.Context, req *types.Request, to Status, fields map[string]interface{}) error {
	from := Status(req.Status)
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (request %d)", ErrInvalidTransition, from, to, req.ID)
	}
	ok, err := m.store.UpdateStatus(ctx, req.ID, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %d left %s concurrently", ErrClaimConflict, req.ID, from)
	}
	req.Status = string(to)
	m.publish(ctx, req, string(from), string(to))
	return nil
}

func (m *Machine) publish(ctx context.Context, req *types.Request, from, to string) {
	if m.events == nil {
		return
	}
	err := m.events.Publish(ctx, "status", map[string]interface{}{
		"request_id": req.PublicID,
		"channel_id": req.ChannelID,
		"from":       from,
		"to":         to,
	})
	if err != nil {
		log.Printf("lifecycle: publish status %s->%s for %s: %v", from, to, req.PublicID, err)
	}
}

// BeginModeration moves a freshly submitted request into evaluation.
func (m *Machine) BeginModeration(ctx context.Context, req *types.Request) error {
	return m.transition(ctx, req, StatusModeration, nil)
}

// Admit records the gate's approval (or an audited bypass) and queues the
// request for selection.
func (m *Machine) Admit(ctx context.Context, req *types.Request, moderationStatus string) error {
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusQueued, map[string]interface{}{
		"moderation_status": moderationStatus,
		"moderated_at":      now,
	})
	if err != nil {
		return err
	}
	req.ModerationStatus = moderationStatus
	req.ModeratedAt = &now
	return nil
}

// Reject is the terminal moderation outcome. The reason code is stored;
// the raw detector output never is.
func (m *Machine) Reject(ctx context.Context, req *types.Request, reason string) error {
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusRejected, map[string]interface{}{
		"moderation_status": ModerationRejected,
		"moderated_at":      now,
		"error_reason":      reason,
	})
	if err != nil {
		return err
	}
	req.ModerationStatus = ModerationRejected
	req.ErrorReason = reason
	if m.feedback != nil {
		if ferr := m.feedback.Apply(ctx, req.UserID, "rejected"); ferr != nil {
			log.Printf("lifecycle: reputation feedback for rejected %s: %v", req.PublicID, ferr)
		}
	}
	return nil
}

// HoldForReview parks a request for a human moderator. The lifecycle state
// stays moderation; only the moderation outcome changes.
func (m *Machine) HoldForReview(ctx context.Context, req *types.Request) error {
	if Status(req.Status) != StatusModeration {
		return fmt.Errorf("%w: cannot hold %s request for review", ErrInvalidTransition, req.Status)
	}
	if err := m.store.SetModerationStatus(ctx, req.ID, ModerationReview); err != nil {
		return err
	}
	req.ModerationStatus = ModerationReview
	m.publish(ctx, req, string(StatusModeration), string(StatusModeration))
	return nil
}

// Claim atomically takes a request out of the queued pool for generation.
// Two concurrent selector ticks cannot both win: the conditional write
// succeeds for exactly one of them.
func (m *Machine) Claim(ctx context.Context, req *types.Request) error {
	if req.ModerationStatus != ModerationApproved && req.ModerationStatus != ModerationBypassed {
		return fmt.Errorf("%w: request %d is %s", ErrNotModerated, req.ID, req.ModerationStatus)
	}
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusGenerating, map[string]interface{}{
		"claimed_at": now,
	})
	if err != nil {
		return err
	}
	req.ClaimedAt = &now
	return nil
}

// MarkGenerated records a successful render from the provider.
func (m *Machine) MarkGenerated(ctx context.Context, req *types.Request, jobID, audioRef string) error {
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusGenerated, map[string]interface{}{
		"provider_job_id": jobID,
		"audio_reference": audioRef,
		"generated_at":    now,
	})
	if err != nil {
		return err
	}
	req.ProviderJobID = jobID
	req.AudioReference = audioRef
	req.GeneratedAt = &now
	return nil
}

// RetryOrFail resolves a provider error or dwell timeout. Under the retry
// budget the request loops back to queued with a backoff-shifted
// requested_at so it does not immediately dominate the pool again; past the
// budget it lands in terminal failed.
func (m *Machine) RetryOrFail(ctx context.Context, req *types.Request, reason string) error {
	if req.RetryCount < m.retryLimit {
		backoff := m.retryBackoff * time.Duration(req.RetryCount+1)
		requeuedAt := time.Now().UTC().Add(backoff)
		err := m.transition(ctx, req, StatusQueued, map[string]interface{}{
			"retry_count":     req.RetryCount + 1,
			"requested_at":    requeuedAt,
			"error_reason":    reason,
			"provider_job_id": "",
		})
		if err != nil {
			return err
		}
		req.RetryCount++
		req.RequestedAt = requeuedAt
		req.ErrorReason = reason
		return nil
	}
	err := m.transition(ctx, req, StatusFailed, map[string]interface{}{
		"error_reason": reason,
	})
	if err != nil {
		return err
	}
	req.ErrorReason = reason
	return nil
}

// StartBroadcast moves a rendered request onto the air. The channel slot is
// taken first with a conditional write; losing that race leaves the request
// generated for the next cycle.
func (m *Machine) StartBroadcast(ctx context.Context, req *types.Request) error {
	ok, err := m.store.AcquireSlot(ctx, req.ChannelID, req.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: channel %d", ErrSlotConflict, req.ChannelID)
	}
	now := time.Now().UTC()
	err = m.transition(ctx, req, StatusBroadcasting, map[string]interface{}{
		"broadcast_start_at": now,
	})
	if err != nil {
		// Slot was taken for a request that did not make it on air.
		if rerr := m.store.ReleaseSlot(ctx, req.ChannelID, req.ID); rerr != nil {
			log.Printf("lifecycle: release slot after failed broadcast start %s: %v", req.PublicID, rerr)
		}
		return err
	}
	req.BroadcastStartAt = &now
	return nil
}

// FinishBroadcast handles the external playback-finished signal. Completion
// is never derived from elapsed time; the broadcast collaborator is the only
// authority on when a song ends.
func (m *Machine) FinishBroadcast(ctx context.Context, req *types.Request) error {
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusCompleted, map[string]interface{}{
		"completed_at": now,
	})
	if err != nil {
		return err
	}
	req.CompletedAt = &now
	if rerr := m.store.ReleaseSlot(ctx, req.ChannelID, req.ID); rerr != nil {
		log.Printf("lifecycle: release slot for completed %s: %v", req.PublicID, rerr)
	}
	if m.feedback != nil {
		if ferr := m.feedback.Apply(ctx, req.UserID, "completed"); ferr != nil {
			log.Printf("lifecycle: reputation feedback for completed %s: %v", req.PublicID, ferr)
		}
	}
	return nil
}

// AbortBroadcast ends a broadcast whose playback could not proceed. The
// slot is freed and the failure is recorded on the request, but no
// completion feedback is credited.
func (m *Machine) AbortBroadcast(ctx context.Context, req *types.Request, reason string) error {
	now := time.Now().UTC()
	err := m.transition(ctx, req, StatusCompleted, map[string]interface{}{
		"completed_at": now,
		"error_reason": reason,
	})
	if err != nil {
		return err
	}
	req.CompletedAt = &now
	req.ErrorReason = reason
	if rerr := m.store.ReleaseSlot(ctx, req.ChannelID, req.ID); rerr != nil {
		log.Printf("lifecycle: release slot for aborted %s: %v", req.PublicID, rerr)
	}
	return nil
}

// Cancel ends a request on user or moderator initiative. Once generation
// has started the work is already with the provider and cancellation is
// structurally disallowed.
func (m *Machine) Cancel(ctx context.Context, req *types.Request, actor string) error {
	if !Status(req.Status).Cancellable() {
		return fmt.Errorf("%w: request %d is %s", ErrNotCancellable, req.ID, req.Status)
	}
	err := m.transition(ctx, req, StatusCancelled, map[string]interface{}{
		"error_reason": "cancelled_by_" + actor,
	})
	if err != nil {
		return err
	}
	req.ErrorReason = "cancelled_by_" + actor
	return nil
}

// RetryLimit exposes the configured retry budget for dwell sweeps.
func (m *Machine) RetryLimit() int { return m.retryLimit }
