package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/promptfm/radiocore/src/types"
)

// fakeStore records conditional writes in memory. It enforces the same
// compare-and-set contract the MySQL store does: a status write only lands
// when the row still holds the expected current status.
type fakeStore struct {
	requests map[uint64]*types.Request
	slots    map[uint64]*uint64 // channelID -> occupying request

	updates []string // "from->to" history, for assertions
	failCAS bool     // force the next UpdateStatus to report a lost race
}

func newFakeStore(reqs ...*types.Request) *fakeStore {
	fs := &fakeStore{
		requests: make(map[uint64]*types.Request),
		slots:    make(map[uint64]*uint64),
	}
	for _, r := range reqs {
		fs.requests[r.ID] = r
	}
	return fs
}

func (fs *fakeStore) Get(ctx context.Context, id uint64) (*types.Request, error) {
	req, ok := fs.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

func (fs *fakeStore) UpdateStatus(ctx context.Context, id uint64, from, to Status, fields map[string]interface{}) (bool, error) {
	if fs.failCAS {
		fs.failCAS = false
		return false, nil
	}
	req, ok := fs.requests[id]
	if !ok || Status(req.Status) != from {
		return false, nil
	}
	req.Status = string(to)
	fs.updates = append(fs.updates, string(from)+"->"+string(to))
	if rc, ok := fields["retry_count"]; ok {
		req.RetryCount = rc.(int)
	}
	if at, ok := fields["requested_at"]; ok {
		req.RequestedAt = at.(time.Time)
	}
	return true, nil
}

func (fs *fakeStore) SetModerationStatus(ctx context.Context, id uint64, moderationStatus string) error {
	req, ok := fs.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.ModerationStatus = moderationStatus
	return nil
}

func (fs *fakeStore) AcquireSlot(ctx context.Context, channelID, requestID uint64) (bool, error) {
	if fs.slots[channelID] != nil {
		return false, nil
	}
	id := requestID
	fs.slots[channelID] = &id
	return true, nil
}

func (fs *fakeStore) ReleaseSlot(ctx context.Context, channelID, requestID uint64) error {
	if occ := fs.slots[channelID]; occ != nil && *occ == requestID {
		fs.slots[channelID] = nil
	}
	return nil
}

type fakeFeedback struct {
	events []string
}

func (ff *fakeFeedback) Apply(ctx context.Context, userID uint64, event string) error {
	ff.events = append(ff.events, event)
	return nil
}

func queuedRequest(id uint64) *types.Request {
	return &types.Request{
		ID:               id,
		PublicID:         "pub",
		UserID:           7,
		ChannelID:        1,
		Status:           string(StatusQueued),
		ModerationStatus: ModerationApproved,
		RequestedAt:      time.Now().UTC().Add(-time.Minute),
	}
}

func TestClaimRequiresModeration(t *testing.T) {
	req := queuedRequest(1)
	req.ModerationStatus = ModerationPending
	m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)

	err := m.Claim(context.Background(), req)
	if !errors.Is(err, ErrNotModerated) {
		t.Fatalf("expected ErrNotModerated, got %v", err)
	}
	if req.Status != string(StatusQueued) {
		t.Errorf("status must stay queued, got %s", req.Status)
	}
}

func TestClaimBypassedIsEligible(t *testing.T) {
	req := queuedRequest(1)
	req.ModerationStatus = ModerationBypassed
	m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)

	if err := m.Claim(context.Background(), req); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if req.Status != string(StatusGenerating) {
		t.Errorf("expected generating, got %s", req.Status)
	}
	if req.ClaimedAt == nil {
		t.Error("claimed_at not set")
	}
}

// TestClaimLostRace simulates a second selector tick winning the conditional
// write first. The loser must see ErrClaimConflict and nothing else.
func TestClaimLostRace(t *testing.T) {
	req := queuedRequest(1)
	fs := newFakeStore(req)
	fs.failCAS = true
	m := NewMachine(fs, nil, nil, 3, time.Second)

	err := m.Claim(context.Background(), req)
	if !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}
}

func TestRetryOrFailUnderBudget(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusGenerating)
	req.RetryCount = 1
	before := time.Now().UTC()
	m := NewMachine(newFakeStore(req), nil, nil, 3, 30*time.Second)

	if err := m.RetryOrFail(context.Background(), req, "provider_timeout"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if req.Status != string(StatusQueued) {
		t.Fatalf("expected queued, got %s", req.Status)
	}
	if req.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", req.RetryCount)
	}
	// Second retry backs off twice the base interval.
	wantEarliest := before.Add(2 * 30 * time.Second)
	if req.RequestedAt.Before(wantEarliest.Add(-time.Second)) {
		t.Errorf("requested_at %v not pushed past backoff %v", req.RequestedAt, wantEarliest)
	}
	if req.ErrorReason != "provider_timeout" {
		t.Errorf("error_reason = %q", req.ErrorReason)
	}
}

func TestRetryOrFailExhaustedBudget(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusGenerating)
	req.RetryCount = 3
	m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)

	if err := m.RetryOrFail(context.Background(), req, "provider_error"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if req.Status != string(StatusFailed) {
		t.Fatalf("expected failed, got %s", req.Status)
	}
	if req.RetryCount != 3 {
		t.Errorf("retry_count changed on terminal fail: %d", req.RetryCount)
	}
}

func TestStartBroadcastSlotConflict(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusGenerated)
	fs := newFakeStore(req)
	occupying := uint64(99)
	fs.slots[req.ChannelID] = &occupying
	m := NewMachine(fs, nil, nil, 3, time.Second)

	err := m.StartBroadcast(context.Background(), req)
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if req.Status != string(StatusGenerated) {
		t.Errorf("request must stay generated, got %s", req.Status)
	}
	if *fs.slots[req.ChannelID] != occupying {
		t.Error("occupying request must keep the slot")
	}
}

// TestStartBroadcastReleasesSlotOnLostWrite covers the narrow window where
// the slot is won but the status write loses a race: the slot must be given
// back so the channel does not deadlock.
func TestStartBroadcastReleasesSlotOnLostWrite(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusGenerated)
	fs := newFakeStore(req)
	fs.failCAS = true
	m := NewMachine(fs, nil, nil, 3, time.Second)

	if err := m.StartBroadcast(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if fs.slots[req.ChannelID] != nil {
		t.Error("slot must be released after a lost status write")
	}
}

func TestFinishBroadcast(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusBroadcasting)
	fs := newFakeStore(req)
	id := req.ID
	fs.slots[req.ChannelID] = &id
	ff := &fakeFeedback{}
	m := NewMachine(fs, ff, nil, 3, time.Second)

	if err := m.FinishBroadcast(context.Background(), req); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if req.Status != string(StatusCompleted) {
		t.Fatalf("expected completed, got %s", req.Status)
	}
	if fs.slots[req.ChannelID] != nil {
		t.Error("slot must be freed")
	}
	if len(ff.events) != 1 || ff.events[0] != "completed" {
		t.Errorf("feedback events = %v, want [completed]", ff.events)
	}
}

func TestAbortBroadcastSkipsFeedback(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusBroadcasting)
	fs := newFakeStore(req)
	id := req.ID
	fs.slots[req.ChannelID] = &id
	ff := &fakeFeedback{}
	m := NewMachine(fs, ff, nil, 3, time.Second)

	if err := m.AbortBroadcast(context.Background(), req, "broadcast_error"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if req.Status != string(StatusCompleted) {
		t.Fatalf("expected completed, got %s", req.Status)
	}
	if fs.slots[req.ChannelID] != nil {
		t.Error("slot must be freed")
	}
	if len(ff.events) != 0 {
		t.Errorf("aborted broadcast must not credit completion, got %v", ff.events)
	}
	if req.ErrorReason != "broadcast_error" {
		t.Errorf("error_reason = %q", req.ErrorReason)
	}
}

func TestRejectAppliesFeedback(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusModeration)
	ff := &fakeFeedback{}
	m := NewMachine(newFakeStore(req), ff, nil, 3, time.Second)

	if err := m.Reject(context.Background(), req, "moderation_blocked"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if req.Status != string(StatusRejected) {
		t.Fatalf("expected rejected, got %s", req.Status)
	}
	if req.ModerationStatus != ModerationRejected {
		t.Errorf("moderation_status = %q", req.ModerationStatus)
	}
	if len(ff.events) != 1 || ff.events[0] != "rejected" {
		t.Errorf("feedback events = %v, want [rejected]", ff.events)
	}
}

func TestHoldForReviewKeepsStatus(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusModeration)
	m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)

	if err := m.HoldForReview(context.Background(), req); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if req.Status != string(StatusModeration) {
		t.Errorf("lifecycle status must stay moderation, got %s", req.Status)
	}
	if req.ModerationStatus != ModerationReview {
		t.Errorf("moderation_status = %q, want %s", req.ModerationStatus, ModerationReview)
	}

	req.Status = string(StatusQueued)
	if err := m.HoldForReview(context.Background(), req); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for queued request, got %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	cases := []struct {
		status  Status
		allowed bool
	}{
		{StatusPending, true},
		{StatusModeration, true},
		{StatusQueued, true},
		{StatusGenerating, false},
		{StatusGenerated, false},
		{StatusBroadcasting, false},
		{StatusCompleted, false},
	}
	for _, tc := range cases {
		req := queuedRequest(1)
		req.Status = string(tc.status)
		m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)
		err := m.Cancel(context.Background(), req, "user")
		if tc.allowed {
			if err != nil {
				t.Errorf("cancel from %s: %v", tc.status, err)
				continue
			}
			if req.Status != string(StatusCancelled) {
				t.Errorf("cancel from %s left status %s", tc.status, req.Status)
			}
			if req.ErrorReason != "cancelled_by_user" {
				t.Errorf("error_reason = %q", req.ErrorReason)
			}
		} else if !errors.Is(err, ErrNotCancellable) {
			t.Errorf("cancel from %s: expected ErrNotCancellable, got %v", tc.status, err)
		}
	}
}

func TestAdmitSetsModerationOutcome(t *testing.T) {
	req := queuedRequest(1)
	req.Status = string(StatusModeration)
	req.ModerationStatus = ModerationPending
	m := NewMachine(newFakeStore(req), nil, nil, 3, time.Second)

	if err := m.Admit(context.Background(), req, ModerationApproved); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if req.Status != string(StatusQueued) {
		t.Fatalf("expected queued, got %s", req.Status)
	}
	if req.ModerationStatus != ModerationApproved {
		t.Errorf("moderation_status = %q", req.ModerationStatus)
	}
	if req.ModeratedAt == nil {
		t.Error("moderated_at not set")
	}
}
