package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
)

// memStore is a minimal lifecycle.Store for driving the machine in tests.
type memStore struct {
	mu  sync.Mutex
	req *types.Request
}

func (s *memStore) Get(ctx context.Context, id uint64) (*types.Request, error) {
	return s.req, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id uint64, from, to lifecycle.Status, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lifecycle.Status(s.req.Status) != from {
		return false, nil
	}
	s.req.Status = string(to)
	return true, nil
}

func (s *memStore) SetModerationStatus(ctx context.Context, id uint64, moderationStatus string) error {
	return nil
}

func (s *memStore) AcquireSlot(ctx context.Context, channelID, requestID uint64) (bool, error) {
	return true, nil
}

func (s *memStore) ReleaseSlot(ctx context.Context, channelID, requestID uint64) error {
	return nil
}

type fakeProvider struct {
	generateErr error
	job         Job
	pollErr     error
}

func (p *fakeProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	if p.generateErr != nil {
		return "", p.generateErr
	}
	return "job-1", nil
}

func (p *fakeProvider) Poll(ctx context.Context, jobID string) (*Job, error) {
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	job := p.job
	return &job, nil
}

func generatingRequest() *types.Request {
	return &types.Request{
		ID:               1,
		PublicID:         "pub",
		UserID:           7,
		ChannelID:        1,
		Prompt:           "late night synthwave",
		Status:           string(lifecycle.StatusGenerating),
		ModerationStatus: lifecycle.ModerationApproved,
		RequestedAt:      time.Now().UTC().Add(-time.Minute),
	}
}

func testDispatcher(store *memStore, provider Provider, dwell time.Duration) *Dispatcher {
	machine := lifecycle.NewMachine(store, nil, nil, 3, 10*time.Millisecond)
	return NewDispatcher(nil, machine, nil, provider, time.Second, dwell, 1)
}

// TestGenerateSubmitFailureRequeues: a provider submit error sends the
// request back to queued with its retry budget decremented.
func TestGenerateSubmitFailureRequeues(t *testing.T) {
	req := generatingRequest()
	store := &memStore{req: req}
	d := testDispatcher(store, &fakeProvider{generateErr: errors.New("503")}, time.Second)

	d.generate(context.Background(), req)

	if req.Status != string(lifecycle.StatusQueued) {
		t.Fatalf("status = %s, want queued", req.Status)
	}
	if req.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", req.RetryCount)
	}
	if req.ErrorReason != "provider_error" {
		t.Errorf("error_reason = %q", req.ErrorReason)
	}
}

// TestGenerateDwellTimeout: a job that never completes is cut off at the
// dwell deadline and requeued, not left hanging in generating.
func TestGenerateDwellTimeout(t *testing.T) {
	old := pollInterval
	pollInterval = 10 * time.Millisecond
	defer func() { pollInterval = old }()

	req := generatingRequest()
	store := &memStore{req: req}
	// Job stays pending forever.
	d := testDispatcher(store, &fakeProvider{job: Job{Done: false}}, 60*time.Millisecond)

	start := time.Now()
	d.generate(context.Background(), req)
	elapsed := time.Since(start)

	if req.Status != string(lifecycle.StatusQueued) {
		t.Fatalf("status = %s, want queued", req.Status)
	}
	if req.ErrorReason != "provider_timeout" {
		t.Errorf("error_reason = %q, want provider_timeout", req.ErrorReason)
	}
	if elapsed > time.Second {
		t.Errorf("generate held the worker %v past the dwell window", elapsed)
	}
}

func TestGenerateSuccess(t *testing.T) {
	old := pollInterval
	pollInterval = 10 * time.Millisecond
	defer func() { pollInterval = old }()

	req := generatingRequest()
	store := &memStore{req: req}
	provider := &fakeProvider{job: Job{Done: true, AudioReference: "s3://bucket/track.mp3"}}
	d := testDispatcher(store, provider, time.Second)

	d.generate(context.Background(), req)

	if req.Status != string(lifecycle.StatusGenerated) {
		t.Fatalf("status = %s, want generated", req.Status)
	}
	if req.AudioReference != "s3://bucket/track.mp3" {
		t.Errorf("audio_reference = %q", req.AudioReference)
	}
	if req.ProviderJobID != "job-1" {
		t.Errorf("provider_job_id = %q", req.ProviderJobID)
	}
}

func TestGenerateProviderFailureResult(t *testing.T) {
	old := pollInterval
	pollInterval = 10 * time.Millisecond
	defer func() { pollInterval = old }()

	req := generatingRequest()
	store := &memStore{req: req}
	provider := &fakeProvider{job: Job{Done: true, ErrorMessage: "render failed"}}
	d := testDispatcher(store, provider, time.Second)

	d.generate(context.Background(), req)

	if req.Status != string(lifecycle.StatusQueued) {
		t.Fatalf("status = %s, want queued", req.Status)
	}
	if req.ErrorReason != "provider_error" {
		t.Errorf("error_reason = %q", req.ErrorReason)
	}
}

// TestGenerateExhaustedBudgetFails: past the retry budget the same failure
// lands in terminal failed instead of looping back to queued.
func TestGenerateExhaustedBudgetFails(t *testing.T) {
	req := generatingRequest()
	req.RetryCount = 3
	store := &memStore{req: req}
	d := testDispatcher(store, &fakeProvider{generateErr: errors.New("503")}, time.Second)

	d.generate(context.Background(), req)

	if req.Status != string(lifecycle.StatusFailed) {
		t.Fatalf("status = %s, want failed", req.Status)
	}
}
