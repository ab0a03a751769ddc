package selector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/scoring"
	"github.com/promptfm/radiocore/src/types"
)

type fakePool struct {
	queued []types.Request
	users  map[uint64]types.User
}

func (p *fakePool) QueuedByChannel(ctx context.Context, channelID uint64) ([]types.Request, error) {
	out := make([]types.Request, len(p.queued))
	copy(out, p.queued)
	return out, nil
}

func (p *fakePool) UsersByIDs(ctx context.Context, ids []uint64) (map[uint64]types.User, error) {
	return p.users, nil
}

type fakeClaimer struct {
	claimed  []uint64
	conflict bool // report every claim as lost to a concurrent tick
}

func (c *fakeClaimer) Claim(ctx context.Context, req *types.Request) error {
	if c.conflict {
		return fmt.Errorf("%w: request %d", lifecycle.ErrClaimConflict, req.ID)
	}
	c.claimed = append(c.claimed, req.ID)
	return nil
}

type fakeHistory struct {
	recent []Selection
	pushed []Selection
}

func (h *fakeHistory) Recent(ctx context.Context, channelID uint64, n int) ([]Selection, error) {
	return h.recent, nil
}

func (h *fakeHistory) Push(ctx context.Context, channelID uint64, sel Selection) error {
	h.pushed = append(h.pushed, sel)
	return nil
}

func user(id uint64) types.User { return types.User{ID: id} }

func queued(id, userID uint64, base float64, age time.Duration) types.Request {
	return types.Request{
		ID:               id,
		UserID:           userID,
		ChannelID:        1,
		Status:           "queued",
		ModerationStatus: "approved",
		BasePriority:     base,
		RequestedAt:      time.Now().UTC().Add(-age),
	}
}

func newTestSelector(pool *fakePool, claimer *fakeClaimer, history *fakeHistory) *Selector {
	s := New(pool, claimer, scoring.NewScorer(scoring.DefaultWeights()), history)
	s.Seed(1)
	return s
}

func TestSelectEmptyPool(t *testing.T) {
	s := newTestSelector(&fakePool{}, &fakeClaimer{}, &fakeHistory{})
	req, err := s.Select(context.Background(), 1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if req != nil {
		t.Fatalf("expected nil for empty pool, got %+v", req)
	}
}

// TestSelectWeightedDraw runs many seeded draws over a two-candidate pool.
// The higher-scored request must win more often, but the weighted draw
// guarantees it never wins every time.
func TestSelectWeightedDraw(t *testing.T) {
	pool := &fakePool{
		queued: []types.Request{
			queued(1, 10, 200, 0),
			queued(2, 20, 150, 0),
		},
		users: map[uint64]types.User{10: user(10), 20: user(20)},
	}
	claimer := &fakeClaimer{}
	s := newTestSelector(pool, claimer, &fakeHistory{})

	wins := map[uint64]int{}
	for i := 0; i < 1000; i++ {
		req, err := s.Select(context.Background(), 1)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if req == nil {
			t.Fatal("non-empty pool returned nil")
		}
		wins[req.ID]++
	}
	if wins[1] <= wins[2] {
		t.Errorf("higher score should win more: %v", wins)
	}
	if wins[2] == 0 {
		t.Error("weighted draw must leave the lower score a chance")
	}
}

func TestSelectTieBreakOldestFirst(t *testing.T) {
	// Zero-score pool: the draw falls back to the ranking head, and equal
	// scores break on earliest requested_at. Zero weights keep the wait
	// bonus out of the picture.
	now := time.Now().UTC()
	pool := &fakePool{
		queued: []types.Request{
			queued(1, 10, 0, 0),
			queued(2, 20, 0, 0),
		},
		users: map[uint64]types.User{10: user(10), 20: user(20)},
	}
	pool.queued[0].RequestedAt = now
	pool.queued[1].RequestedAt = now.Add(-time.Millisecond)

	claimer := &fakeClaimer{}
	s := New(pool, claimer, scoring.NewScorer(scoring.Weights{Max: 1000}), &fakeHistory{})
	s.Seed(1)

	req, err := s.Select(context.Background(), 1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if req == nil || req.ID != 2 {
		t.Fatalf("expected oldest request 2 to win the tie, got %+v", req)
	}
}

// TestSelectDiversityRedraw pins the draw sequence and checks that a winner
// repeating the previous broadcast's user gets one redraw, and that a
// redraw landing on the same candidate stands.
func TestSelectDiversityRedraw(t *testing.T) {
	pool := &fakePool{
		queued: []types.Request{
			queued(1, 10, 500, 0),
			queued(2, 20, 500, 0),
		},
		users: map[uint64]types.User{10: user(10), 20: user(20)},
	}
	history := &fakeHistory{recent: []Selection{{UserID: 10}}}
	claimer := &fakeClaimer{}
	s := newTestSelector(pool, claimer, history)

	// The recency penalty already drops user 10 below user 20, and any draw
	// that still lands on 10 is redrawn once. Over many rounds user 20 must
	// dominate decisively more than the raw score gap alone would produce.
	wins := map[uint64]int{}
	for i := 0; i < 500; i++ {
		req, err := s.Select(context.Background(), 1)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		wins[req.UserID]++
	}
	if wins[20] < wins[10]*2 {
		t.Errorf("diversity redraw should strongly favor the fresh user: %v", wins)
	}
	if len(history.pushed) != 500 {
		t.Errorf("every claim must push history, got %d", len(history.pushed))
	}
}

func TestSelectGenreClash(t *testing.T) {
	reqA := queued(1, 10, 500, 0)
	reqA.GenreTags = "synthwave, chill"
	prev := Selection{UserID: 99, Genre: "synthwave"}
	if !clashes(reqA, prev) {
		t.Error("shared genre must clash")
	}
	reqB := queued(2, 20, 500, 0)
	reqB.GenreTags = "jazz"
	if clashes(reqB, prev) {
		t.Error("different user and genre must not clash")
	}
	if !clashes(reqB, Selection{UserID: 20}) {
		t.Error("same user must clash regardless of genre")
	}
}

// TestSelectClaimConflict: losing the atomic claim is not an error, just an
// empty tick.
func TestSelectClaimConflict(t *testing.T) {
	pool := &fakePool{
		queued: []types.Request{queued(1, 10, 100, 0)},
		users:  map[uint64]types.User{10: user(10)},
	}
	s := newTestSelector(pool, &fakeClaimer{conflict: true}, &fakeHistory{})

	req, err := s.Select(context.Background(), 1)
	if err != nil {
		t.Fatalf("claim conflict must not surface as error, got %v", err)
	}
	if req != nil {
		t.Fatalf("expected nil on lost claim, got %+v", req)
	}
}

func TestSelectTopKBound(t *testing.T) {
	pool := &fakePool{users: map[uint64]types.User{}}
	for i := uint64(1); i <= 10; i++ {
		// Request 10 scores lowest; with K=5 it must never be drawn.
		pool.queued = append(pool.queued, queued(i, i, float64(1000-i*50), 0))
		pool.users[i] = user(i)
	}
	claimer := &fakeClaimer{}
	s := newTestSelector(pool, claimer, &fakeHistory{})

	for i := 0; i < 300; i++ {
		req, err := s.Select(context.Background(), 1)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if req.ID > TopK {
			t.Fatalf("request %d outside the top-%d pool was drawn", req.ID, TopK)
		}
	}
}
