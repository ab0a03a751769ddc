package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/metrics"
	"github.com/promptfm/radiocore/src/scoring"
	"github.com/promptfm/radiocore/src/types"
)

// TopK is the size of the weighted-draw pool.
const TopK = 5

// RecencyWindow is how many past selections per channel feed the recency
// penalty and the diversity constraint.
const RecencyWindow = 5

// Pool supplies the queued candidates and their owners.
type Pool interface {
	QueuedByChannel(ctx context.Context, channelID uint64) ([]types.Request, error)
	UsersByIDs(ctx context.Context, ids []uint64) (map[uint64]types.User, error)
}

// Claimer performs the atomic queued -> generating transition.
type Claimer interface {
	Claim(ctx context.Context, req *types.Request) error
}

// Selection is one past winner, remembered for fairness and variety.
type Selection struct {
	UserID uint64
	Genre  string
}

// History remembers the last few selections per channel.
type History interface {
	Recent(ctx context.Context, channelID uint64, n int) ([]Selection, error)
	Push(ctx context.Context, channelID uint64, sel Selection) error
}

// Selector picks at most one request per channel per dispatch tick. The
// draw over the top-K is weighted random rather than greedy so reputation
// alone never guarantees first pick.
type Selector struct {
	pool    Pool
	claimer Claimer
	scorer  *scoring.Scorer
	history History

	mu  sync.Mutex
	rng *rand.Rand
}

func New(pool Pool, claimer Claimer, scorer *scoring.Scorer, history History) *Selector {
	return &Selector{
		pool:    pool,
		claimer: claimer,
		scorer:  scorer,
		history: history,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed pins the draw sequence, for tests.
func (s *Selector) Seed(seed int64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
}

type candidate struct {
	req   types.Request
	score float64
}

// Select scores the queued pool, draws a winner from the top-K and claims
// it. Returns nil with no error when the pool is empty or the claim was
// lost to a concurrent tick; the next tick simply runs again.
func (s *Selector) Select(ctx context.Context, channelID uint64) (*types.Request, error) {
	pool, err := s.pool.QueuedByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("selector: load pool for channel %d: %w", channelID, err)
	}
	metrics.QueueDepth.WithLabelValues(fmt.Sprintf("%d", channelID)).Set(float64(len(pool)))
	if len(pool) == 0 {
		return nil, nil
	}

	userIDs := make([]uint64, 0, len(pool))
	for _, req := range pool {
		userIDs = append(userIDs, req.UserID)
	}
	users, err := s.pool.UsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("selector: load users for channel %d: %w", channelID, err)
	}

	recent, err := s.history.Recent(ctx, channelID, RecencyWindow)
	if err != nil {
		log.Printf("selector: recent history for channel %d: %v", channelID, err)
		recent = nil
	}
	recentUsers := make([]uint64, 0, len(recent))
	for _, sel := range recent {
		recentUsers = append(recentUsers, sel.UserID)
	}

	now := time.Now().UTC()
	candidates := make([]candidate, 0, len(pool))
	for _, req := range pool {
		user, ok := users[req.UserID]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			req:   req,
			score: s.scorer.Score(&req, &user, now, recentUsers),
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Rank by score; exactly equal scores break on earliest requested_at.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].req.RequestedAt.Before(candidates[j].req.RequestedAt)
	})
	if len(candidates) > TopK {
		candidates = candidates[:TopK]
	}

	winner := s.draw(candidates)
	if len(recent) > 0 && len(candidates) > 1 && clashes(winner.req, recent[0]) {
		// One redraw for variety; a repeated winner stands.
		redrawn := s.draw(candidates)
		if !clashes(redrawn.req, recent[0]) {
			winner = redrawn
		}
	}

	req := winner.req
	req.PriorityScore = winner.score
	if err := s.claimer.Claim(ctx, &req); err != nil {
		if errors.Is(err, lifecycle.ErrClaimConflict) {
			metrics.ClaimConflicts.Inc()
			return nil, nil
		}
		return nil, err
	}
	metrics.Claims.Inc()

	if err := s.history.Push(ctx, channelID, Selection{UserID: req.UserID, Genre: primaryGenre(req)}); err != nil {
		log.Printf("selector: push history for channel %d: %v", channelID, err)
	}
	return &req, nil
}

// draw picks proportionally to score. A pool whose scores sum to zero falls
// back to the head of the ranking, which the sort already tie-broke by age.
func (s *Selector) draw(candidates []candidate) candidate {
	var total float64
	for _, c := range candidates {
		total += c.score
	}
	if total <= 0 {
		return candidates[0]
	}
	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()
	for _, c := range candidates {
		r -= c.score
		if r < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// clashes reports whether a candidate repeats the previous broadcast's user
// or genre.
func clashes(req types.Request, prev Selection) bool {
	if req.UserID == prev.UserID {
		return true
	}
	if prev.Genre == "" {
		return false
	}
	for _, g := range strings.Split(req.GenreTags, ",") {
		if strings.TrimSpace(g) == prev.Genre {
			return true
		}
	}
	return false
}

func primaryGenre(req types.Request) string {
	if req.GenreTags == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(req.GenreTags, ",")[0])
}
