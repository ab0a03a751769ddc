package scoring

import (
	"time"

	"github.com/promptfm/radiocore/src/reputation"
	"github.com/promptfm/radiocore/src/types"
)

// Weights controls how a queued request is ranked. Scores are cache values:
// every tick recomputes them from base priority, reputation, votes and wait
// time, so changing weights never requires touching stored rows.
type Weights struct {
	Reputation   float64 // per reputation point
	Upvote       float64 // per upvote
	Downvote     float64 // per downvote
	PremiumBonus float64 // flat bonus for premium accounts
	TierBonus    map[string]float64
	WaitPerStep  float64       // points granted per WaitStep of queue time
	WaitStep     time.Duration // interval the wait bonus accrues over
	WaitCap      float64       // wait bonus never exceeds this
	Recency      float64       // penalty while the user sits in the recent-selection window
	Max          float64       // final clamp ceiling
}

// DefaultWeights are the production values.
func DefaultWeights() Weights {
	return Weights{
		Reputation:   0.5,
		Upvote:       10,
		Downvote:     15,
		PremiumBonus: 25,
		TierBonus: map[string]float64{
			reputation.TierVIP:   50,
			reputation.TierElite: 75,
		},
		WaitPerStep: 1,
		WaitStep:    30 * time.Second,
		WaitCap:     100,
		Recency:     50,
		Max:         1000,
	}
}

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score ranks one request. recentUsers holds the users selected for this
// channel's last N broadcast slots; a request whose owner appears there
// pays the recency penalty, which is the fairness control keeping one user
// from monopolizing the stream.
func (s *Scorer) Score(req *types.Request, user *types.User, now time.Time, recentUsers []uint64) float64 {
	score := req.BasePriority
	score += s.w.Reputation * float64(user.ReputationScore)
	score += s.w.Upvote * float64(req.Upvotes)
	score -= s.w.Downvote * float64(req.Downvotes)
	score += s.w.TierBonus[user.Tier]
	if user.IsPremium {
		score += s.w.PremiumBonus
	}
	score += s.waitBonus(now.Sub(req.RequestedAt))
	for _, id := range recentUsers {
		if id == user.ID {
			score -= s.w.Recency
			break
		}
	}
	if score < 0 {
		return 0
	}
	if score > s.w.Max {
		return s.w.Max
	}
	return score
}

// waitBonus grows with queue time but is capped, so an old request cannot
// starve forever yet also cannot dominate the pool indefinitely.
func (s *Scorer) waitBonus(waited time.Duration) float64 {
	if waited <= 0 {
		return 0
	}
	bonus := s.w.WaitPerStep * float64(waited/s.w.WaitStep)
	if bonus > s.w.WaitCap {
		return s.w.WaitCap
	}
	return bonus
}
