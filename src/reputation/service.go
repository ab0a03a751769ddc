package reputation

import (
	"context"
	"fmt"
	"log"
)

// Deltas applied per feedback event. Reputation never drops below zero.
const (
	DeltaCompleted = 10
	DeltaUpvoted   = 2
	DeltaDownvoted = -3
	DeltaRejected  = -15
)

var eventDeltas = map[string]int64{
	"completed": DeltaCompleted,
	"upvoted":   DeltaUpvoted,
	"downvoted": DeltaDownvoted,
	"rejected":  DeltaRejected,
}

// Store applies score changes atomically. All reputation writes in the
// system go through this single surface; call sites never read-modify-write.
type Store interface {
	// ApplyDelta adds delta to the user's score with a floor of zero and
	// returns the resulting score.
	ApplyDelta(ctx context.Context, userID uint64, delta int64) (int64, error)
	SetTier(ctx context.Context, userID uint64, tier string) error
}

// Service is the one owner of reputation state.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Apply folds a lifecycle or vote outcome into the user's reputation and
// recomputes the tier band.
func (s *Service) Apply(ctx context.Context, userID uint64, event string) error {
	delta, ok := eventDeltas[event]
	if !ok {
		return fmt.Errorf("reputation: unknown event %q", event)
	}
	score, err := s.store.ApplyDelta(ctx, userID, delta)
	if err != nil {
		return fmt.Errorf("reputation: apply %s to user %d: %w", event, userID, err)
	}
	tier := TierFor(score)
	if err := s.store.SetTier(ctx, userID, tier); err != nil {
		// The tier is derived; the next delta recomputes it.
		log.Printf("reputation: set tier for user %d: %v", userID, err)
	}
	return nil
}
