package lifecycle

// Status is the closed set of request lifecycle states. Requests only ever
// move along the edges in transitions below; everything else is rejected.
type Status string

const (
	StatusPending      Status = "pending"
	StatusModeration   Status = "moderation"
	StatusQueued       Status = "queued"
	StatusGenerating   Status = "generating"
	StatusGenerated    Status = "generated"
	StatusBroadcasting Status = "broadcasting"
	StatusCompleted    Status = "completed"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Moderation outcomes carried on the request alongside Status.
const (
	ModerationPending  = "pending"
	ModerationApproved = "approved"
	ModerationRejected = "rejected"
	ModerationBypassed = "bypassed"
	ModerationReview   = "needs_review"
)

// transitions is the full edge set. The retry edge generating -> queued is
// listed here; the machine additionally guards it with the retry budget.
var transitions = map[Status][]Status{
	StatusPending:      {StatusModeration, StatusCancelled},
	StatusModeration:   {StatusQueued, StatusRejected, StatusCancelled},
	StatusQueued:       {StatusGenerating, StatusCancelled},
	StatusGenerating:   {StatusGenerated, StatusQueued, StatusFailed},
	StatusGenerated:    {StatusBroadcasting},
	StatusBroadcasting: {StatusCompleted},
	StatusCompleted:    {},
	StatusRejected:     {},
	StatusFailed:       {},
	StatusCancelled:    {},
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no edges leave s.
func (s Status) Terminal() bool {
	edges, ok := transitions[s]
	return ok && len(edges) == 0
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a user or moderator may still cancel a request
// in state s. Work already handed to the generation provider cannot be
// recalled, so cancellation stops being legal once generating starts.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusModeration, StatusQueued:
		return true
	}
	return false
}
