package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned when a caller asks for an edge that
	// does not exist in the transition table.
	ErrInvalidTransition = errors.New("lifecycle: invalid status transition")

	// ErrClaimConflict means another worker claimed the request first. Not
	// user visible; the selector simply moves on to the next tick.
	ErrClaimConflict = errors.New("lifecycle: request already claimed")

	// ErrSlotConflict means the channel broadcast slot is occupied. The
	// request stays generated and is retried on a later cycle.
	ErrSlotConflict = errors.New("lifecycle: broadcast slot occupied")

	// ErrNotCancellable is returned for cancellation attempts once the
	// request is in flight with the generation provider.
	ErrNotCancellable = errors.New("lifecycle: request can no longer be cancelled")

	// ErrNotModerated guards the queued -> generating edge: a request that
	// is not approved or bypassed never reaches the provider.
	ErrNotModerated = errors.New("lifecycle: request has not passed moderation")

	ErrNotFound = errors.New("lifecycle: request not found")
)
