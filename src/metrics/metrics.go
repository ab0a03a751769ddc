package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_requests_submitted_total",
		Help: "Requests admitted into the lifecycle",
	})

	ModerationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiocore_moderation_verdicts_total",
		Help: "Moderation gate verdicts by layer and outcome",
	}, []string{"layer", "verdict"})

	Claims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_claims_total",
		Help: "Successful queue claims",
	})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_claim_conflicts_total",
		Help: "Claims lost to a concurrent selector tick",
	})

	SlotConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_slot_conflicts_total",
		Help: "Broadcast slot acquisitions lost to the current occupant",
	})

	GenerationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_generation_retries_total",
		Help: "Generation attempts sent back to the queue",
	})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_generation_failures_total",
		Help: "Requests that exhausted the retry budget",
	})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiocore_broadcasts_total",
		Help: "Requests that reached the broadcast slot",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radiocore_queue_depth",
		Help: "Current queued pool size per channel",
	}, []string{"channel"})
)
