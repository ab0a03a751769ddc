package moderation

import (
	"context"
	"log"
	"time"

	"github.com/promptfm/radiocore/src/metrics"
	"github.com/promptfm/radiocore/src/types"
)

// Gate decisions.
const (
	DecisionApproved    = "approved"
	DecisionRejected    = "rejected"
	DecisionNeedsReview = "needs_review"
)

// blockConfidence is the pattern-layer cutoff above which the gate blocks
// without invoking paid layers.
const blockConfidence = 0.8

// flagRatio marks a provider score as a sub-blocking flag worth a
// contextual second look (score at half its category threshold or more).
const flagRatio = 0.5

// Verdict is the gate's answer for one prompt. Reasons hold internal codes
// for the audit log; users only ever see a generic policy message.
type Verdict struct {
	Decision string
	Layer    string
	Reasons  []string
}

// Gate runs the ordered moderation layers. Any remote failure resolves to
// rejected: moderation never defaults to approval.
type Gate struct {
	patterns   *PatternFilter
	scorer     Scorer
	classifier Classifier
	audit      Auditor
	timeout    time.Duration
}

func NewGate(patterns *PatternFilter, scorer Scorer, classifier Classifier, audit Auditor, timeout time.Duration) *Gate {
	return &Gate{
		patterns:   patterns,
		scorer:     scorer,
		classifier: classifier,
		audit:      audit,
		timeout:    timeout,
	}
}

// Evaluate runs the layers in order, short-circuiting on a high-confidence
// block. Channel settings shape the later layers: allow_explicit_lyrics
// narrows what the classifier accepts and requires_approval routes
// borderline prompts to a human queue instead of auto-rejecting them.
func (g *Gate) Evaluate(ctx context.Context, req *types.Request, ch *types.Channel) Verdict {
	// Layer 1: local pattern pre-filter.
	flagged := false
	if match := g.patterns.Evaluate(req.Prompt); match != nil {
		if match.Confidence >= blockConfidence {
			g.record(ctx, req, "pattern", DecisionRejected, nil)
			return Verdict{Decision: DecisionRejected, Layer: "pattern", Reasons: []string{match.Kind + ":" + match.Rule}}
		}
		flagged = true
	}

	// Layer 2: external category scoring, fail closed.
	scoreCtx, cancel := context.WithTimeout(ctx, g.timeout)
	scores, err := g.scorer.Score(scoreCtx, req.Prompt)
	cancel()
	if err != nil {
		log.Printf("moderation: provider scoring for request %d: %v", req.ID, err)
		g.record(ctx, req, "provider", DecisionRejected, nil)
		return Verdict{Decision: DecisionRejected, Layer: "provider", Reasons: []string{"moderation_unavailable"}}
	}
	category, ratio, blocked := worstCategory(scores)
	if blocked {
		g.record(ctx, req, "provider", DecisionRejected, scores)
		return Verdict{Decision: DecisionRejected, Layer: "provider", Reasons: []string{"category:" + category}}
	}
	if ratio >= flagRatio {
		flagged = true
	}

	// Layer 3: contextual classification, only on a sub-blocking flag.
	if flagged {
		classCtx, cancel := context.WithTimeout(ctx, g.timeout)
		class, err := g.classifier.Classify(classCtx, req.Prompt, channelContext(ch))
		cancel()
		if err != nil {
			log.Printf("moderation: classifier for request %d: %v", req.ID, err)
			g.record(ctx, req, "classifier", DecisionRejected, scores)
			return Verdict{Decision: DecisionRejected, Layer: "classifier", Reasons: []string{"moderation_unavailable"}}
		}
		switch class {
		case ClassBlock:
			g.record(ctx, req, "classifier", DecisionRejected, scores)
			return Verdict{Decision: DecisionRejected, Layer: "classifier", Reasons: []string{"contextual_block"}}
		case ClassReview:
			// Layer 4: channel policy decides what review means here.
			if ch.RequiresApproval {
				g.record(ctx, req, "policy", DecisionNeedsReview, scores)
				return Verdict{Decision: DecisionNeedsReview, Layer: "policy", Reasons: []string{"pending_review"}}
			}
			g.record(ctx, req, "policy", DecisionRejected, scores)
			return Verdict{Decision: DecisionRejected, Layer: "policy", Reasons: []string{"review_unavailable"}}
		}
	}

	g.record(ctx, req, "gate", DecisionApproved, scores)
	return Verdict{Decision: DecisionApproved, Layer: "gate"}
}

// channelContext frames the prompt for the classifier. Music generation
// permits dark lyrical themes a direct-instruction context would not, and
// family channels narrow that further.
func channelContext(ch *types.Channel) string {
	c := "music generation for a community radio channel"
	if !ch.AllowExplicitLyrics {
		c += "; explicit lyrics are not allowed on this channel"
	}
	if ch.ModerationStrictness != "" {
		c += "; moderation strictness: " + ch.ModerationStrictness
	}
	return c
}

func (g *Gate) record(ctx context.Context, req *types.Request, layer, verdict string, scores map[string]float64) {
	metrics.ModerationVerdicts.WithLabelValues(layer, verdict).Inc()
	if g.audit != nil {
		g.audit.Record(ctx, req.ID, layer, verdict, scores, req.Prompt, "")
	}
}
