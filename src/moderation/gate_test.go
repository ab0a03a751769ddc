package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/promptfm/radiocore/src/types"
)

type fakeScorer struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeScorer) Score(ctx context.Context, text string) (map[string]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeClassifier struct {
	class string
	err   error
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, text, channelContext string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.class, nil
}

func testGate(t *testing.T, scorer Scorer, classifier Classifier) *Gate {
	t.Helper()
	pf, err := NewPatternFilter(DefaultBannedTerms)
	if err != nil {
		t.Fatalf("compile patterns: %v", err)
	}
	return NewGate(pf, scorer, classifier, nil, time.Second)
}

func gateRequest(prompt string) *types.Request {
	return &types.Request{ID: 1, UserID: 7, ChannelID: 1, Prompt: prompt}
}

func publicChannel() *types.Channel {
	return &types.Channel{ID: 1, Name: "main"}
}

// TestGatePatternShortCircuit: a high-confidence local hit must block
// before any remote layer is invoked.
func TestGatePatternShortCircuit(t *testing.T) {
	scorer := &fakeScorer{}
	classifier := &fakeClassifier{}
	g := testGate(t, scorer, classifier)

	v := g.Evaluate(context.Background(), gateRequest("kill yourself song"), publicChannel())
	if v.Decision != DecisionRejected || v.Layer != "pattern" {
		t.Fatalf("verdict = %+v, want pattern rejection", v)
	}
	if scorer.calls != 0 || classifier.calls != 0 {
		t.Errorf("remote layers must not run after a pattern block: scorer %d, classifier %d", scorer.calls, classifier.calls)
	}
}

// TestGateFailClosed: any provider failure resolves to rejected, never
// approved.
func TestGateFailClosed(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("connection refused")}
	g := testGate(t, scorer, &fakeClassifier{})

	v := g.Evaluate(context.Background(), gateRequest("a gentle lullaby"), publicChannel())
	if v.Decision != DecisionRejected || v.Layer != "provider" {
		t.Fatalf("verdict = %+v, want provider rejection", v)
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != "moderation_unavailable" {
		t.Errorf("reasons = %v", v.Reasons)
	}
}

func TestGateCategoryBlock(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"hate/threatening": 0.5, "violence": 0.1}}
	classifier := &fakeClassifier{}
	g := testGate(t, scorer, classifier)

	v := g.Evaluate(context.Background(), gateRequest("a gentle lullaby"), publicChannel())
	if v.Decision != DecisionRejected || v.Layer != "provider" {
		t.Fatalf("verdict = %+v, want provider rejection", v)
	}
	if classifier.calls != 0 {
		t.Error("a hard category block must not consult the classifier")
	}
}

func TestGateCleanPromptApproved(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"violence": 0.05}}
	classifier := &fakeClassifier{}
	g := testGate(t, scorer, classifier)

	v := g.Evaluate(context.Background(), gateRequest("a gentle lullaby"), publicChannel())
	if v.Decision != DecisionApproved {
		t.Fatalf("verdict = %+v, want approved", v)
	}
	if classifier.calls != 0 {
		t.Error("unflagged prompts must skip the classifier")
	}
}

// TestGateFlaggedRunsClassifier: scores at half a category threshold flag
// the prompt for contextual review without blocking outright.
func TestGateFlaggedRunsClassifier(t *testing.T) {
	// violence threshold 0.60; 0.35 is a sub-blocking flag.
	scorer := &fakeScorer{scores: map[string]float64{"violence": 0.35}}

	cases := []struct {
		name     string
		class    string
		classErr error
		channel  *types.Channel
		want     string
		layer    string
	}{
		{"contextual allow", ClassAllow, nil, publicChannel(), DecisionApproved, "gate"},
		{"contextual block", ClassBlock, nil, publicChannel(), DecisionRejected, "classifier"},
		{"classifier down fails closed", "", errors.New("timeout"), publicChannel(), DecisionRejected, "classifier"},
		{"review without approval queue", ClassReview, nil, publicChannel(), DecisionRejected, "policy"},
		{"review with approval queue", ClassReview, nil, &types.Channel{ID: 2, RequiresApproval: true}, DecisionNeedsReview, "policy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classifier := &fakeClassifier{class: tc.class, err: tc.classErr}
			g := testGate(t, scorer, classifier)

			v := g.Evaluate(context.Background(), gateRequest("a battle hymn about war"), tc.channel)
			if v.Decision != tc.want || v.Layer != tc.layer {
				t.Errorf("verdict = %+v, want %s at %s", v, tc.want, tc.layer)
			}
			if classifier.calls != 1 {
				t.Errorf("classifier calls = %d, want 1", classifier.calls)
			}
		})
	}
}

func TestWorstCategory(t *testing.T) {
	cases := []struct {
		name     string
		scores   map[string]float64
		category string
		blocked  bool
	}{
		{"empty", nil, "", false},
		{"under all thresholds", map[string]float64{"violence": 0.2, "hate": 0.1}, "", false},
		{"minors near zero tolerance", map[string]float64{"sexual/minors": 0.02}, "sexual/minors", true},
		{"worst ratio wins", map[string]float64{"violence": 0.9, "hate/threatening": 0.2}, "hate/threatening", true},
		{"unknown category ignored", map[string]float64{"novel-category": 0.99}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			category, _, blocked := worstCategory(tc.scores)
			if blocked != tc.blocked {
				t.Fatalf("blocked = %v, want %v", blocked, tc.blocked)
			}
			if blocked && category != tc.category {
				t.Errorf("category = %q, want %q", category, tc.category)
			}
		})
	}
}

func TestChannelContext(t *testing.T) {
	family := &types.Channel{Name: "family", AllowExplicitLyrics: false, ModerationStrictness: "strict"}
	got := channelContext(family)
	if got == channelContext(&types.Channel{AllowExplicitLyrics: true}) {
		t.Error("family channel context must narrow the framing")
	}
}
