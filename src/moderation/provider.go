package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Scorer returns per-category scores for a piece of text. Implemented by
// the external moderation service client; faked in tests.
type Scorer interface {
	Score(ctx context.Context, text string) (map[string]float64, error)
}

// CategoryThresholds are deliberately stricter than the provider defaults.
// The most severe categories run at near-zero tolerance regardless of the
// channel's own strictness setting.
var CategoryThresholds = map[string]float64{
	"sexual/minors":          0.01,
	"self-harm/instructions": 0.05,
	"hate/threatening":       0.10,
	"violence/graphic":       0.30,
	"harassment/threatening": 0.30,
	"hate":                   0.40,
	"sexual":                 0.50,
	"violence":               0.60,
	"harassment":             0.60,
	"self-harm":              0.30,
}

// Client calls an OpenAI-compatible moderations endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Score(ctx context.Context, text string) (map[string]float64, error) {
	body, _ := json.Marshal(map[string]interface{}{"input": text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation API error: status %d", resp.StatusCode)
	}

	var result struct {
		Results []struct {
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("moderation API returned no results")
	}
	return result.Results[0].CategoryScores, nil
}

// worstCategory returns the category with the highest score relative to its
// threshold, plus whether any category breaches its threshold outright.
func worstCategory(scores map[string]float64) (category string, ratio float64, blocked bool) {
	for cat, score := range scores {
		threshold, ok := CategoryThresholds[cat]
		if !ok {
			continue
		}
		r := score / threshold
		if r > ratio {
			ratio = r
			category = cat
		}
		if score >= threshold {
			blocked = true
		}
	}
	return category, ratio, blocked
}
