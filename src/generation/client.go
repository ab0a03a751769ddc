package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Params tune a render. GenreTags come from the request; the rest are
// channel defaults.
type Params struct {
	GenreTags string `json:"genre_tags,omitempty"`
	Duration  int    `json:"duration_seconds,omitempty"`
}

// Job is the provider's view of one render.
type Job struct {
	ID             string
	Done           bool
	AudioReference string
	ErrorMessage   string
}

// Provider is the external music generation service. Renders are
// asynchronous: Generate hands back a job id, Poll reports completion.
type Provider interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
	Poll(ctx context.Context, jobID string) (*Job, error)
}

// Client talks to the provider's HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"prompt": prompt,
		"params": params,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/generations", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("generation API error: status %d", resp.StatusCode)
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("generation API returned no job id")
	}
	return result.JobID, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/generations/"+jobID, nil)
	if err != nil {
		return nil, err
	}
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
		return nil, fmt.Errorf("generation API error: status %d", resp.StatusCode)
	}

	var result struct {
		Status         string `json:"status"` // pending, complete, failed
		AudioReference string `json:"audio_reference"`
		Error          string `json:"error"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &Job{
		ID:             jobID,
		Done:           result.Status == "complete" || result.Status == "failed",
		AudioReference: result.AudioReference,
		ErrorMessage:   result.Error,
	}, nil
}
