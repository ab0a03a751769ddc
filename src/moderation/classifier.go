package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Classifier outcomes.
const (
	ClassAllow  = "allow"
	ClassBlock  = "block"
	ClassReview = "review"
)

// Classifier distinguishes fictional or artistic framing from literal
// harmful intent. Only invoked when earlier layers raised a sub-blocking
// flag, so it never runs for clean or clearly blocked prompts.
type Classifier interface {
	Classify(ctx context.Context, text, channelContext string) (string, error)
}

const classifierSystemPrompt = `You review prompts submitted to an AI music generation service.
The prompts describe songs: lyrical themes, moods, genres. Dark or violent
imagery framed as song content is acceptable art; literal instructions for
harm, targeted harassment, or sexual content involving minors are not.
Answer with exactly one word: ALLOW, BLOCK, or REVIEW.`

type llmClassifier struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewLLMClassifier builds the production classifier over a chat-completions
// style endpoint.
func NewLLMClassifier(apiKey, baseURL, model string, timeout time.Duration) Classifier {
	return &llmClassifier{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *llmClassifier) Classify(ctx context.Context, text, channelContext string) (string, error) {
	user := fmt.Sprintf("Channel context: %s\n\nPrompt:\n%s", channelContext, text)
	body, _ := json.Marshal(map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": classifierSystemPrompt},
			{"role": "user", "content": user},
		},
		"temperature": 0,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(body))
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
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classifier API error: status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("classifier returned no choices")
	}

	answer := strings.ToUpper(strings.TrimSpace(result.Choices[0].Message.Content))
	switch {
	case strings.HasPrefix(answer, "ALLOW"):
		return ClassAllow, nil
	case strings.HasPrefix(answer, "BLOCK"):
		return ClassBlock, nil
	case strings.HasPrefix(answer, "REVIEW"):
		return ClassReview, nil
	}
	return "", fmt.Errorf("classifier returned unrecognized verdict %q", answer)
}
