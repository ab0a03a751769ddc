package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Metadata rides along with the audio to the stream encoder.
type Metadata struct {
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
	Prompt    string `json:"prompt"`
	GenreTags string `json:"genre_tags,omitempty"`
}

// Controller is the external broadcast collaborator. Play starts playback;
// the collaborator later reports completion through the finished callback
// endpoint. Completion is never inferred from elapsed time.
type Controller interface {
	Play(ctx context.Context, audioReference string, meta Metadata) error
}

// HTTPController posts play commands to the stream controller service.
type HTTPController struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPController(baseURL string) *HTTPController {
	return &HTTPController{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPController) Play(ctx context.Context, audioReference string, meta Metadata) error {
	body, _ := json.Marshal(map[string]interface{}{
		"audio_reference": audioReference,
		"metadata":        meta,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/play", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("broadcast controller error: status %d", resp.StatusCode)
	}
	return nil
}
