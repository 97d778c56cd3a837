package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"design-server/internal/models"

	"go.uber.org/zap"
)

// VoiceClient synthesizes narration text into playable audio.
type VoiceClient interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

type httpVoiceClient struct {
	baseURL    string
	voice      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPVoiceClient creates a VoiceClient over plain HTTP/JSON.
func NewHTTPVoiceClient(baseURL, voice string, timeout time.Duration, logger *zap.Logger) VoiceClient {
	return &httpVoiceClient{
		baseURL:    baseURL,
		voice:      voice,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("VoiceClient"),
	}
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize returns a URL of the rendered audio clip.
func (c *httpVoiceClient) Synthesize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text, "voice": c.voice})
	if err != nil {
		return "", fmt.Errorf("failed to marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: synthesize returned status %d", models.ErrUpstream, resp.StatusCode)
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("%w: failed to decode synthesize response: %v", models.ErrUpstream, err)
	}
	if sr.AudioURL == "" {
		return "", fmt.Errorf("%w: synthesize returned empty audio url", models.ErrUpstream)
	}
	c.logger.Debug("Narration synthesized", zap.Int("textLen", len(text)))
	return sr.AudioURL, nil
}
