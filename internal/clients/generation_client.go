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

// SubmitResult is the immediate answer to a generation submit. Exactly one of
// ImageURLs or JobID is expected to be set; the backend either completes
// synchronously or hands back a job to poll.
type SubmitResult struct {
	ImageURLs []string
	JobID     string
}

// JobOutcome is the state of an async job as reported by a single poll.
type JobOutcome struct {
	Status    models.JobStatus
	ImageURLs []string
	Error     string
}

// GenerationClient talks to the image generation backend.
type GenerationClient interface {
	SubmitGeneration(ctx context.Context, token string, req models.GenerationRequest) (*SubmitResult, error)
	SubmitTool(ctx context.Context, token string, req models.ToolRequest) (*SubmitResult, error)
	PollJob(ctx context.Context, token string, jobID string) (*JobOutcome, error)
}

type httpGenerationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPGenerationClient creates a GenerationClient over plain HTTP/JSON.
func NewHTTPGenerationClient(baseURL string, timeout time.Duration, logger *zap.Logger) GenerationClient {
	return &httpGenerationClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("GenerationClient"),
	}
}

type submitResponse struct {
	ImageURLs []string `json:"image_urls"`
	JobID     string   `json:"job_id"`
}

type jobStatusResponse struct {
	Status    string   `json:"status"`
	ImageURLs []string `json:"image_urls"`
	Error     string   `json:"error"`
}

func (c *httpGenerationClient) SubmitGeneration(ctx context.Context, token string, req models.GenerationRequest) (*SubmitResult, error) {
	c.logger.Info("SubmitGeneration called", zap.String("style", req.Style), zap.Int("count", req.Count))
	body := map[string]any{
		"prompt":   req.Prompt,
		"style":    req.Style,
		"category": req.Category,
		"count":    req.Count,
	}
	return c.submit(ctx, token, c.baseURL+"/v1/designs/generate", body)
}

func (c *httpGenerationClient) SubmitTool(ctx context.Context, token string, req models.ToolRequest) (*SubmitResult, error) {
	c.logger.Info("SubmitTool called", zap.String("operation", string(req.Operation)))
	body := map[string]any{
		"image_url": req.ImageURL,
		"operation": req.Operation,
		"params":    req.Params,
	}
	return c.submit(ctx, token, c.baseURL+"/v1/designs/enhance", body)
}

func (c *httpGenerationClient) submit(ctx context.Context, token, url string, body map[string]any) (*SubmitResult, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, url, token, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.ImageURLs) == 0 && resp.JobID == "" {
		c.logger.Error("Backend returned neither images nor a job id", zap.String("url", url))
		return nil, models.ErrNoOutput
	}
	return &SubmitResult{ImageURLs: resp.ImageURLs, JobID: resp.JobID}, nil
}

func (c *httpGenerationClient) PollJob(ctx context.Context, token string, jobID string) (*JobOutcome, error) {
	var resp jobStatusResponse
	url := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, jobID)
	if err := c.doJSON(ctx, http.MethodGet, url, token, nil, &resp); err != nil {
		return nil, err
	}
	switch models.JobStatus(resp.Status) {
	case models.JobStatusPending, models.JobStatusSucceeded, models.JobStatusFailed:
		return &JobOutcome{
			Status:    models.JobStatus(resp.Status),
			ImageURLs: resp.ImageURLs,
			Error:     resp.Error,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown job status %q", models.ErrUpstream, resp.Status)
	}
}

func (c *httpGenerationClient) doJSON(ctx context.Context, method, url, token string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return models.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return fmt.Errorf("%w: status %d from %s", models.ErrUpstream, resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", models.ErrUpstream, err)
	}
	return nil
}
