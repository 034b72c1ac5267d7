package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("fal: api key is required")

// Queue status tokens the fal API reports.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
	statusError      = "ERROR"
)

// Options configures the fal queue client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client talks to the fal queue API for one model endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

type submissionEnvelope struct {
	RequestID   string `json:"request_id"`
	ResponseURL string `json:"response_url"`
	StatusURL   string `json:"status_url"`
	CancelURL   string `json:"cancel_url"`
	Status      string `json:"status"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	ResponseURL   string `json:"response_url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = "fal-ai/sora"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name implements providers.Adapter.
func (c *Client) Name() domain.Provider { return domain.ProviderFal }

// Submit enqueues a generation request and returns the queue request id.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (providers.Submission, error) {
	body := map[string]any{"prompt": req.Prompt}
	if req.ImageURL != "" {
		body["image_url"] = req.ImageURL
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, c.model)
	if req.WebhookURL != "" {
		endpoint += "?fal_webhook=" + url.QueryEscape(req.WebhookURL)
	}
	var envelope submissionEnvelope
	if err := c.do(ctx, http.MethodPost, endpoint, body, &envelope); err != nil {
		return providers.Submission{}, err
	}
	if envelope.RequestID == "" {
		return providers.Submission{}, fmt.Errorf("fal: submission returned no request id: %w", domain.ErrProviderFailure)
	}
	rawStatus := envelope.Status
	if rawStatus == "" {
		rawStatus = statusInQueue
	}
	c.logger.Debug().Str("request_id", envelope.RequestID).Str("status", rawStatus).Msg("fal: submitted")
	return providers.Submission{ProviderJobID: envelope.RequestID, RawStatus: rawStatus}, nil
}

// Poll fetches the queue status and, once the queue reports a terminal
// outcome, the result payload alongside it.
func (c *Client) Poll(ctx context.Context, providerJobID string) (domain.ProviderUpdate, error) {
	var status statusResponse
	statusURL := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, c.model, providerJobID)
	if err := c.do(ctx, http.MethodGet, statusURL, nil, &status); err != nil {
		return domain.ProviderUpdate{}, err
	}
	upd := domain.ProviderUpdate{
		Status:        status.Status,
		QueuePosition: status.QueuePosition,
	}
	if status.Status != statusCompleted && status.Status != statusError {
		return upd, nil
	}

	var payload map[string]any
	resultURL := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, c.model, providerJobID)
	if err := c.do(ctx, http.MethodGet, resultURL, nil, &payload); err != nil {
		if status.Status == statusError {
			// The failure signal stands even when the detail fetch fails.
			upd.Error = "fal: request failed"
			return upd, nil
		}
		return domain.ProviderUpdate{}, err
	}
	upd.Payload = payload
	if s, ok := payload["status"].(string); ok {
		upd.ResultStatus = s
	}
	if status.Status == statusError {
		upd.Error = errorText(payload)
	}
	return upd, nil
}

// Cancel asks the queue to drop the request. Best-effort only.
func (c *Client) Cancel(ctx context.Context, providerJobID string) error {
	endpoint := fmt.Sprintf("%s/%s/requests/%s/cancel", c.baseURL, c.model, providerJobID)
	return c.do(ctx, http.MethodPut, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fal: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("fal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fal: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("fal: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("fal: request rejected")
		return fmt.Errorf("fal: http %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("fal: decode response: %w", err)
	}
	return nil
}

// errorText pulls a human-readable message out of a failed result payload.
func errorText(payload map[string]any) string {
	if msg, ok := lifecycle.ExtractErrorText(payload); ok {
		return msg
	}
	return "fal: request failed"
}

var _ providers.Adapter = (*Client)(nil)
