package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
	"sorajobs/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("wavespeed: api key is required")

// Options configures the WaveSpeed prediction client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client talks to the WaveSpeed prediction API. Unlike the fal queue, a
// single result endpoint carries both the status token and the outputs.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

type predictionData struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Error   string   `json:"error"`
	Outputs []string `json:"outputs"`
}

type predictionEnvelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    predictionData `json:"data"`
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
		baseURL = "https://api.wavespeed.ai"
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = "wavespeed-ai/wan-2.1/i2v-480p"
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
func (c *Client) Name() domain.Provider { return domain.ProviderWaveSpeed }

// Submit creates a prediction and returns its id.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (providers.Submission, error) {
	body := map[string]any{"prompt": req.Prompt}
	if req.ImageURL != "" {
		body["image"] = req.ImageURL
	}
	if req.WebhookURL != "" {
		body["webhook_url"] = req.WebhookURL
	}
	endpoint := fmt.Sprintf("%s/api/v3/%s", c.baseURL, c.model)
	envelope, _, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return providers.Submission{}, err
	}
	if envelope.Data.ID == "" {
		return providers.Submission{}, fmt.Errorf("wavespeed: submission returned no prediction id: %w", domain.ErrProviderFailure)
	}
	rawStatus := envelope.Data.Status
	if rawStatus == "" {
		rawStatus = "created"
	}
	c.logger.Debug().Str("prediction_id", envelope.Data.ID).Str("status", rawStatus).Msg("wavespeed: submitted")
	return providers.Submission{ProviderJobID: envelope.Data.ID, RawStatus: rawStatus}, nil
}

// Poll fetches the prediction result. Status and outputs arrive together, so
// the raw payload doubles as the result payload for asset extraction.
func (c *Client) Poll(ctx context.Context, providerJobID string) (domain.ProviderUpdate, error) {
	endpoint := fmt.Sprintf("%s/api/v3/predictions/%s/result", c.baseURL, providerJobID)
	envelope, payload, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ProviderUpdate{}, err
	}
	return domain.ProviderUpdate{
		Status:  envelope.Data.Status,
		Error:   envelope.Data.Error,
		Payload: payload,
	}, nil
}

// Cancel asks WaveSpeed to stop the prediction. Best-effort only.
func (c *Client) Cancel(ctx context.Context, providerJobID string) error {
	endpoint := fmt.Sprintf("%s/api/v3/predictions/%s/cancel", c.baseURL, providerJobID)
	_, _, err := c.do(ctx, http.MethodPost, endpoint, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (predictionEnvelope, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("wavespeed: request rejected")
		return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: http %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	var envelope predictionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return predictionEnvelope{}, nil, fmt.Errorf("wavespeed: decode response: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = nil
	}
	return envelope, payload, nil
}

var _ providers.Adapter = (*Client)(nil)
