// Package provider is the client for the voice-call provider's REST API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
)

var (
	// ErrTranscriptUnavailable means the call exists but has no transcript yet.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	// ErrUnexpectedStatus wraps non-2xx answers from the provider.
	ErrUnexpectedStatus = errors.New("unexpected provider status")
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries call transcripts and recordings.
type Client struct {
	http   *resty.Client
	logger *logger.Logger
}

type callResponse struct {
	ID           string                            `json:"id"`
	Status       string                            `json:"status"`
	EndedReason  string                            `json:"endedReason"`
	Messages     []model.ProviderTranscriptMessage `json:"messages"`
	RecordingURL string                            `json:"recordingUrl"`
	Artifact     *model.ProviderArtifact           `json:"artifact"`
}

// New creates a provider client.
func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "persona-orchestrator/1.0")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: rc, logger: log}
}

// FetchMessages returns the call's transcript turns in order.
func (c *Client) FetchMessages(ctx context.Context, callID string) ([]model.TranscriptMessage, error) {
	call, err := c.getCall(ctx, "fetch_messages", callID)
	if err != nil {
		return nil, err
	}

	raw := call.Messages
	if len(raw) == 0 && call.Artifact != nil {
		raw = call.Artifact.Messages
	}
	messages := model.ToTranscriptMessages(raw)
	if len(messages) == 0 {
		return nil, fmt.Errorf("call %s: %w", callID, ErrTranscriptUnavailable)
	}
	return messages, nil
}

// FetchRecordingURL returns the call's recording locator, or "" if there is none.
func (c *Client) FetchRecordingURL(ctx context.Context, callID string) (string, error) {
	call, err := c.getCall(ctx, "fetch_recording", callID)
	if err != nil {
		return "", err
	}
	if call.RecordingURL != "" {
		return call.RecordingURL, nil
	}
	if call.Artifact != nil {
		return call.Artifact.RecordingURL, nil
	}
	return "", nil
}

func (c *Client) getCall(ctx context.Context, operation, callID string) (*callResponse, error) {
	if callID == "" {
		return nil, errors.New("call id is required")
	}

	start := time.Now()
	var call callResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", callID).
		SetResult(&call).
		Get("/call/{id}")
	if err != nil {
		metrics.RecordProviderRequest(operation, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to query provider call API: %w", err)
	}
	metrics.RecordProviderRequest(operation, strconv.Itoa(resp.StatusCode()), time.Since(start).Seconds())

	if resp.IsError() {
		c.logger.Warn("provider call API error",
			zap.String("call_id", callID),
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnexpectedStatus, resp.StatusCode(), truncate(resp.String(), 200))
	}

	return &call, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
