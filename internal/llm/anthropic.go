package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"

	"github.com/sqlmedic/sqlmedic/internal/metrics"
)

const (
	defaultAnthropicModel = anthropic.ModelClaudeSonnet4_5_20250929
	defaultMaxTokens      = 4096
	maxAPITries           = 3
)

// AnthropicClient implements Client over the Anthropic Messages API.
// The API key is read from the environment by the SDK (ANTHROPIC_API_KEY).
type AnthropicClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client for the given model. Empty model
// or non-positive maxTokens fall back to defaults.
func NewAnthropicClient(log *slog.Logger, model anthropic.Model, maxTokens int64) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		log:       log,
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends one prompt pair and returns the model's text response.
// Rate limits and server-side failures are retried with exponential
// backoff; request errors (4xx) are returned immediately.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if options.CacheControl {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	start := time.Now()
	attempt := 1
	text, err := backoff.Retry(ctx, func() (string, error) {
		if attempt > 1 {
			c.log.Warn("llm: anthropic call failed, retrying", "attempt", attempt, "model", c.model)
		}
		attempt++

		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    []anthropic.TextBlockParam{system},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			if !retryableAPIError(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		for _, block := range msg.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", backoff.Permanent(fmt.Errorf("no text content in response (stop reason %q)", msg.StopReason))
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxAPITries))

	duration := time.Since(start)
	metrics.LLMRequestDuration.Observe(duration.Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		c.log.Error("llm: anthropic call failed", "model", c.model, "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	metrics.LLMRequestsTotal.WithLabelValues("ok").Inc()
	c.log.Debug("llm: anthropic call completed", "model", c.model, "duration", duration, "responseLen", len(text))
	return text, nil
}

// retryableAPIError reports whether an API error is worth retrying:
// rate limits, timeouts, and server-side failures.
func retryableAPIError(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429, apierr.StatusCode == 408:
			return true
		case apierr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// transport-level failure with no HTTP status
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var _ Client = (*AnthropicClient)(nil)
