// Package llm wraps the Anthropic API behind the two capabilities the rest
// of deputy consumes: raw text completion and structured JSON completion.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/deputybot/deputy/internal/telemetry"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second

	// Cap on in-flight API calls if callers ever dispatch concurrently.
	maxConcurrentCalls = 4
)

// ErrAPIKeyRequired is returned when no Anthropic API key is available.
var ErrAPIKeyRequired = errors.New("API key required")

// Client is a retrying Anthropic API client.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	sem            *semaphore.Weighted
}

// New creates a Client. Env var ANTHROPIC_API_KEY takes precedence over the
// explicit apiKey.
func New(apiKey, model string) (*Client, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or anthropic_api_key in config", ErrAPIKeyRequired)
	}

	llmMetricsOnce.Do(initLLMMetrics)

	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		sem:            semaphore.NewWeighted(maxConcurrentCalls),
	}, nil
}

// Complete sends a prompt and returns the model's text response. The system
// instruction, when non-empty, is folded into the start of the user turn.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if system != "" {
		prompt = system + "\n\n" + prompt
	}
	return c.callWithRetry(ctx, prompt)
}

// CompleteJSON sends a prompt expecting a JSON object in the response and
// unmarshals it into out. Conversational wrapper text around the object is
// tolerated (first '{' to last '}').
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string, out any) error {
	raw, err := c.Complete(ctx, system, prompt)
	if err != nil {
		return err
	}
	return ExtractJSON(raw, out)
}

// ExtractJSON parses the JSON object embedded in raw into out.
func ExtractJSON(raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	return nil
}

// llmMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var llmMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var llmMetricsOnce sync.Once

func initLLMMetrics() {
	m := telemetry.Meter("github.com/deputybot/deputy/llm")
	llmMetrics.inputTokens, _ = m.Int64Counter("deputy.llm.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.outputTokens, _ = m.Int64Counter("deputy.llm.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.duration, _ = m.Float64Histogram("deputy.llm.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	tracer := telemetry.Tracer("github.com/deputybot/deputy/llm")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(attribute.String("deputy.llm.model", string(c.model)))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := c.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("deputy.llm.model", string(c.model))
			if llmMetrics.inputTokens != nil {
				llmMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("deputy.llm.input_tokens", message.Usage.InputTokens),
				attribute.Int64("deputy.llm.output_tokens", message.Usage.OutputTokens),
				attribute.Int("deputy.llm.attempts", attempt+1),
			)

			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("failed after %d retries: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
