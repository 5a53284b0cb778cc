package modelclient

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// AnthropicClient is the production ModelClient, wrapping the official SDK
// client with a circuit breaker so a failing provider stops taking new
// generation attempts instead of exhausting every section's retry budget
// against a dead endpoint.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// AnthropicConfig configures the production client.
type AnthropicConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// NewAnthropicClient constructs a circuit-breaker-wrapped Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "modelclient.anthropic",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		breaker: breaker,
	}
}

// Generate implements ModelClient. Every call (success or failure) updates
// the breaker so a string of generation_failures trips it before every
// retry budget in the batch is separately burned against a dead endpoint.
func (c *AnthropicClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		msg, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic messages.new: %w", err)
		}
		return msg, nil
	})
	if err != nil {
		return nil, err
	}

	msg := result.(*anthropic.Message)
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &GenerationResponse{
		Content:      text,
		ModelName:    string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}
