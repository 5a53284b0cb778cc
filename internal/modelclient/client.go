// Package modelclient abstracts the language model invocation used by the
// per-section content generator (C3). Anti-Corruption Layer: composition
// root binds a production client or a scripted/deterministic mock.
package modelclient

import "context"

// GenerationRequest carries a fully-assembled prompt plus generation knobs.
type GenerationRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	// CorrelationID threads through to provider call metadata/tracing.
	CorrelationID string
}

// GenerationResponse is the model's raw completion plus bookkeeping.
type GenerationResponse struct {
	Content      string
	ModelName    string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// ModelClient abstracts a single-turn text generation call.
type ModelClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}
