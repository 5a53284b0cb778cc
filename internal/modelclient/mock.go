package modelclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// DeterministicClient synthesizes content from the prompt's hash so repeated
// generation attempts with identical inputs always produce identical output.
// Used by the demo seeder and by tests asserting pipeline determinism.
type DeterministicClient struct {
	ModelName string
}

// NewDeterministicClient returns a DeterministicClient.
func NewDeterministicClient() *DeterministicClient {
	return &DeterministicClient{ModelName: "deterministic-stub"}
}

// Generate implements ModelClient.
func (c *DeterministicClient) Generate(_ context.Context, req GenerationRequest) (*GenerationResponse, error) {
	sum := sha256.Sum256([]byte(req.Prompt))
	digest := hex.EncodeToString(sum[:8])
	content := fmt.Sprintf("Generated content for prompt digest %s.", digest)
	return &GenerationResponse{
		Content:      content,
		ModelName:    c.ModelName,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(content) / 4,
		StopReason:   "end_turn",
	}, nil
}

// ScriptedResponse is one queued response or error for ScriptedClient.
type ScriptedResponse struct {
	Response *GenerationResponse
	Err      error
}

// ScriptedClient replays a fixed sequence of responses, used to exercise
// the generator's retry loop against specific failure/success sequences.
type ScriptedClient struct {
	mu     sync.Mutex
	script []ScriptedResponse
	calls  []GenerationRequest
}

// NewScriptedClient returns a ScriptedClient that replays script in order.
func NewScriptedClient(script ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{script: script}
}

// Generate implements ModelClient.
func (c *ScriptedClient) Generate(_ context.Context, req GenerationRequest) (*GenerationResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if len(c.script) == 0 {
		return nil, fmt.Errorf("modelclient: scripted client exhausted")
	}
	next := c.script[0]
	c.script = c.script[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Response, nil
}

// Calls returns every request observed so far, for test assertions.
func (c *ScriptedClient) Calls() []GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]GenerationRequest, len(c.calls))
	copy(out, c.calls)
	return out
}
