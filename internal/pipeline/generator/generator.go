// Package generator implements the per-section Content Generator (C3): it
// assembles a prompt from a frozen GenerationInput, invokes the model client,
// validates the result, and drives the retry/backoff policy described in
// §4.2/§4.3, persisting every transition through the pipeline store.
package generator

import (
	"context"
	"fmt"
	"math"
	"time"

	"docgen.io/pipeline/ent"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/domain"
	"docgen.io/pipeline/internal/modelclient"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pipeline/validator"
)

// Sleeper abstracts the backoff wait so tests can run the full retry loop
// without actually sleeping.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps for real, honoring context cancellation.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff computes the §4.3 deterministic retry delay: delay(attempt) =
// min(2^attempt, 16) seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	seconds := math.Pow(2, float64(attempt))
	if seconds > 16 {
		seconds = 16
	}
	return time.Duration(seconds) * time.Second
}

// Config carries the generation knobs sourced from PipelineConfig.
type Config struct {
	MaxRetries  int
	MaxTokens   int
	Temperature float64
}

// Generator drives one section's generate→validate→persist cycle, including
// retries, for the Section/Batch Generator stage (§4.2, §4.3).
type Generator struct {
	store       *store.Store
	model       modelclient.ModelClient
	constraints validator.Constraints
	cfg         Config
	sleeper     Sleeper
}

// New builds a Generator. sleeper may be nil, in which case RealSleeper is
// used.
func New(s *store.Store, model modelclient.ModelClient, constraints validator.Constraints, cfg Config, sleeper Sleeper) *Generator {
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	return &Generator{store: s, model: model, constraints: constraints, cfg: cfg, sleeper: sleeper}
}

// failureCodeFromValidation maps a validator failure type to the
// domain-level failure category used for retry eligibility (§4.3).
func failureCodeFromValidation(ft validator.FailureType) domain.FailureCategory {
	switch ft {
	case validator.FailureBoundsViolation:
		return domain.FailureBoundsViolation
	case validator.FailureStructuralViolation:
		return domain.FailureStructuralViolation
	case validator.FailureQualityFailure:
		return domain.FailureQuality
	default:
		return domain.FailureUnexpected
	}
}

// GenerateSection runs the full attempt loop for one (GenerationInput,
// SectionOutput) pair: generate, validate, and on a retry-eligible failure,
// back off and retry up to MaxRetries before marking the output
// terminally failed. The output row is returned in whatever state it
// finished in — validated or failed, both already immutable (§4.1 rule 3).
func (g *Generator) GenerateSection(ctx context.Context, in *ent.GenerationInput, out *ent.SectionOutput) (*ent.SectionOutput, error) {
	if _, err := g.store.MarkOutputInProgress(ctx, out.ID); err != nil {
		return nil, fmt.Errorf("mark output in progress: %w", err)
	}

	prompt := AssemblePrompt(in)
	maxRetries := out.MaxRetries
	if maxRetries == 0 {
		maxRetries = g.cfg.MaxRetries
	}

	var lastCode string

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, genErr := g.model.Generate(ctx, modelclient.GenerationRequest{
			Prompt:      prompt,
			MaxTokens:   g.cfg.MaxTokens,
			Temperature: g.cfg.Temperature,
		})

		var category domain.FailureCategory
		var code, message string
		var result validator.Result

		if genErr != nil {
			category = domain.FailureGeneration
			code = apperrors.CodeGenerationFailure
			message = genErr.Error()
		} else {
			result = validator.Validate(resp.Content, g.constraints)
			if result.IsValid {
				metadata := map[string]interface{}{
					"model_name":    resp.ModelName,
					"input_tokens":  resp.InputTokens,
					"output_tokens": resp.OutputTokens,
					"stop_reason":   resp.StopReason,
					"attempt":       attempt,
				}
				validationResult := map[string]interface{}{
					"is_valid":     result.IsValid,
					"content_hash": result.ContentHash,
				}
				return g.store.MarkOutputValidated(ctx, out.ID, result.ValidatedContent, result.ContentHash, validationResult, metadata)
			}
			category = failureCodeFromValidation(result.FailureType)
			if len(result.AllErrorCodes) > 0 {
				code = string(result.AllErrorCodes[0])
			} else {
				code = "validation_failed"
			}
			message = result.RejectionReason
		}

		lastCode = code

		if _, rErr := g.store.RecordRetryAttempt(ctx, out.ID, store.RetryAttemptRecord{
			AttemptNumber: attempt + 1,
			ErrorCode:     code,
			ErrorMessage:  message,
			Timestamp:     time.Now().UTC(),
		}); rErr != nil {
			return nil, fmt.Errorf("record retry attempt: %w", rErr)
		}

		if !category.IsRetryEligible() {
			return g.store.MarkOutputFailed(ctx, out.ID, code, string(category), map[string]interface{}{
				"attempt": attempt + 1,
				"message": message,
			})
		}

		if attempt == maxRetries {
			break
		}

		if err := g.sleeper.Sleep(ctx, Backoff(attempt)); err != nil {
			return nil, fmt.Errorf("backoff sleep: %w", err)
		}
	}

	// Retries exhausted on an eligible category: rewrite failure_category to
	// retry_exhaustion (§4.3 step 6) rather than reporting the last eligible
	// category.
	return g.store.MarkOutputFailed(ctx, out.ID, lastCode, string(domain.FailureRetryExhaustion), map[string]interface{}{
		"attempts_exhausted": maxRetries + 1,
	})
}
