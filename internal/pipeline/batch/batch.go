// Package batch implements the Batch Executor (C4): it fans a validated
// GenerationInputBatch out across the per-section Generator, isolating
// failures so one bad section never aborts its peers, and rolls the
// individual outcomes up into the parent SectionOutputBatch (§4.4).
package batch

import (
	"context"
	"fmt"
	"sync"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/generationinputbatch"
	"docgen.io/pipeline/ent/sectionoutput"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/pipeline/generator"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pkg/worker"
)

// SectionResult is one section's outcome within a batch run.
type SectionResult struct {
	SectionID int
	Output    *ent.SectionOutput
	Err       error
}

// Result is the aggregate outcome of one ExecuteBatch call.
type Result struct {
	OutputBatch *ent.SectionOutputBatch
	Sections    []SectionResult
	Completed   int
	Failed      int
}

// Executor drives generation for every input in a validated
// GenerationInputBatch.
type Executor struct {
	store *store.Store
	gen   *generator.Generator
	pool  *worker.Pool
}

// New builds a batch Executor. pool may be nil, in which case sections run
// sequentially in sequence_order; a non-nil pool fans section generation
// out across its bounded goroutines (§4.4 does not require ordering across
// sections, only failure isolation, so concurrent execution is sound).
func New(s *store.Store, gen *generator.Generator, pool *worker.Pool) *Executor {
	return &Executor{store: s, gen: gen, pool: pool}
}

// ExecuteBatch runs the full batch: precondition (input batch must be
// validated), duplicate rejection (an output batch already existing for
// this input batch fails duplicate_output_batch rather than re-executing —
// callers that want idempotent-by-reuse behavior across repeat calls check
// for an existing output batch themselves before calling in), per-section
// generation with failure isolation, and progress rollup (§4.4).
func (e *Executor) ExecuteBatch(ctx context.Context, inputBatchID string) (*Result, error) {
	inputBatch, err := e.store.GetInputBatch(ctx, inputBatchID)
	if err != nil {
		return nil, fmt.Errorf("get input batch %s: %w", inputBatchID, err)
	}
	if !inputBatch.IsImmutable || inputBatch.Status != generationinputbatch.StatusValidated {
		return nil, apperrors.ErrDocumentNotImmutable(inputBatchID)
	}

	if existing, err := e.store.OutputBatchByInputBatch(ctx, inputBatchID); err == nil {
		return nil, apperrors.Conflict(apperrors.CodeDuplicateOutputBatch, fmt.Sprintf("output batch %s already exists for input batch %s", existing.ID, inputBatchID))
	} else if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("check existing output batch: %w", err)
	}

	inputs, err := e.store.InputsByBatch(ctx, inputBatchID)
	if err != nil {
		return nil, fmt.Errorf("load inputs for batch %s: %w", inputBatchID, err)
	}

	outputBatch, err := e.store.CreateOutputBatch(ctx, inputBatchID, inputBatch.DocumentID, inputBatch.VersionIntent, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("create output batch: %w", err)
	}
	if _, err := e.store.MarkOutputBatchInProgress(ctx, outputBatch.ID); err != nil {
		return nil, fmt.Errorf("mark output batch in progress: %w", err)
	}

	outputs, err := e.store.CreatePendingOutputs(ctx, outputBatch.ID, inputs, 0)
	if err != nil {
		return nil, fmt.Errorf("create pending outputs: %w", err)
	}

	outputBySection := make(map[int]*ent.SectionOutput, len(outputs))
	for _, o := range outputs {
		outputBySection[o.SectionID] = o
	}

	results := e.runSections(ctx, inputs, outputBySection)

	completed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil || r.Output.Status != sectionoutput.StatusValidated {
			failed++
			continue
		}
		completed++
	}

	updatedBatch, err := e.store.UpdateBatchProgress(ctx, outputBatch.ID, completed, failed)
	if err != nil {
		return nil, fmt.Errorf("update batch progress: %w", err)
	}

	return &Result{OutputBatch: updatedBatch, Sections: results, Completed: completed, Failed: failed}, nil
}

// runSections drives GenerateSection for every input, either sequentially
// or fanned out across the worker pool, and returns results in input order
// regardless of completion order.
func (e *Executor) runSections(ctx context.Context, inputs []*ent.GenerationInput, outputBySection map[int]*ent.SectionOutput) []SectionResult {
	results := make([]SectionResult, len(inputs))

	if e.pool == nil {
		for i, in := range inputs {
			out := outputBySection[in.SectionID]
			finalOut, genErr := e.runSectionIsolated(ctx, in, out)
			results[i] = SectionResult{SectionID: in.SectionID, Output: finalOut, Err: genErr}
		}
		return results
	}

	var wg sync.WaitGroup
	for i, in := range inputs {
		i, in := i, in
		out := outputBySection[in.SectionID]
		wg.Add(1)
		submitErr := e.pool.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			finalOut, genErr := e.runSectionIsolated(taskCtx, in, out)
			results[i] = SectionResult{SectionID: in.SectionID, Output: finalOut, Err: genErr}
		})
		if submitErr != nil {
			wg.Done()
			results[i] = SectionResult{SectionID: in.SectionID, Err: fmt.Errorf("submit section %d to pool: %w", in.SectionID, submitErr)}
		}
	}
	wg.Wait()
	return results
}

// runSectionIsolated recovers from any panic raised by the generator so a
// single misbehaving section can never take down its peers or the batch
// (§4.4: failure isolation), reporting it as unexpected_error.
func (e *Executor) runSectionIsolated(ctx context.Context, in *ent.GenerationInput, out *ent.SectionOutput) (finalOut *ent.SectionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			failedOut, mErr := e.store.MarkOutputFailed(ctx, out.ID, "unexpected_error", "unexpected_error", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
			if mErr != nil {
				err = fmt.Errorf("recovered panic %v, then failed to record: %w", r, mErr)
				return
			}
			finalOut, err = failedOut, nil
		}
	}()
	return e.gen.GenerateSection(ctx, in, out)
}
