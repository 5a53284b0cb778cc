package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/modelclient"
	"docgen.io/pipeline/internal/pipeline/generator"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pipeline/validator"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/pkg/worker"
	"docgen.io/pipeline/internal/testutil"
)

func init() {
	_ = logger.Init("error", "json")
}

func permissiveConstraints() validator.Constraints {
	return validator.Constraints{
		MinLength:  1,
		MaxLength:  5000,
		Structural: validator.DefaultStructuralConfig(),
		Quality:    validator.DefaultQualityConfig(),
	}
}

// pathFailingClient fails generation for any prompt containing a given
// substring, succeeding for everything else — used to exercise §4.4's
// failure-isolation guarantee.
type pathFailingClient struct {
	failSubstr string
}

func (c *pathFailingClient) Generate(ctx context.Context, req modelclient.GenerationRequest) (*modelclient.GenerationResponse, error) {
	if strings.Contains(req.Prompt, c.failSubstr) {
		return nil, fmt.Errorf("simulated model failure for %s", c.failSubstr)
	}
	return &modelclient.GenerationResponse{Content: "A sufficiently long, original paragraph of generated content.", ModelName: "test"}, nil
}

type batchRig struct {
	store *store.Store
}

func newBatchRig(t *testing.T) *batchRig {
	t.Helper()
	client := testutil.OpenEntPostgres(t, "batch")
	return &batchRig{store: store.New(client)}
}

// seedValidatedInputBatch creates a fully validated GenerationInputBatch
// with n dynamic-section inputs, ready for ExecuteBatch.
func (r *batchRig) seedValidatedInputBatch(t *testing.T, ctx context.Context, n int) string {
	t.Helper()
	tmpl, err := r.store.CreateTemplate(ctx, "batch-rig")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tv, err := r.store.CreateTemplateVersion(ctx, tmpl.ID, 1, "templates/"+tmpl.ID+"/1/source.docx")
	if err != nil {
		t.Fatalf("create template version: %v", err)
	}
	doc, err := r.store.CreateDocument(ctx, tv.ID)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	specs := make([]store.GenerationInputSpec, n)
	names := []string{"introduction", "background", "conclusion"}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("section-%d", i)
		if i < len(names) {
			name = names[i]
		}
		specs[i] = store.GenerationInputSpec{
			SectionID:      i + 1,
			SequenceOrder:  i,
			StructuralPath: fmt.Sprintf("body/%d", i),
			PromptConfig:   map[string]interface{}{"prompt_template": fmt.Sprintf("Write the %s paragraph.", name)},
			InputHash:      fmt.Sprintf("hash-%d", i),
		}
	}
	inputBatch, _, err := r.store.CreateInputBatch(ctx, doc.ID, tv.ID, 1, specs)
	if err != nil {
		t.Fatalf("create input batch: %v", err)
	}
	if _, err := r.store.ValidateInputBatch(ctx, inputBatch.ID, "batch-content-hash"); err != nil {
		t.Fatalf("validate input batch: %v", err)
	}
	return inputBatch.ID
}

func TestExecuteBatch_RejectsUnvalidatedInputBatch(t *testing.T) {
	ctx := context.Background()
	rig := newBatchRig(t)

	tmpl, err := rig.store.CreateTemplate(ctx, "unvalidated")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tv, err := rig.store.CreateTemplateVersion(ctx, tmpl.ID, 1, "templates/"+tmpl.ID+"/1/source.docx")
	if err != nil {
		t.Fatalf("create template version: %v", err)
	}
	doc, err := rig.store.CreateDocument(ctx, tv.ID)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	inputBatch, _, err := rig.store.CreateInputBatch(ctx, doc.ID, tv.ID, 1, []store.GenerationInputSpec{
		{SectionID: 1, SequenceOrder: 0, StructuralPath: "body/0", InputHash: "h"},
	})
	if err != nil {
		t.Fatalf("create input batch: %v", err)
	}

	gen := generator.New(rig.store, &pathFailingClient{failSubstr: "never-matches"}, permissiveConstraints(), generator.Config{MaxRetries: 0, MaxTokens: 500}, nil)
	exec := New(rig.store, gen, nil)

	if _, err := exec.ExecuteBatch(ctx, inputBatch.ID); err == nil {
		t.Fatal("expected ExecuteBatch to reject a pending (not yet validated) input batch")
	}
}

func TestExecuteBatch_RejectsDuplicateOutputBatch(t *testing.T) {
	ctx := context.Background()
	rig := newBatchRig(t)
	inputBatchID := rig.seedValidatedInputBatch(t, ctx, 2)

	gen := generator.New(rig.store, &pathFailingClient{failSubstr: "never-matches"}, permissiveConstraints(), generator.Config{MaxRetries: 0, MaxTokens: 500}, nil)
	exec := New(rig.store, gen, nil)

	if _, err := exec.ExecuteBatch(ctx, inputBatchID); err != nil {
		t.Fatalf("first ExecuteBatch: %v", err)
	}

	_, err := exec.ExecuteBatch(ctx, inputBatchID)
	if err == nil {
		t.Fatal("expected the second ExecuteBatch call for the same input batch to fail duplicate_output_batch")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an apperrors.AppError, got %T: %v", err, err)
	}
	if appErr.Code != "DUPLICATE_OUTPUT_BATCH" {
		t.Errorf("error code = %s, want DUPLICATE_OUTPUT_BATCH", appErr.Code)
	}
	if appErr.HTTPStatus != 409 {
		t.Errorf("http status = %d, want 409", appErr.HTTPStatus)
	}
}

func TestExecuteBatch_SequentialAllSucceed(t *testing.T) {
	ctx := context.Background()
	rig := newBatchRig(t)
	inputBatchID := rig.seedValidatedInputBatch(t, ctx, 3)

	gen := generator.New(rig.store, &pathFailingClient{failSubstr: "never-matches"}, permissiveConstraints(), generator.Config{MaxRetries: 0, MaxTokens: 500}, nil)
	exec := New(rig.store, gen, nil)

	result, err := exec.ExecuteBatch(ctx, inputBatchID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if result.Completed != 3 || result.Failed != 0 {
		t.Fatalf("completed=%d failed=%d, want 3/0", result.Completed, result.Failed)
	}
	if result.OutputBatch.CompletedSections != 3 || !result.OutputBatch.IsImmutable {
		t.Errorf("output batch = %+v, want completed=3 immutable=true", result.OutputBatch)
	}
}

func TestExecuteBatch_FannedOutAcrossPool(t *testing.T) {
	ctx := context.Background()
	rig := newBatchRig(t)
	inputBatchID := rig.seedValidatedInputBatch(t, ctx, 3)

	pools, err := worker.NewPools(ctx, worker.PoolConfig{GeneralPoolSize: 4, ModelPoolSize: 4})
	if err != nil {
		t.Fatalf("NewPools: %v", err)
	}
	defer pools.Shutdown()

	gen := generator.New(rig.store, &pathFailingClient{failSubstr: "never-matches"}, permissiveConstraints(), generator.Config{MaxRetries: 0, MaxTokens: 500}, nil)
	exec := New(rig.store, gen, pools.General)

	result, err := exec.ExecuteBatch(ctx, inputBatchID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if result.Completed != 3 || result.Failed != 0 {
		t.Fatalf("completed=%d failed=%d, want 3/0", result.Completed, result.Failed)
	}
}

func TestExecuteBatch_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	rig := newBatchRig(t)
	inputBatchID := rig.seedValidatedInputBatch(t, ctx, 3)

	gen := generator.New(rig.store, &pathFailingClient{failSubstr: "background"}, permissiveConstraints(), generator.Config{MaxRetries: 0, MaxTokens: 500}, nil)
	exec := New(rig.store, gen, nil)

	result, err := exec.ExecuteBatch(ctx, inputBatchID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if result.Completed != 2 || result.Failed != 1 {
		t.Fatalf("completed=%d failed=%d, want 2/1 (one section's failure must not affect its peers)", result.Completed, result.Failed)
	}
	if result.OutputBatch.CompletedSections != 2 || result.OutputBatch.FailedSections != 1 {
		t.Errorf("output batch = %+v, want completed=2 failed=1", result.OutputBatch)
	}
}
