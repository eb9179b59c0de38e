package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
	"github.com/draftforge/draftforge/pkg/metrics"
)

const systemPrompt = "You are a professional business writer. Write clear, well-structured prose for the requested document section. Respond with the section content only."

// executeStage runs a single-stage generation job: one section call, one
// output version, one usage record. On failure nothing is persisted.
func (w *Worker) executeStage(ctx context.Context, job *model.Job) error {
	payload, err := jobs.DecodeStagePayload(job.Payload)
	if err != nil {
		return err
	}
	if job.ProjectID == nil {
		return fmt.Errorf("stage job %s has no project", job.ID)
	}

	if _, err := w.usage.CheckBudget(ctx, job.OrgID, int64(w.generator.maxTokens)); err != nil {
		return err
	}

	if err := w.store.Job().UpdateProgress(ctx, job.ID, 20, jobs.EncodeResult(jobs.StageResult{
		Message: fmt.Sprintf("Generating %s", payload.Stage),
	})); err != nil {
		return err
	}

	resp, latency, err := w.generator.Generate(ctx, systemPrompt, stagePrompt(payload.Stage, payload.Inputs))
	if err != nil {
		return fmt.Errorf("generating stage %s: %w", payload.Stage, err)
	}

	ctx, err = w.store.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	output, err := w.findOrCreateOutput(ctx, *job.ProjectID, payload.Stage)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	version, err := w.store.Output().AddVersion(ctx, output.ID, model.OutputVersion{
		Content:      jobs.EncodeResult(map[string]string{"text": resp.Content}),
		Provider:     w.provider,
		Model:        w.model,
		Type:         model.VersionTypeGenerated,
		Status:       model.VersionStatusGenerated,
		LatencyMs:    latency.Milliseconds(),
		TokensIn:     resp.TokensIn,
		TokensOut:    resp.TokensOut,
		Preset:       payload.Preset,
		Multiplier:   jobs.Multiplier(payload.Preset),
		BilledTokens: jobs.BilledTokens(resp.TokensTotal(), payload.Preset),
	})
	if err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	if _, err := w.usage.RecordUsage(ctx, job.OrgID, service.UsageEvent{
		JobID:     &job.ID,
		Stage:     payload.Stage,
		Provider:  w.provider,
		Model:     w.model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Preset:    payload.Preset,
	}); err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	if err := w.store.Job().Complete(ctx, job.ID, jobs.EncodeResult(jobs.StageResult{
		Message:   "Completed",
		OutputID:  output.ID,
		VersionID: version.ID,
		Version:   version.Version,
	})); err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	if _, err := store.Commit(ctx); err != nil {
		return err
	}

	metrics.AddBilledTokensMetric(payload.Preset, jobs.BilledTokens(resp.TokensTotal(), payload.Preset))
	return nil
}

func (w *Worker) findOrCreateOutput(ctx context.Context, projectID uuid.UUID, stage string) (*model.Output, error) {
	output, err := w.store.Output().GetByStage(ctx, projectID, stage)
	if err == nil {
		return output, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	output, err = w.store.Output().Create(ctx, model.Output{
		ID:        uuid.New(),
		ProjectID: projectID,
		Stage:     stage,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return w.store.Output().GetByStage(ctx, projectID, stage)
		}
		return nil, err
	}
	return output, nil
}

func stagePrompt(stage string, inputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the %q section of the document.", strings.ReplaceAll(stage, "_", " "))

	if len(inputs) > 0 {
		b.WriteString("\n\nContext:\n")
		keys := make([]string, 0, len(inputs))
		for k := range inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, inputs[k])
		}
	}
	return b.String()
}
