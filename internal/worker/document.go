package worker

import (
	"context"
	"fmt"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
	"github.com/draftforge/draftforge/pkg/metrics"
)

// DocumentStage is the output stage key holding full document snapshots.
const DocumentStage = "document"

// executeDocument runs a multi-section document job. Sections run in their
// declared order; a section failure is recorded in its content and in the
// failure count, never aborting the remaining sections. Only the final
// snapshot step failing fails the job.
func (w *Worker) executeDocument(ctx context.Context, job *model.Job) error {
	payload, err := jobs.DecodeDocumentPayload(job.Payload)
	if err != nil {
		return err
	}
	if job.ProjectID == nil {
		return fmt.Errorf("document job %s has no project", job.ID)
	}

	sections := jobs.DocumentSections
	estimate := int64(w.generator.maxTokens) * int64(len(sections))
	if _, err := w.usage.CheckBudget(ctx, job.OrgID, estimate); err != nil {
		return err
	}

	if err := w.store.Job().UpdateProgress(ctx, job.ID, 20, jobs.EncodeResult(jobs.DocumentResult{
		Message: "Preparing document generation",
	})); err != nil {
		return err
	}

	var (
		successCount int
		failureCount int
		tokensIn     int64
		tokensOut    int64
		latencyMs    int64
		contents     = make(map[string]string, len(sections))
	)

	for i, section := range sections {
		// progress and the current section name are written before the call
		// so pollers see live status, not just the final state
		if err := w.store.Job().UpdateProgress(ctx, job.ID, jobs.SectionProgress(i, len(sections)), jobs.EncodeResult(jobs.DocumentResult{
			Message:      jobs.SectionMessage(section, i, len(sections)),
			SuccessCount: successCount,
			FailureCount: failureCount,
		})); err != nil {
			return err
		}

		resp, latency, err := w.generator.Generate(ctx, systemPrompt, stagePrompt(section.Key, payload.Inputs))
		latencyMs += latency.Milliseconds()
		if err != nil {
			failureCount++
			contents[section.Key] = fmt.Sprintf("[generation failed: %s]", err)
			continue
		}

		successCount++
		contents[section.Key] = resp.Content
		tokensIn += resp.TokensIn
		tokensOut += resp.TokensOut
	}

	// everything below is infrastructure: a failure here fails the job even
	// though section results were already produced
	ctx, err = w.store.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	output, err := w.findOrCreateOutput(ctx, *job.ProjectID, DocumentStage)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	version, err := w.store.Output().AddVersion(ctx, output.ID, model.OutputVersion{
		Content:      jobs.EncodeResult(map[string]any{"sections": contents}),
		Provider:     w.provider,
		Model:        w.model,
		Type:         model.VersionTypeGenerated,
		Status:       model.VersionStatusGenerated,
		LatencyMs:    latencyMs,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		Preset:       payload.Preset,
		Multiplier:   jobs.Multiplier(payload.Preset),
		BilledTokens: jobs.BilledTokens(tokensIn+tokensOut, payload.Preset),
	})
	if err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	if _, err := w.usage.RecordUsage(ctx, job.OrgID, service.UsageEvent{
		JobID:     &job.ID,
		Stage:     DocumentStage,
		Provider:  w.provider,
		Model:     w.model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Preset:    payload.Preset,
	}); err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	// the job ran to completion: done even when every section failed. The
	// counts tell the product layer how partial the document is.
	if err := w.store.Job().Complete(ctx, job.ID, jobs.EncodeResult(jobs.DocumentResult{
		Message:       "Completed",
		SuccessCount:  successCount,
		FailureCount:  failureCount,
		LatestVersion: version.Version,
		OutputID:      output.ID,
	})); err != nil {
		_, _ = store.Rollback(ctx)
		return err
	}

	if _, err := store.Commit(ctx); err != nil {
		return err
	}

	metrics.AddBilledTokensMetric(payload.Preset, jobs.BilledTokens(tokensIn+tokensOut, payload.Preset))
	return nil
}
