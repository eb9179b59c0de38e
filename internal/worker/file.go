package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/store/model"
)

// executeFile runs a batch file job: line-oriented validation of an
// uploaded dataset. No AI calls and no token accounting are involved.
func (w *Worker) executeFile(ctx context.Context, job *model.Job) error {
	payload, err := jobs.DecodeFilePayload(job.Payload)
	if err != nil {
		return err
	}

	if err := w.store.Job().UpdateProgress(ctx, job.ID, 20, jobs.EncodeResult(jobs.FileProcessResult{
		Message: fmt.Sprintf("Processing %s", payload.FileName),
	})); err != nil {
		return err
	}

	var total, bad int
	scanner := bufio.NewScanner(bytes.NewReader(payload.FileData))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++
		if !strings.Contains(line, ",") {
			bad++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", payload.FileName, err)
	}

	return w.store.Job().Complete(ctx, job.ID, jobs.EncodeResult(jobs.FileProcessResult{
		Message:   "Completed",
		RowsTotal: total,
		RowsBad:   bad,
	}))
}
