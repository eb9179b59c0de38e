// Package worker drains the job store and drives generation jobs to a
// terminal state. A single worker process is assumed; overlap between two
// claimants is prevented by the atomic queued -> processing update, not by
// worker coordination.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
	"github.com/draftforge/draftforge/pkg/metrics"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

type Worker struct {
	store     store.Store
	usage     *service.UsageService
	generator *SectionGenerator
	provider  string
	model     string

	id           string
	pollInterval time.Duration
}

func New(s store.Store, usage *service.UsageService, generator *SectionGenerator, provider, model string) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		store:        s,
		usage:        usage,
		generator:    generator,
		provider:     provider,
		model:        model,
		id:           fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		pollInterval: DefaultPollInterval,
	}
}

func (w *Worker) WithPollInterval(d time.Duration) *Worker {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

// Run polls the job store until the context is cancelled. The poll interval
// is jittered so several environments sharing a database do not align.
func (w *Worker) Run(ctx context.Context) error {
	zap.S().Named("worker").Infof("worker %s started, polling every %s", w.id, w.pollInterval)

	pollTicker := jitterbug.New(w.pollInterval, &jitterbug.Norm{Stdev: 100 * time.Millisecond, Mean: 0})
	defer pollTicker.Stop()

	heartbeat := time.NewTicker(DefaultHeartbeatInterval)
	defer heartbeat.Stop()
	metrics.UpdateWorkerHeartbeatMetric(time.Now())

	for {
		select {
		case <-ctx.Done():
			// cancellation is the normal shutdown path, not an error
			zap.S().Named("worker").Infof("worker %s stopping", w.id)
			return nil
		case <-heartbeat.C:
			metrics.UpdateWorkerHeartbeatMetric(time.Now())
		case <-pollTicker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and executes queued jobs until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		next, err := w.store.Job().NextQueued(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrRecordNotFound) {
				zap.S().Named("worker").Errorf("polling queue: %v", err)
			}
			return
		}

		claimed, err := w.store.Job().Claim(ctx, next.ID, w.id)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				// another claimant won the conditional update; move on
				continue
			}
			zap.S().Named("worker").Errorf("claiming job %s: %v", next.ID, err)
			return
		}

		w.execute(ctx, claimed)
	}
}

// RunInline is the low-latency fast path: claim and execute one job
// directly from the enqueue call. It converges on the same execution and
// state machine as the polling path.
func (w *Worker) RunInline(ctx context.Context, jobID uuid.UUID) error {
	claimed, err := w.store.Job().Claim(ctx, jobID, w.id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			// already claimed or finished elsewhere
			return nil
		}
		return err
	}
	w.execute(ctx, claimed)
	return nil
}

// execute drives one claimed job to done or failed. In-job errors never
// propagate past this boundary; they end up on the job row.
func (w *Worker) execute(ctx context.Context, job *model.Job) {
	log := zap.S().Named("worker").With("job_id", job.ID, "job_type", job.Type)
	log.Infof("executing job (attempt %d)", job.Attempts)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("job panicked: %v", r)
			w.fail(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	var err error
	switch job.Type {
	case model.JobTypeStageGenerate, model.JobTypeStageRegenerate:
		err = w.executeStage(ctx, job)
	case model.JobTypeDocumentGenerate:
		err = w.executeDocument(ctx, job)
	case model.JobTypeFileProcess:
		err = w.executeFile(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	if err != nil {
		log.Errorf("job failed: %v", err)
		w.fail(ctx, job, err.Error())
		return
	}

	log.Infof("job done")
	metrics.IncreaseJobsProcessedMetric(job.Type, model.JobStatusDone)
}

func (w *Worker) fail(ctx context.Context, job *model.Job, message string) {
	if err := w.store.Job().Fail(ctx, job.ID, message); err != nil {
		zap.S().Named("worker").Errorf("marking job %s failed: %v", job.ID, err)
	}
	metrics.IncreaseJobsProcessedMetric(job.Type, model.JobStatusFailed)
}
