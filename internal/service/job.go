package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
	"github.com/draftforge/draftforge/pkg/metrics"
)

const (
	DefaultMaxGenerationsPerWindow int64 = 3
	DefaultRateWindow                    = 60 * time.Minute
)

type JobService struct {
	store          store.Store
	validator      *validator.Validate
	maxGenerations int64
	rateWindow     time.Duration
}

type JobServiceOption func(*JobService)

func WithRateLimit(maxGenerations int64, window time.Duration) JobServiceOption {
	return func(s *JobService) {
		s.maxGenerations = maxGenerations
		s.rateWindow = window
	}
}

func NewJobService(s store.Store, opts ...JobServiceOption) *JobService {
	svc := &JobService{
		store:          s,
		validator:      validator.New(),
		maxGenerations: DefaultMaxGenerationsPerWindow,
		rateWindow:     DefaultRateWindow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// JobStatus is the snapshot returned to pollers. Every job-row write is a
// single UPDATE, so the triple is always coherent.
type JobStatus struct {
	ID       uuid.UUID
	Type     string
	Status   string
	Progress int
	Message  string
	Error    string
}

// checkProject resolves the project and enforces tenant scope. Fails closed:
// a project belonging to another org is reported as not found.
func (s *JobService) checkProject(ctx context.Context, orgID string, projectID uuid.UUID) (*model.Project, error) {
	project, err := s.store.Project().Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrProjectNotFound(projectID)
		}
		return nil, err
	}
	if project.OrgID != orgID {
		return nil, NewErrProjectNotFound(projectID)
	}
	return project, nil
}

// Enqueue creates a single-stage generation job. Enqueueing the same stage
// while a job is queued or processing returns the existing job; callers must
// treat that as success.
func (s *JobService) Enqueue(ctx context.Context, orgID string, projectID uuid.UUID, payload jobs.StageGeneratePayload) (*model.Job, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, NewErrValidation(err.Error())
	}

	if _, err := s.checkProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	// regenerate when the stage already has at least one version
	jobType := model.JobTypeStageGenerate
	if output, err := s.store.Output().GetByStage(ctx, projectID, payload.Stage); err == nil && len(output.Versions) > 0 {
		jobType = model.JobTypeStageRegenerate
	}

	if existing, err := s.store.Job().FirstActive(ctx, orgID, projectID, jobType); err == nil {
		zap.S().Named("job_service").Debugf("returning active job %s for project %s stage %s", existing.ID, projectID, payload.Stage)
		return existing, nil
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	payload.Version = jobs.PayloadVersion
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		return nil, NewErrValidation(err.Error())
	}

	job, err := s.store.Job().Create(ctx, model.Job{
		ID:        uuid.New(),
		OrgID:     orgID,
		ProjectID: &projectID,
		Type:      jobType,
		Status:    model.JobStatusQueued,
		Payload:   raw,
	})
	if err != nil {
		return nil, err
	}
	metrics.IncreaseJobsQueuedMetric(job.Type)
	return job, nil
}

// EnqueueDocument admits a full document generation under the advisory lock
// and the rolling rate window. The lock scope is admission only; once the
// job row exists, the active-job check keeps further enqueues out for the
// job's whole lifetime.
func (s *JobService) EnqueueDocument(ctx context.Context, orgID string, projectID uuid.UUID, payload jobs.DocumentGeneratePayload) (*model.Job, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, NewErrValidation(err.Error())
	}

	if _, err := s.checkProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}
	release, err := s.store.GenerationLock().TryAcquire(ctx, orgID, projectID.String())
	if err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrLockNotAcquired) {
			return nil, NewErrGenerationInProgress(projectID)
		}
		return nil, err
	}
	defer release()

	// defense in depth beyond the lock: an active job means a generation is
	// still running even though its admission lock is long gone.
	if _, err := s.store.Job().FirstActive(ctx, orgID, projectID, model.JobTypeDocumentGenerate); err == nil {
		_, _ = store.Rollback(ctx)
		return nil, NewErrGenerationInProgress(projectID)
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	finished, err := s.store.Job().CountFinishedSince(ctx, orgID, projectID, model.JobTypeDocumentGenerate, time.Now().Add(-s.rateWindow))
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}
	if finished >= s.maxGenerations {
		_, _ = store.Rollback(ctx)
		return nil, NewErrRateLimited(projectID, s.maxGenerations, s.rateWindow)
	}

	payload.Version = jobs.PayloadVersion
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, NewErrValidation(err.Error())
	}

	job, err := s.store.Job().Create(ctx, model.Job{
		ID:        uuid.New(),
		OrgID:     orgID,
		ProjectID: &projectID,
		Type:      model.JobTypeDocumentGenerate,
		Status:    model.JobStatusQueued,
		Payload:   raw,
	})
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.IncreaseJobsQueuedMetric(job.Type)
	return job, nil
}

// EnqueueFile creates a batch file-processing job. File jobs are not
// idempotency sensitive; every call creates a new job.
func (s *JobService) EnqueueFile(ctx context.Context, orgID string, projectID uuid.UUID, payload jobs.FileProcessPayload) (*model.Job, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, NewErrValidation(err.Error())
	}

	if _, err := s.checkProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	payload.Version = jobs.PayloadVersion
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		return nil, NewErrValidation(err.Error())
	}

	job, err := s.store.Job().Create(ctx, model.Job{
		ID:        uuid.New(),
		OrgID:     orgID,
		ProjectID: &projectID,
		Type:      model.JobTypeFileProcess,
		Status:    model.JobStatusQueued,
		Payload:   raw,
	})
	if err != nil {
		return nil, err
	}
	metrics.IncreaseJobsQueuedMetric(job.Type)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, orgID string, jobID uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}
	if job.OrgID != orgID {
		return nil, NewErrJobNotFound(jobID)
	}
	return job, nil
}

func (s *JobService) GetStatus(ctx context.Context, orgID string, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.Get(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{
		ID:       job.ID,
		Type:     job.Type,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.Error != nil {
		status.Error = *job.Error
	}
	if len(job.Result) > 0 {
		var message struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(job.Result, &message); err == nil {
			status.Message = message.Message
		}
	}
	return status, nil
}

func (s *JobService) List(ctx context.Context, orgID string, filter *store.JobQueryFilter) (model.JobList, error) {
	if filter == nil {
		filter = store.NewJobQueryFilter()
	}
	return s.store.Job().List(ctx, filter.ByOrgID(orgID))
}

// Retry requeues a failed job with attempts reset and error cleared. Only
// failed jobs are eligible; done jobs never change status again.
func (s *JobService) Retry(ctx context.Context, orgID string, jobID uuid.UUID) (*model.Job, error) {
	job, err := s.Get(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		return nil, NewErrInvalidJobTransition(jobID, job.Status, model.JobStatusQueued)
	}

	retried, err := s.store.Job().Retry(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			// lost the race against another operator action
			return nil, NewErrInvalidJobTransition(jobID, job.Status, model.JobStatusQueued)
		}
		return nil, err
	}
	metrics.IncreaseJobsQueuedMetric(retried.Type)
	return retried, nil
}

// ForceFail is the operator action for stuck jobs. Valid from any non-done
// state.
func (s *JobService) ForceFail(ctx context.Context, orgID string, jobID uuid.UUID) (*model.Job, error) {
	job, err := s.Get(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusDone {
		return nil, NewErrInvalidJobTransition(jobID, job.Status, model.JobStatusFailed)
	}

	if err := s.store.Job().Fail(ctx, jobID, "force-failed by operator"); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrInvalidJobTransition(jobID, job.Status, model.JobStatusFailed)
		}
		return nil, err
	}
	return s.store.Job().Get(ctx, jobID)
}
