package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftforge/draftforge/internal/store/model"
)

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error)
	// FirstActive returns the oldest queued-or-processing job matching the
	// scope, or ErrRecordNotFound. Used by the idempotent enqueue path.
	FirstActive(ctx context.Context, orgID string, projectID uuid.UUID, jobType string) (*model.Job, error)
	// CountFinishedSince counts done-or-failed jobs of the given type created
	// after the cutoff. This is the rate-window query invariant.
	CountFinishedSince(ctx context.Context, orgID string, projectID uuid.UUID, jobType string, since time.Time) (int64, error)
	// NextQueued returns the oldest queued job, or ErrRecordNotFound.
	NextQueued(ctx context.Context) (*model.Job, error)
	// Claim performs the atomic queued -> processing transition. A second
	// claimant observes zero affected rows and gets ErrRecordNotFound.
	Claim(ctx context.Context, id uuid.UUID, workerID string) (*model.Job, error)
	// UpdateProgress writes progress and the partial result in one UPDATE so
	// status pollers never see a half-written pair.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, result []byte) error
	Complete(ctx context.Context, id uuid.UUID, result []byte) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
	// Retry transitions failed -> queued, resetting attempts and clearing the
	// error and lock fields. Only failed jobs are eligible.
	Retry(ctx context.Context, id uuid.UUID) (*model.Job, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs).Order("created_at DESC")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (s *JobStore) FirstActive(ctx context.Context, orgID string, projectID uuid.UUID, jobType string) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).
		Where("org_id = ? AND project_id = ? AND type = ? AND status IN ?",
			orgID, projectID, jobType, []string{model.JobStatusQueued, model.JobStatusProcessing}).
		Order("created_at ASC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) CountFinishedSince(ctx context.Context, orgID string, projectID uuid.UUID, jobType string, since time.Time) (int64, error) {
	var count int64
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("org_id = ? AND project_id = ? AND type = ? AND status IN ? AND created_at >= ?",
			orgID, projectID, jobType, []string{model.JobStatusDone, model.JobStatusFailed}, since).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *JobStore) NextQueued(ctx context.Context) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).
		Where("status = ?", model.JobStatusQueued).
		Order("created_at ASC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, workerID string) (*model.Job, error) {
	now := time.Now()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusQueued).
		Updates(map[string]any{
			"status":     model.JobStatusProcessing,
			"started_at": now,
			"locked_at":  now,
			"locked_by":  workerID,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, id)
}

func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, result []byte) error {
	updates := map[string]any{"progress": progress}
	if result != nil {
		updates["result"] = result
	}
	tx := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, result []byte) error {
	now := time.Now()
	tx := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]any{
			"status":       model.JobStatusDone,
			"progress":     100,
			"result":       result,
			"error":        nil,
			"completed_at": now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := time.Now()
	tx := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status != ?", id, model.JobStatusDone).
		Updates(map[string]any{
			"status":       model.JobStatusFailed,
			"error":        errorMessage,
			"completed_at": now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) Retry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	tx := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusFailed).
		Updates(map[string]any{
			"status":       model.JobStatusQueued,
			"attempts":     0,
			"error":        nil,
			"progress":     0,
			"started_at":   nil,
			"completed_at": nil,
			"locked_at":    nil,
			"locked_by":    nil,
		})
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, id)
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
