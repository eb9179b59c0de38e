package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByOrgID(orgID string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("org_id = ?", orgID)
	})
	return qf
}

func (qf *JobQueryFilter) ByProjectID(projectID uuid.UUID) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("project_id = ?", projectID)
	})
	return qf
}

func (qf *JobQueryFilter) ByType(jobType string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("type = ?", jobType)
	})
	return qf
}

func (qf *JobQueryFilter) ByStatus(statuses ...string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return qf
}

func (qf *JobQueryFilter) CreatedAfter(cutoff time.Time) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_at >= ?", cutoff)
	})
	return qf
}

type OutputQueryFilter BaseQuerier

func NewOutputQueryFilter() *OutputQueryFilter {
	return &OutputQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *OutputQueryFilter) ByProjectID(projectID uuid.UUID) *OutputQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("project_id = ?", projectID)
	})
	return qf
}

func (qf *OutputQueryFilter) ByStage(stage string) *OutputQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return qf
}

type UsageQueryFilter BaseQuerier

func NewUsageQueryFilter() *UsageQueryFilter {
	return &UsageQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *UsageQueryFilter) ByOrgID(orgID string) *UsageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("org_id = ?", orgID)
	})
	return qf
}

func (qf *UsageQueryFilter) ByJobID(jobID uuid.UUID) *UsageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("job_id = ?", jobID)
	})
	return qf
}

func (qf *UsageQueryFilter) ByStage(stage string) *UsageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return qf
}
