package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job status constants
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)

// Job type constants. The set of types and their payload shape is a fixed
// contract between producer and worker; see the jobs package.
const (
	JobTypeStageGenerate    = "stage.generate"
	JobTypeStageRegenerate  = "stage.regenerate"
	JobTypeDocumentGenerate = "document.generate"
	JobTypeFileProcess      = "file.process"
)

type Job struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now();index:jobs_created_at_idx"`

	OrgID     string     `gorm:"not null;index:jobs_org_id_idx"`
	ProjectID *uuid.UUID `gorm:"type:TEXT;index:jobs_project_id_idx"`

	Type     string `gorm:"not null;type:VARCHAR(100);index:jobs_type_idx"`
	Status   string `gorm:"not null;type:VARCHAR(100);index:jobs_status_idx"`
	Attempts int    `gorm:"not null;default:0"`

	// Payload and Result are a versioned tagged union per Type, decoded at
	// the worker boundary. The store treats them as opaque jsonb.
	Payload []byte `gorm:"type:jsonb"`
	Result  []byte `gorm:"type:jsonb"`

	Progress int     `gorm:"not null;default:0"`
	Error    *string `gorm:"type:TEXT"`

	StartedAt   *time.Time
	CompletedAt *time.Time

	// Claim tracking. Set when a worker transitions queued -> processing.
	LockedAt *time.Time
	LockedBy *string `gorm:"type:VARCHAR(255)"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// IsFinished reports whether the job reached a terminal state.
func (j Job) IsFinished() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}
