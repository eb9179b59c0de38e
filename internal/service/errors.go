package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id fmt.Stringer, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrProjectNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "project")
}

func NewErrOutputNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "output")
}

func NewErrPurchaseNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "purchase")
}

func NewErrOrganizationNotFound(id string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("organization %s not found", id)}
}

type ErrValidation struct {
	error
}

func NewErrValidation(message string) *ErrValidation {
	return &ErrValidation{fmt.Errorf("bad request: %s", message)}
}

// ErrGenerationInProgress is returned by the guarded enqueue when another
// generation holds the admission lock or an active job already exists.
// Callers should treat it as transient and retry later.
type ErrGenerationInProgress struct {
	error
}

func NewErrGenerationInProgress(projectID uuid.UUID) *ErrGenerationInProgress {
	return &ErrGenerationInProgress{fmt.Errorf("a generation is already in progress for project %s", projectID)}
}

type ErrRateLimited struct {
	error
	RetryAfter time.Duration
}

func NewErrRateLimited(projectID uuid.UUID, max int64, window time.Duration) *ErrRateLimited {
	return &ErrRateLimited{
		error:      fmt.Errorf("project %s reached the limit of %d generations per %s", projectID, max, window),
		RetryAfter: window,
	}
}

type ErrBudgetExceeded struct {
	error
	Estimated int64
	Remaining int64
}

func NewErrBudgetExceeded(orgID string, estimated, remaining int64) *ErrBudgetExceeded {
	return &ErrBudgetExceeded{
		error:     fmt.Errorf("organization %s has %d tokens remaining, %d required", orgID, remaining, estimated),
		Estimated: estimated,
		Remaining: remaining,
	}
}

type ErrInvalidJobTransition struct {
	error
}

func NewErrInvalidJobTransition(id uuid.UUID, from, to string) *ErrInvalidJobTransition {
	return &ErrInvalidJobTransition{fmt.Errorf("job %s cannot transition from %s to %s", id, from, to)}
}
