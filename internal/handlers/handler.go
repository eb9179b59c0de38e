// Package handlers is the thin HTTP surface over the service layer.
// Identity resolution is an external collaborator; callers arrive with the
// organization already resolved into the X-Org-ID header.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/service"
)

const orgHeader = "X-Org-ID"

// InlineRunner is the enqueue-time fast path offered by the worker. Nil
// when the deployment runs a separate worker process.
type InlineRunner interface {
	RunInline(ctx context.Context, jobID uuid.UUID) error
}

type Handler struct {
	jobs    *service.JobService
	outputs *service.OutputService
	usage   *service.UsageService
	inline  InlineRunner
}

func New(jobs *service.JobService, outputs *service.OutputService, usage *service.UsageService) *Handler {
	return &Handler{jobs: jobs, outputs: outputs, usage: usage}
}

// WithInlineRunner makes enqueued jobs execute synchronously from the
// request instead of waiting for the polling worker.
func (h *Handler) WithInlineRunner(runner InlineRunner) *Handler {
	h.inline = runner
	return h
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
}

func orgID(r *http.Request) (string, error) {
	org := r.Header.Get(orgHeader)
	if org == "" {
		return "", fmt.Errorf("missing %s header", orgHeader)
	}
	return org, nil
}

// renderServiceError maps the service error taxonomy onto status codes:
// validation 400, budget 402, not-found 404, lock 409, rate limit 429.
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   *service.ErrResourceNotFound
		validation *service.ErrValidation
		inProgress *service.ErrGenerationInProgress
		rateLimit  *service.ErrRateLimited
		budget     *service.ErrBudgetExceeded
		transition *service.ErrInvalidJobTransition
	)

	switch {
	case errors.As(err, &notFound):
		render.Status(r, http.StatusNotFound)
	case errors.As(err, &validation):
		render.Status(r, http.StatusBadRequest)
	case errors.As(err, &inProgress):
		render.Status(r, http.StatusConflict)
	case errors.As(err, &rateLimit):
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, errorResponse{Error: err.Error(), RetryAfter: int64(rateLimit.RetryAfter.Seconds())})
		return
	case errors.As(err, &budget):
		render.Status(r, http.StatusPaymentRequired)
	case errors.As(err, &transition):
		render.Status(r, http.StatusConflict)
	default:
		render.Status(r, http.StatusInternalServerError)
	}
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
