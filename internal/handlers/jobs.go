package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

type enqueueStageRequest struct {
	Stage  string            `json:"stage"`
	Preset string            `json:"preset"`
	Inputs map[string]string `json:"inputs"`
}

type enqueueDocumentRequest struct {
	Preset string            `json:"preset"`
	Inputs map[string]string `json:"inputs"`
}

type enqueueFileRequest struct {
	FileName string `json:"file_name"`
	FileData []byte `json:"file_data"`
}

type jobResponse struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func toJobResponse(job *model.Job) jobResponse {
	resp := jobResponse{
		ID:       job.ID,
		Type:     job.Type,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.Error != nil {
		resp.Error = *job.Error
	}
	return resp
}

func (h *Handler) EnqueueStage(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid project id"})
		return
	}

	var req enqueueStageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), org, projectID, jobs.StageGeneratePayload{
		Stage:  req.Stage,
		Preset: req.Preset,
		Inputs: req.Inputs,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	h.maybeRunInline(r, job.ID)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toJobResponse(job))
}

func (h *Handler) EnqueueDocument(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid project id"})
		return
	}

	var req enqueueDocumentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	job, err := h.jobs.EnqueueDocument(r.Context(), org, projectID, jobs.DocumentGeneratePayload{
		Preset: req.Preset,
		Inputs: req.Inputs,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	h.maybeRunInline(r, job.ID)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toJobResponse(job))
}

func (h *Handler) EnqueueFile(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid project id"})
		return
	}

	var req enqueueFileRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	job, err := h.jobs.EnqueueFile(r.Context(), org, projectID, jobs.FileProcessPayload{
		FileName: req.FileName,
		FileData: req.FileData,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	h.maybeRunInline(r, job.ID)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toJobResponse(job))
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	filter := store.NewJobQueryFilter()
	if status := r.URL.Query().Get("status"); status != "" {
		filter = filter.ByStatus(status)
	}
	if jobType := r.URL.Query().Get("type"); jobType != "" {
		filter = filter.ByType(jobType)
	}

	list, err := h.jobs.List(r.Context(), org, filter)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	resp := make([]jobResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toJobResponse(&list[i]))
	}
	render.JSON(w, r, resp)
}

func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid job id"})
		return
	}

	status, err := h.jobs.GetStatus(r.Context(), org, jobID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, jobResponse{
		ID:       status.ID,
		Type:     status.Type,
		Status:   status.Status,
		Progress: status.Progress,
		Message:  status.Message,
		Error:    status.Error,
	})
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid job id"})
		return
	}

	job, err := h.jobs.Retry(r.Context(), org, jobID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	h.maybeRunInline(r, job.ID)

	render.JSON(w, r, toJobResponse(job))
}

func (h *Handler) ForceFailJob(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid job id"})
		return
	}

	job, err := h.jobs.ForceFail(r.Context(), org, jobID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toJobResponse(job))
}

func (h *Handler) maybeRunInline(r *http.Request, jobID uuid.UUID) {
	if h.inline == nil {
		return
	}
	if err := h.inline.RunInline(r.Context(), jobID); err != nil {
		// the job row already records the failure; the caller polls it
		zap.S().Named("handlers").Warnf("inline execution of job %s: %v", jobID, err)
	}
}
