package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/store/model"
)

type versionResponse struct {
	ID           uuid.UUID       `json:"id"`
	OutputID     uuid.UUID       `json:"output_id"`
	Version      int             `json:"version"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Preset       string          `json:"preset,omitempty"`
	BilledTokens int64           `json:"billed_tokens,omitempty"`
	Content      json.RawMessage `json:"content"`
}

type outputResponse struct {
	ID        uuid.UUID         `json:"id"`
	ProjectID uuid.UUID         `json:"project_id"`
	Stage     string            `json:"stage"`
	Versions  []versionResponse `json:"versions,omitempty"`
}

type editedVersionRequest struct {
	Content json.RawMessage `json:"content"`
}

func toVersionResponse(v *model.OutputVersion) versionResponse {
	return versionResponse{
		ID:           v.ID,
		OutputID:     v.OutputID,
		Version:      v.Version,
		Type:         v.Type,
		Status:       v.Status,
		Provider:     v.Provider,
		Model:        v.Model,
		Preset:       v.Preset,
		BilledTokens: v.BilledTokens,
		Content:      json.RawMessage(v.Content),
	}
}

func toOutputResponse(output *model.Output) outputResponse {
	resp := outputResponse{
		ID:        output.ID,
		ProjectID: output.ProjectID,
		Stage:     output.Stage,
	}
	for i := range output.Versions {
		resp.Versions = append(resp.Versions, toVersionResponse(&output.Versions[i]))
	}
	return resp
}

func (h *Handler) GetStageOutput(w http.ResponseWriter, r *http.Request) {
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
	stage := chi.URLParam(r, "stage")

	output, err := h.outputs.GetByStage(r.Context(), org, projectID, stage)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toOutputResponse(output))
}

func (h *Handler) ListOutputVersions(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	outputID, err := uuid.Parse(chi.URLParam(r, "outputID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid output id"})
		return
	}

	versions, err := h.outputs.ListVersions(r.Context(), org, outputID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	resp := make([]versionResponse, 0, len(versions))
	for i := range versions {
		resp = append(resp, toVersionResponse(&versions[i]))
	}
	render.JSON(w, r, resp)
}

func (h *Handler) GetLatestOutputVersion(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	outputID, err := uuid.Parse(chi.URLParam(r, "outputID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid output id"})
		return
	}

	version, err := h.outputs.LatestVersion(r.Context(), org, outputID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toVersionResponse(version))
}

func (h *Handler) ApproveOutputVersion(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	outputID, err := uuid.Parse(chi.URLParam(r, "outputID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid output id"})
		return
	}
	versionID, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid version id"})
		return
	}

	version, err := h.outputs.ApproveVersion(r.Context(), org, outputID, versionID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toVersionResponse(version))
}

func (h *Handler) CreateEditedVersion(w http.ResponseWriter, r *http.Request) {
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
	stage := chi.URLParam(r, "stage")

	var req editedVersionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}
	if len(req.Content) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "content is required"})
		return
	}

	version, err := h.outputs.CreateEditedVersion(r.Context(), org, projectID, stage, []byte(req.Content))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toVersionResponse(version))
}
