package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/store/model"
)

type createPurchaseRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Tokens         int64  `json:"tokens"`
}

type purchaseResponse struct {
	ID     uuid.UUID `json:"id"`
	Tokens int64     `json:"tokens"`
	Status string    `json:"status"`
}

func toPurchaseResponse(p *model.TokenPurchase) purchaseResponse {
	return purchaseResponse{ID: p.ID, Tokens: p.Tokens, Status: p.Status}
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	var req createPurchaseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	purchase, err := h.usage.CreatePurchaseIntent(r.Context(), org, req.IdempotencyKey, req.Tokens)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toPurchaseResponse(purchase))
}

func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	purchaseID, err := uuid.Parse(chi.URLParam(r, "purchaseID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid purchase id"})
		return
	}

	purchase, err := h.usage.ConfirmPurchase(r.Context(), org, purchaseID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toPurchaseResponse(purchase))
}

func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	org, err := orgID(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	records, err := h.usage.ListUsage(r.Context(), org)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, records)
}
