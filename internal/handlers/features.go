package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"finanzas-backend/internal/features"
	"finanzas-backend/internal/middleware"
	"finanzas-backend/internal/models"
)

type PlanGenerator interface {
	Generate(ctx context.Context, userID, goal string) features.Render
}

type ConceptExplainer interface {
	Explain(ctx context.Context, userID, concept string) features.Render
}

type PlanHandler struct {
	planner PlanGenerator
}

func NewPlanHandler(planner PlanGenerator) *PlanHandler {
	return &PlanHandler{planner: planner}
}

func (h *PlanHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	writeRender(w, r, h.planner.Generate(r.Context(), userID, req.Goal))
}

type ConceptHandler struct {
	explainer ConceptExplainer
}

func NewConceptHandler(explainer ConceptExplainer) *ConceptHandler {
	return &ConceptHandler{explainer: explainer}
}

func (h *ConceptHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var req models.ConceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	writeRender(w, r, h.explainer.Explain(r.Context(), userID, req.Concept))
}
