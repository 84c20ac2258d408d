package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"finanzas-backend/internal/charts"
	"finanzas-backend/internal/models"
)

type ChartHandler struct{}

func NewChartHandler() *ChartHandler {
	return &ChartHandler{}
}

func (h *ChartHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ChartsResponse{Charts: charts.All()})
}

func (h *ChartHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := charts.ByCanvas(chi.URLParam(r, "canvasID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Chart not found", r))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
