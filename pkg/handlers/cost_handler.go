package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/apperrors"
	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/services"
)

// CostHandler exposes composition cost resolution.
type CostHandler struct {
	costs  services.CostService
	logger *zap.Logger
}

// NewCostHandler creates a new cost handler.
func NewCostHandler(costs services.CostService, logger *zap.Logger) *CostHandler {
	return &CostHandler{costs: costs, logger: logger}
}

// RegisterRoutes registers the cost handler's routes on the given mux.
func (h *CostHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/compositions/{code}/cost", h.ResolveCost)
	mux.HandleFunc("GET /api/compositions/{code}/tree", h.ResolveTree)
}

// costContextFromQuery builds a pricing context from query parameters.
// Region and month are required; quantity defaults to 1.
func costContextFromQuery(r *http.Request) models.CostContext {
	q := r.URL.Query()

	costCtx := models.CostContext{
		Region:         q.Get("region"),
		ReferenceMonth: q.Get("month"),
		Quantity:       1,
	}

	if v := q.Get("quantity"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			costCtx.Quantity = parsed
		}
	}
	if v := q.Get("exempt"); v != "" {
		costCtx.TaxExempt = v == "true" || v == "1"
	}

	return costCtx
}

func (h *CostHandler) writeError(w http.ResponseWriter, code string, err error) {
	status := http.StatusInternalServerError
	errorCode := "cost_resolution_failed"
	message := "Failed to resolve composition cost"

	switch {
	case errors.Is(err, apperrors.ErrCompositionNotFound):
		status = http.StatusNotFound
		errorCode = "composition_not_found"
		message = "Composition " + code + " not found"
	case errors.Is(err, apperrors.ErrInvalidRegion):
		status = http.StatusBadRequest
		errorCode = "invalid_region"
		message = "Query parameter 'region' must be a valid two-letter region code"
	case errors.Is(err, apperrors.ErrInvalidReferenceMonth):
		status = http.StatusBadRequest
		errorCode = "invalid_reference_month"
		message = "Query parameter 'month' must be in YYYY-MM format"
	default:
		h.logger.Error("Cost resolution failed",
			zap.String("composition_code", code),
			zap.Error(err))
	}

	if err := ErrorResponse(w, status, errorCode, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// ResolveCost handles GET /api/compositions/{code}/cost
func (h *CostHandler) ResolveCost(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	cost, err := h.costs.ResolveCost(r.Context(), code, costContextFromQuery(r))
	if err != nil {
		h.writeError(w, code, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, cost); err != nil {
		h.logger.Error("Failed to write cost response", zap.Error(err))
	}
}

// ResolveTree handles GET /api/compositions/{code}/tree
func (h *CostHandler) ResolveTree(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	tree, err := h.costs.ResolveTree(r.Context(), code, costContextFromQuery(r))
	if err != nil {
		h.writeError(w, code, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, tree); err != nil {
		h.logger.Error("Failed to write tree response", zap.Error(err))
	}
}
