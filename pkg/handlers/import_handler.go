package handlers

import (
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/services"
)

// maxFlatFileBytes bounds uploaded flat files.
const maxFlatFileBytes = 64 << 20

// ImportHandler exposes the flat-file importers and the import audit log.
type ImportHandler struct {
	flatFiles services.FlatFileService
	auditLogs services.ImportLogService
	logger    *zap.Logger
}

// NewImportHandler creates a new import handler.
func NewImportHandler(flatFiles services.FlatFileService, auditLogs services.ImportLogService, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{flatFiles: flatFiles, auditLogs: auditLogs, logger: logger}
}

// RegisterRoutes registers the import handler's routes on the given mux.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports/resources", h.ImportResources)
	mux.HandleFunc("POST /api/imports/compositions", h.ImportCompositions)
	mux.HandleFunc("POST /api/imports/prices", h.ImportPrices)
	mux.HandleFunc("GET /api/imports", h.ListImports)
}

type importFunc func(r *http.Request, data []byte, fileName, operator string) (*models.ImportResult, error)

func (h *ImportHandler) runImport(w http.ResponseWriter, r *http.Request, name string, fn importFunc) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFlatFileBytes))
	if err != nil || len(data) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_file", "Request body must be a non-empty delimited text file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	fileName := r.URL.Query().Get("file")
	if fileName == "" {
		fileName = name + ".csv"
	}
	operator := r.Header.Get("X-Operator")

	result, err := fn(r, data, fileName, operator)
	if err != nil {
		h.logger.Error("Flat-file import failed",
			zap.String("kind", name),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusUnprocessableEntity, "import_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if result.Errors == nil {
		result.Errors = []string{}
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write import response", zap.Error(err))
	}
}

// ImportResources handles POST /api/imports/resources
func (h *ImportHandler) ImportResources(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, "resources", func(r *http.Request, data []byte, fileName, operator string) (*models.ImportResult, error) {
		return h.flatFiles.ImportResources(r.Context(), data, fileName, operator)
	})
}

// ImportCompositions handles POST /api/imports/compositions
func (h *ImportHandler) ImportCompositions(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, "compositions", func(r *http.Request, data []byte, fileName, operator string) (*models.ImportResult, error) {
		return h.flatFiles.ImportCompositions(r.Context(), data, fileName, operator)
	})
}

// ImportPrices handles POST /api/imports/prices
func (h *ImportHandler) ImportPrices(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, "prices", func(r *http.Request, data []byte, fileName, operator string) (*models.ImportResult, error) {
		return h.flatFiles.ImportPrices(r.Context(), data, fileName, operator)
	})
}

// ListImports handles GET /api/imports
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.auditLogs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list import logs", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_failed", "Failed to list import runs"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"imports": entries,
		"total":   len(entries),
	}); err != nil {
		h.logger.Error("Failed to write import list response", zap.Error(err))
	}
}
