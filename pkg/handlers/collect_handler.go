package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/services"
)

// maxUploadBytes bounds uploaded archive payloads.
const maxUploadBytes = 256 << 20

// CollectHandler exposes the acquisition pipeline as SSE streams. Collect
// runs take minutes, so a single short-lived request/response is not
// viable; the client holds the stream open and receives ordered progress
// events terminated by one done or error event.
type CollectHandler struct {
	collectService services.CollectService
	logger         *zap.Logger
}

// NewCollectHandler creates a new collect handler.
func NewCollectHandler(collectService services.CollectService, logger *zap.Logger) *CollectHandler {
	return &CollectHandler{collectService: collectService, logger: logger}
}

// RegisterRoutes registers the collect handler's routes on the given mux.
func (h *CollectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/collect/{year}/{month}", h.CollectByPeriod)
	mux.HandleFunc("POST /api/collect/upload", h.CollectFromArchive)
}

// CollectByPeriod handles POST /api/collect/{year}/{month}
func (h *CollectHandler) CollectByPeriod(w http.ResponseWriter, r *http.Request) {
	year, errYear := strconv.Atoi(r.PathValue("year"))
	month, errMonth := strconv.Atoi(r.PathValue("month"))
	if errYear != nil || errMonth != nil || year < 2000 || month < 1 || month > 12 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_period", "Year and month must form a valid period"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	operator := r.Header.Get("X-Operator")
	h.stream(w, r, func(events chan<- models.CollectEvent) error {
		return h.collectService.CollectByPeriod(r.Context(), year, month, operator, events)
	})
}

// CollectFromArchive handles POST /api/collect/upload
// The archive is the request body; year and month query params name the
// reference period, defaulting to the current month.
func (h *CollectHandler) CollectFromArchive(w http.ResponseWriter, r *http.Request) {
	archive, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_upload", "Failed to read archive payload"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(archive) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "empty_upload", "Archive payload is empty"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	now := time.Now()
	year := now.Year()
	month := int(now.Month())
	if v := r.URL.Query().Get("year"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			year = parsed
		}
	}
	if v := r.URL.Query().Get("month"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			month = parsed
		}
	}

	operator := r.Header.Get("X-Operator")
	h.stream(w, r, func(events chan<- models.CollectEvent) error {
		return h.collectService.CollectFromArchive(r.Context(), archive, year, month, operator, events)
	})
}

// stream runs fn in the background and relays its events as SSE.
func (h *CollectHandler) stream(w http.ResponseWriter, r *http.Request, fn func(chan<- models.CollectEvent) error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	eventChan := make(chan models.CollectEvent, 100)

	go func() {
		defer close(eventChan)
		if err := fn(eventChan); err != nil {
			h.logger.Error("Collect run error", zap.Error(err))
		}
	}()

	for event := range eventChan {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}

		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		if event.Type == models.CollectEventDone || event.Type == models.CollectEventError {
			break
		}
	}
}
