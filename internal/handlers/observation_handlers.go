package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tempest-sync/internal/models"
	"tempest-sync/internal/repository"
	"tempest-sync/internal/schema"
	"tempest-sync/internal/services"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

const (
	routeDevices     = "/api/devices"
	routeCoverage    = "/api/devices/coverage"
	routeWatermark   = "/api/devices/{device_id}/watermark"
	routeGaps        = "/api/devices/{device_id}/gaps"
	routeObservation = "/api/devices/{device_id}/observations/{timestamp}"
)

// ObservationHandler serves read-only views of the synced observations
type ObservationHandler struct {
	service *services.ObservationService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationHandler creates a new observation handler
func NewObservationHandler(
	service *services.ObservationService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ObservationHandler {
	return &ObservationHandler{
		service: service,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a collection with its size
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// WatermarkResponse reports how far a device has been synced
type WatermarkResponse struct {
	DeviceID  int64      `json:"device_id"`
	Watermark int64      `json:"watermark"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// GapsResponse lists the holes found in a device's series
type GapsResponse struct {
	DeviceID         int64        `json:"device_id"`
	ThresholdSeconds int64        `json:"threshold_seconds"`
	Gaps             []models.Gap `json:"gaps"`
}

// ListDevices handles GET /api/devices
func (h *ObservationHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(routeDevices, time.Now())

	devices, err := h.service.ListDevices(ctx)
	if err != nil {
		h.handleError(w, r, routeDevices, "failed to list devices", err)
		return
	}

	h.metrics.RecordAPIRequest(routeDevices, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: devices, Total: len(devices)}, http.StatusOK)
}

// GetCoverage handles GET /api/devices/coverage
func (h *ObservationHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(routeCoverage, time.Now())

	threshold, ok := h.thresholdParam(w, r)
	if !ok {
		return
	}

	coverage, err := h.service.DeviceCoverage(ctx, threshold)
	if err != nil {
		h.handleError(w, r, routeCoverage, "failed to calculate coverage", err)
		return
	}

	h.metrics.RecordAPIRequest(routeCoverage, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: coverage, Total: len(coverage)}, http.StatusOK)
}

// GetWatermark handles GET /api/devices/{device_id}/watermark
func (h *ObservationHandler) GetWatermark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(routeWatermark, time.Now())

	deviceID, ok := h.int64Var(w, r, "device_id")
	if !ok {
		return
	}

	watermark, err := h.service.Watermark(ctx, deviceID)
	if err != nil {
		h.handleError(w, r, routeWatermark, "failed to read watermark", err)
		return
	}

	response := WatermarkResponse{DeviceID: deviceID, Watermark: watermark}
	if watermark > 0 {
		syncedAt := time.Unix(watermark, 0).UTC()
		response.SyncedAt = &syncedAt
	}

	h.metrics.RecordAPIRequest(routeWatermark, r.Method, "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetGaps handles GET /api/devices/{device_id}/gaps
func (h *ObservationHandler) GetGaps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(routeGaps, time.Now())

	deviceID, ok := h.int64Var(w, r, "device_id")
	if !ok {
		return
	}
	threshold, ok := h.thresholdParam(w, r)
	if !ok {
		return
	}

	gaps, err := h.service.FindGaps(ctx, deviceID, threshold)
	if err != nil {
		h.handleError(w, r, routeGaps, "failed to find gaps", err)
		return
	}

	h.metrics.RecordAPIRequest(routeGaps, r.Method, "200")
	h.sendJSON(w, GapsResponse{DeviceID: deviceID, ThresholdSeconds: threshold, Gaps: gaps}, http.StatusOK)
}

// GetObservation handles GET /api/devices/{device_id}/observations/{timestamp}
func (h *ObservationHandler) GetObservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(routeObservation, time.Now())

	deviceID, ok := h.int64Var(w, r, "device_id")
	if !ok {
		return
	}
	timestamp, ok := h.int64Var(w, r, "timestamp")
	if !ok {
		return
	}

	obs, err := h.service.GetObservation(ctx, deviceID, timestamp)
	if err != nil {
		h.handleError(w, r, routeObservation, "failed to get observation", err)
		return
	}

	h.metrics.RecordAPIRequest(routeObservation, r.Method, "200")
	h.sendJSON(w, obs, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ObservationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.service.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Database unreachable", logging.Fields{}, err)
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

func (h *ObservationHandler) observe(route string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// int64Var reads a numeric path variable, answering 400 when it is malformed.
func (h *ObservationHandler) int64Var(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		h.sendError(w, r, "invalid "+name+", expected a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *ObservationHandler) thresholdParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return schema.DefaultGapThresholdSeconds, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		h.sendError(w, r, "invalid threshold, expected a positive number of seconds", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// handleError maps service errors onto HTTP statuses
func (h *ObservationHandler) handleError(w http.ResponseWriter, r *http.Request, route, message string, err error) {
	var notFound *repository.NotFoundError
	var invalid *models.ValidationError

	switch {
	case errors.As(err, &notFound):
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &invalid):
		h.sendError(w, r, invalid.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"route": route,
		}, err)
		h.metrics.RecordAPIError("internal_error", route)
		h.sendError(w, r, message, http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *ObservationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ObservationHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	route := r.URL.Path
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}
	h.metrics.RecordAPIRequest(route, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all inspection API routes
func (h *ObservationHandler) RegisterRoutes(router *mux.Router) {
	router.Use(h.requestContext)
	router.HandleFunc(routeDevices, h.ListDevices).Methods("GET")
	router.HandleFunc(routeCoverage, h.GetCoverage).Methods("GET")
	router.HandleFunc(routeWatermark, h.GetWatermark).Methods("GET")
	router.HandleFunc(routeGaps, h.GetGaps).Methods("GET")
	router.HandleFunc(routeObservation, h.GetObservation).Methods("GET")
	router.HandleFunc("/api/docs", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs/ui", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// requestContext tags each request with an id, taken from X-Request-ID when present.
func (h *ObservationHandler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logging.WithRequestID(r.Context(), requestID)
		h.logger.Debug(ctx, "[API_REQUEST] Request received", logging.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
