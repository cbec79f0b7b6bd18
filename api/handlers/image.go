package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"imageOptimizer/api/dto"
	"imageOptimizer/api/htmltag"
	"imageOptimizer/api/kafka"
	"imageOptimizer/api/metrics"
	"imageOptimizer/api/middleware"
	"imageOptimizer/api/models"
	"imageOptimizer/api/service"
)

const maxBatchSize = 100

type DispatchService interface {
	Dispatch(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*service.DispatchResult, error)
	DispatchBatch(ctx context.Context, traceID string, urls []string, checkDuplicates bool) ([]*service.DispatchResult, error)
	DispatchHTML(ctx context.Context, traceID, fragment string) (*service.HTMLResult, error)
}

type HealthService interface {
	QueueInfo(ctx context.Context) (*kafka.QueueInfo, error)
	InFlight(ctx context.Context) (int, error)
}

type ImageHandler struct {
	service DispatchService
	health  HealthService
	logger  *zap.Logger
}

func NewImageHandler(service DispatchService, health HealthService, logger *zap.Logger) *ImageHandler {
	return &ImageHandler{
		service: service,
		health:  health,
		logger:  logger,
	}
}

func (h *ImageHandler) ProcessURL(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.ImageURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if err := validateURL(req.URL); err != nil {
		h.handleError(w, "Invalid image URL", err, traceID, http.StatusBadRequest)
		return
	}

	res, err := h.service.Dispatch(r.Context(), traceID, req.URL, req.Size)
	if err != nil {
		h.handleError(w, "Dispatch failed", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, toImageResponse(req.URL, res))
}

func (h *ImageHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.ImageBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		h.handleError(w, "At least one URL is required", nil, traceID, http.StatusBadRequest)
		return
	}
	if len(req.URLs) > maxBatchSize {
		h.handleError(w, "Batch too large", nil, traceID, http.StatusBadRequest)
		return
	}
	for _, u := range req.URLs {
		if err := validateURL(u); err != nil {
			h.handleError(w, "Invalid image URL: "+u, err, traceID, http.StatusBadRequest)
			return
		}
	}

	results, err := h.service.DispatchBatch(r.Context(), traceID, req.URLs, req.CheckDuplicates)
	if err != nil {
		h.handleError(w, "Batch dispatch failed", err, traceID, http.StatusInternalServerError)
		return
	}

	// The deduper may have dropped URLs, so results carry their own source.
	responses := make([]dto.ImageResponse, len(results))
	for i, res := range results {
		responses[i] = toImageResponse(res.SourceURL, res)
	}

	h.respondJSON(w, http.StatusOK, responses)
}

func (h *ImageHandler) ProcessHTML(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.HTMLTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if req.HTML == "" {
		h.handleError(w, "HTML fragment is required", nil, traceID, http.StatusBadRequest)
		return
	}

	res, err := h.service.DispatchHTML(r.Context(), traceID, req.HTML)
	if err != nil {
		if errors.Is(err, htmltag.ErrNoImageTag) {
			h.handleError(w, "No img tag found", err, traceID, http.StatusBadRequest)
			return
		}
		h.handleError(w, "Dispatch failed", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.HTMLResponse{
		OriginalHTML:  req.HTML,
		Status:        string(res.Status),
		OptimizedHTML: res.OptimizedHTML,
	})
}

func (h *ImageHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := dto.HealthResponse{Status: "ok"}

	if info, err := h.health.QueueInfo(r.Context()); err == nil {
		resp.QueuePending = info.Pending
		resp.Consumers = info.Consumers
		metrics.QueuePending.Set(float64(info.Pending))
	} else {
		resp.Status = "degraded"
		h.logger.Warn("Queue info unavailable", zap.Error(err))
	}

	if inFlight, err := h.health.InFlight(r.Context()); err == nil {
		resp.InFlight = inFlight
	} else {
		resp.Status = "degraded"
		h.logger.Warn("In-flight count unavailable", zap.Error(err))
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url host is empty")
	}
	return nil
}

func toImageResponse(sourceURL string, res *service.DispatchResult) dto.ImageResponse {
	out := dto.ImageResponse{
		OriginalURL: sourceURL,
		Status:      string(res.Status),
		Formats:     res.Formats,
		Dimensions:  res.Dimensions,
		Error:       res.Error,
	}
	if res.Status == models.StatusComplete {
		out.OptimizedURL = res.Formats["avif"]
	}
	return out
}

func (h *ImageHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *ImageHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
