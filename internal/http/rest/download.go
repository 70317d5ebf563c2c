package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/italolelis/vod_pipeline/internal/event"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/pipeline"
	"github.com/italolelis/vod_pipeline/internal/storage"
	"github.com/italolelis/vod_pipeline/internal/telemetry"
)

// CoordinatorRunner triggers one dispatch pass on demand.
type CoordinatorRunner interface {
	RunOnce(ctx context.Context) (pipeline.Summary, error)
}

// OutcomeRecorder applies worker outcome notifications.
type OutcomeRecorder interface {
	Apply(ctx context.Context, n pipeline.Notification) (*pipeline.Result, error)
}

type TrackDownloadRequest struct {
	FileID string `json:"file_id" validate:"required,max=512"`
}

type NotificationRequest struct {
	FileID  string `json:"file_id" validate:"required,max=512"`
	Outcome string `json:"outcome" validate:"required,oneof=success transient_failure permanent_failure"`
	Error   string `json:"error" validate:"omitempty,max=4096"`
}

type DownloadResponse struct {
	FileID     string     `json:"file_id"`
	Status     string     `json:"status"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type NotificationResponse struct {
	FileID     string     `json:"file_id"`
	Status     string     `json:"status"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	Absorbed   bool       `json:"absorbed"`
}

func newDownloadResponse(rec *storage.DownloadRecord) DownloadResponse {
	return DownloadResponse{
		FileID:     rec.FileID,
		Status:     string(rec.Status),
		RetryAfter: rec.RetryAfter,
		RetryCount: rec.RetryCount,
		LastError:  rec.LastError,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// DownloadHandler exposes the download lifecycle over HTTP: tracking new
// files, worker outcome callbacks, and an on-demand coordinator pass.
type DownloadHandler struct {
	repo      storage.DownloadRepository
	recorder  OutcomeRecorder
	coord     CoordinatorRunner
	events    event.Publisher
	validator *validator.Validate
	telemetry *telemetry.Telemetry
}

func NewDownloadHandler(repo storage.DownloadRepository, recorder OutcomeRecorder, coord CoordinatorRunner, events event.Publisher, t *telemetry.Telemetry) *DownloadHandler {
	return &DownloadHandler{
		repo:      repo,
		recorder:  recorder,
		coord:     coord,
		events:    events,
		validator: validator.New(),
		telemetry: t,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/downloads", h.handleTrackDownload)
		r.Get("/downloads", h.handleListDownloads)
		r.Get("/downloads/{fileID}", h.handleGetDownload)
		r.Post("/notifications", h.handleNotification)
		r.Post("/coordinator/run", h.handleCoordinatorRun)
	})

	return r
}

// handleTrackDownload registers a new file for delivery. Tracking the same
// file twice is a conflict, not an update.
func (h *DownloadHandler) handleTrackDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req TrackDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err := h.repo.TrackDownload(r.Context(), req.FileID); err != nil {
		if errors.Is(err, storage.ErrAlreadyTracked) {
			writeError(w, http.StatusConflict, "download already tracked")

			return
		}

		logger.Error("failed to track download", "file_id", req.FileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	rec, err := h.repo.GetDownload(r.Context(), req.FileID)
	if err != nil {
		logger.Error("failed to load tracked download", "file_id", req.FileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	h.telemetry.RecordDownloadTracked()

	if err := h.events.Publish(r.Context(), event.Event{
		Type:   event.TypeDownloadRequested,
		FileID: req.FileID,
	}); err != nil {
		logger.Warn("failed to publish event", "file_id", req.FileID, "err", err)
	}

	logger.Info("download tracked", "file_id", req.FileID)

	writeJSON(w, http.StatusCreated, newDownloadResponse(rec))
}

func (h *DownloadHandler) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	fileID := chi.URLParam(r, "fileID")

	rec, err := h.repo.GetDownload(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "download not found")

			return
		}

		logger.Error("failed to get download", "file_id", fileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	writeJSON(w, http.StatusOK, newDownloadResponse(rec))
}

func (h *DownloadHandler) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	status := storage.Status(r.URL.Query().Get("status"))
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status query parameter must be one of pending, in_progress, scheduled, completed, failed")

		return
	}

	records, err := h.repo.DownloadsByStatus(r.Context(), status)
	if err != nil {
		logger.Error("failed to list downloads", "status", status, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")

		return
	}

	downloads := make([]DownloadResponse, 0, len(records))
	for i := range records {
		downloads = append(downloads, newDownloadResponse(&records[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"downloads": downloads,
		"count":     len(downloads),
	})
}

// handleNotification receives the worker's verdict on a delivery attempt.
// Duplicates for already finished downloads return 200 with absorbed set.
func (h *DownloadHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	res, err := h.recorder.Apply(r.Context(), pipeline.Notification{
		FileID:  req.FileID,
		Outcome: pipeline.Outcome(req.Outcome),
		Error:   req.Error,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "download not found")
		case errors.Is(err, pipeline.ErrInvalidOutcome):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("failed to record outcome", "file_id", req.FileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}

		return
	}

	writeJSON(w, http.StatusOK, NotificationResponse{
		FileID:     res.FileID,
		Status:     string(res.Status),
		RetryAfter: res.RetryAfter,
		Absorbed:   res.Absorbed,
	})
}

// handleCoordinatorRun triggers a dispatch pass outside the poll schedule.
func (h *DownloadHandler) handleCoordinatorRun(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	summary, err := h.coord.RunOnce(r.Context())
	if err != nil {
		logger.Error("coordinator pass failed", "err", err)
		writeError(w, http.StatusInternalServerError, "coordinator pass failed")

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
