// Package server is the ruralcast backend: the speed probe payload and the
// lesson variant catalog API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ruralcast/ruralcast/internal/core"
	"github.com/ruralcast/ruralcast/internal/model"
	"github.com/ruralcast/ruralcast/internal/provider/httpapi"
)

// Handler holds dependencies for the API endpoints.
type Handler struct {
	Catalog    *core.Catalog
	Selector   *core.Selector
	Store      *core.Store
	ProbeBytes int
	Log        *zap.Logger

	probe []byte
}

// NewHandler constructs a Handler. probeBytes is the exact size of the speed
// test payload.
func NewHandler(store *core.Store, catalog *core.Catalog, probeBytes int, logger *zap.Logger) *Handler {
	if probeBytes <= 0 {
		probeBytes = core.DefaultProbePayloadBytes
	}
	return &Handler{
		Catalog:    catalog,
		Selector:   core.NewSelector(catalog),
		Store:      store,
		ProbeBytes: probeBytes,
		Log:        logger,
		probe:      make([]byte, probeBytes),
	}
}

// ServeHealth handles GET /health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.DB().PingContext(ctx); err != nil {
		h.Log.Error("health-check: database ping failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, httpapi.CodeInternal, "Database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

// ServeSpeedTest handles GET /api/speed-test. The body is exactly ProbeBytes
// bytes and must never be cached.
func (h *Handler) ServeSpeedTest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(h.probe)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.probe); err != nil {
		h.Log.Debug("speed test client went away", zap.Error(err))
	}
}

// ServeLesson handles GET /api/lessons/{lessonID}.
func (h *Handler) ServeLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := lessonID(w, r)
	if !ok {
		return
	}
	lesson, err := h.Catalog.Lesson(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

// ServeVariants handles GET /api/lessons/{lessonID}/variants.
func (h *Handler) ServeVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := lessonID(w, r)
	if !ok {
		return
	}
	variants, err := h.Catalog.Variants(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	records := make([]model.VariantRecord, 0, len(variants))
	for _, v := range variants {
		records = append(records, v.Record())
	}
	writeJSON(w, http.StatusOK, records)
}

// ServeVariant handles GET /api/lessons/{lessonID}/variants/{tier}.
func (h *Handler) ServeVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := lessonID(w, r)
	if !ok {
		return
	}
	tier, err := model.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, err.Error())
		return
	}
	v, err := h.Catalog.Variant(r.Context(), id, tier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Record())
}

// UpsertVariant handles POST /api/lessons/{lessonID}/variants.
// 201 when created, 200 when an existing tier was updated.
func (h *Handler) UpsertVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := lessonID(w, r)
	if !ok {
		return
	}

	var rec model.VariantRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, "invalid JSON body")
		return
	}
	rec.LessonID = id

	v, err := rec.Variant()
	if err != nil {
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, err.Error())
		return
	}

	created, err := h.Catalog.PutVariant(r.Context(), v)
	if err != nil {
		h.fail(w, err)
		return
	}

	stored, err := h.Catalog.Variant(r.Context(), id, v.Tier)
	if err != nil {
		h.fail(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.Log.Info("variant saved",
		zap.Int64("lesson_id", id),
		zap.String("tier", string(v.Tier)),
		zap.Bool("created", created))
	writeJSON(w, status, stored.Record())
}

// ServeContent handles GET /api/lessons/{lessonID}/content?bandwidth=low|medium|high.
// Missing tiers fall back to the lesson text with the available tiers listed.
func (h *Handler) ServeContent(w http.ResponseWriter, r *http.Request) {
	id, ok := lessonID(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("bandwidth")
	if raw == "" {
		raw = string(model.TierMedium)
	}
	tier, err := model.ParseTier(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, "bandwidth must be low, medium or high")
		return
	}

	sel, err := h.Selector.SelectTier(r.Context(), id, tier)
	if err != nil {
		h.fail(w, err)
		return
	}

	variant, err := json.Marshal(sel.Variant)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := httpapi.LessonContentResponse{
		LessonID:      sel.LessonID,
		LessonTitle:   sel.LessonTitle,
		BandwidthType: string(sel.RequestedTier),
		Fallback:      sel.Fallback,
		Variant:       variant,
	}
	for _, t := range sel.Available {
		resp.AvailableVariants = append(resp.AvailableVariants, string(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrLessonNotFound):
		writeError(w, http.StatusNotFound, httpapi.CodeLessonNotFound, "Lesson not found")
	case errors.Is(err, model.ErrVariantNotFound):
		writeError(w, http.StatusNotFound, httpapi.CodeVariantNotFound, "Variant not found")
	case errors.Is(err, model.ErrInvalidTier), errors.Is(err, model.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, err.Error())
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, httpapi.CodeInternal, "Internal server error")
	}
}

func lessonID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "lessonID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, httpapi.CodeBadRequest, "invalid lesson id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, httpapi.CodeInternal, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(httpapi.Envelope{Success: true, Data: body})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(httpapi.Envelope{Success: false, Error: code, Message: message})
}
