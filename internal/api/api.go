// Package api exposes the read-side layer views over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/estate-geolayers/internal/jobs"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
	"github.com/mohammed-shakir/estate-geolayers/internal/views"
)

const geojsonType = "application/geo+json"

// Views is the service the handlers call; *views.Service implements it.
type Views interface {
	Statistics(ctx context.Context, layerID uint64) ([]byte, error)
	Simplified(ctx context.Context, layerID uint64, tolerance *float64) ([]byte, error)
	Optimized(ctx context.Context, layerID uint64, tolerance *float64, decimals int) ([]byte, error)
	Filtered(ctx context.Context, layerID uint64, b metadata.Bounds) ([]byte, error)
	Tiles(ctx context.Context, layerID uint64, zoom int) ([]byte, error)
	Tile(ctx context.Context, layerID uint64, z, x, y int) ([]byte, error)
	H3Cover(ctx context.Context, layerID uint64, res int, mode string) ([]byte, error)
	CRS(ctx context.Context, layerID uint64) (views.CRSReport, error)
	Reprocess(ctx context.Context, layerID uint64) error
	Delete(ctx context.Context, layerID uint64) error
}

type Handler struct {
	svc        Views
	log        *slog.Logger
	defaultRes int
}

func New(svc Views, log *slog.Logger, defaultRes int) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log, defaultRes: defaultRes}
}

// Mount registers the layer routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/layers/{id}", func(r chi.Router) {
		r.Get("/statistics", h.statistics)
		r.Get("/simplified", h.simplified)
		r.Get("/optimized", h.optimized)
		r.Get("/features", h.features)
		r.Get("/tiles", h.tiles)
		r.Get("/tiles/{z}/{x}/{y}", h.tile)
		r.Get("/h3", h.h3)
		r.Get("/crs", h.crs)
		r.Post("/process", h.process)
		r.Delete("/", h.delete)
	})
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Statistics(r.Context(), id)
	h.respond(w, r, "application/json", b, err)
}

func (h *Handler) simplified(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	tol, err := floatParam(r, "tolerance")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.Simplified(r.Context(), id, tol)
	h.respond(w, r, geojsonType, b, err)
}

func (h *Handler) optimized(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	tol, err := floatParam(r, "tolerance")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dec, err := intParam(r, "decimals", 6)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.Optimized(r.Context(), id, tol, dec)
	h.respond(w, r, geojsonType, b, err)
}

func (h *Handler) features(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	box, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bbox: "+err.Error())
		return
	}
	b, err := h.svc.Filtered(r.Context(), id, box)
	h.respond(w, r, geojsonType, b, err)
}

func (h *Handler) tiles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	zoom, err := intParam(r, "zoom", -1)
	if err != nil || zoom < 0 {
		writeError(w, http.StatusBadRequest, "zoom is required")
		return
	}
	b, err := h.svc.Tiles(r.Context(), id, zoom)
	h.respond(w, r, "application/json", b, err)
}

func (h *Handler) tile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	var zxy [3]int
	for i, name := range []string{"z", "x", "y"} {
		n, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tile "+name)
			return
		}
		zxy[i] = n
	}
	b, err := h.svc.Tile(r.Context(), id, zxy[0], zxy[1], zxy[2])
	h.respond(w, r, geojsonType, b, err)
}

func (h *Handler) h3(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	res, err := intParam(r, "res", h.defaultRes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := strings.TrimSpace(r.URL.Query().Get("mode"))
	b, err := h.svc.H3Cover(r.Context(), id, res, mode)
	h.respond(w, r, "application/json", b, err)
}

func (h *Handler) crs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.CRS(r.Context(), id)
	if err != nil {
		h.respond(w, r, "", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reprocess(r.Context(), id); err != nil {
		h.respond(w, r, "", nil, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": layer.StatusProcessing})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.layerID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.respond(w, r, "", nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) layerID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid layer id")
		return 0, false
	}
	return id, true
}

// respond writes body on success and maps err to a status code otherwise.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, contentType string, body []byte, err error) {
	if err == nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	switch {
	case errors.Is(err, layer.ErrNotFound):
		writeError(w, http.StatusNotFound, "layer not found")
	case errors.Is(err, views.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, views.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// floatParam returns nil when the parameter is absent or empty.
func floatParam(r *http.Request, name string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &f, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

// parseBBox reads "minLng,minLat,maxLng,maxLat" in WGS84 degrees.
func parseBBox(raw string) (metadata.Bounds, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return metadata.Bounds{}, errors.New("expected 4 comma-separated values: minLng,minLat,maxLng,maxLat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return metadata.Bounds{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	if v[0] < -180 || v[2] > 180 || v[1] < -90 || v[3] > 90 {
		return metadata.Bounds{}, errors.New("bbox outside WGS84 range")
	}
	if v[2] < v[0] || v[3] < v[1] {
		return metadata.Bounds{}, errors.New("max must not be below min")
	}
	return metadata.Bounds{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}, nil
}
