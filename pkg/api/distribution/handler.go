// Package distribution serves the distribution engine over HTTP.
package distribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"capital_waterfall/pkg/api/metrics"
	"capital_waterfall/pkg/core/cascade"
	"capital_waterfall/pkg/core/report"
	"capital_waterfall/pkg/core/store"
	"capital_waterfall/pkg/core/utils"
	"capital_waterfall/pkg/core/waterfall"
	"capital_waterfall/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

const maxBodyBytes = 4 << 20

// Handler holds dependencies for distribution endpoints.
type Handler struct {
	Presets      *waterfall.Presets
	Repo         store.Repository
	Clock        clockwork.Clock
	Log          *slog.Logger
	BatchWorkers int
}

// NewHandler creates a handler. presets, repo and log may be nil; clock
// defaults to the real clock.
func NewHandler(presets *waterfall.Presets, repo store.Repository, clock clockwork.Clock, log *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if presets == nil {
		presets = &waterfall.Presets{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{Presets: presets, Repo: repo, Clock: clock, Log: log, BatchWorkers: 4}
}

// Routes mounts under /api/distributions.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/compute", h.HandleCompute)
	r.Post("/batch", h.HandleBatch)
	r.Post("/", h.HandlePersist)
	r.Get("/{eventID}", h.HandleGet)
	r.Get("/{eventID}/report", h.HandleReport)
	return r
}

// PresetsResponse lists the configured waterfall structures.
type PresetsResponse struct {
	Presets []waterfall.Structure `json:"presets"`
}

// HandlePresets lists configured waterfall presets.
func (h *Handler) HandlePresets(w http.ResponseWriter, r *http.Request) {
	resp := PresetsResponse{Presets: []waterfall.Structure{}}
	for _, name := range h.Presets.Names() {
		s, _ := h.Presets.Get(name)
		resp.Presets = append(resp.Presets, s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCompute runs one event without touching stored ledgers.
func (h *Handler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.compute(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BatchRequest is a set of independent events.
type BatchRequest struct {
	Requests []cascade.Request `json:"requests"`
}

// BatchResponse keeps the order of BatchRequest.Requests.
type BatchResponse struct {
	Results []*cascade.Result `json:"results"`
}

// HandleBatch computes independent events concurrently. One failure fails the
// batch.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var batch BatchRequest
	if err := h.decodeInto(r, &batch); err != nil {
		h.writeError(w, err)
		return
	}
	for i := range batch.Requests {
		if err := h.prepare(&batch.Requests[i]); err != nil {
			h.writeError(w, fmt.Errorf("request %d: %w", i, err))
			return
		}
	}

	start := h.Clock.Now()
	results, err := cascade.ComputeBatch(r.Context(), batch.Requests, h.BatchWorkers)
	metrics.RecordComputation(h.Clock.Since(start), cascade.Kind(err))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Log.Info("[DISTRIBUTION] batch computed", "events", len(results))
	writeJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// HandlePersist computes an event against the stored ledgers and applies it.
// Replaying an event id returns 409 and leaves the ledgers untouched.
func (h *Handler) HandlePersist(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no distribution store configured", Kind: "unavailable"})
		return
	}
	req, err := h.decode(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.EventID == "" {
		req.EventID = store.NewEventID()
	}
	if err := store.Hydrate(r.Context(), h.Repo, &req); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.compute(req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.Repo.Save(r.Context(), res); err != nil {
		if errors.Is(err, store.ErrAlreadyApplied) {
			metrics.RecordPersist("duplicate", res.Currency, 0)
		} else {
			metrics.RecordPersist("error", res.Currency, 0)
		}
		h.writeError(w, err)
		return
	}
	metrics.RecordPersist("applied", res.Currency, res.TotalAmount)
	h.Log.Info("[DISTRIBUTION] applied", "event_id", res.EventID, "total", res.TotalAmount, "currency", res.Currency)
	writeJSON(w, http.StatusCreated, res)
}

// HandleGet returns a stored event.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReport renders a stored event as HTML, or Markdown with
// ?format=markdown.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	res, ok := h.load(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, report.Markdown(res))
		return
	}
	page, err := report.HTML(res)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, page)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*cascade.Result, bool) {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no distribution store configured", Kind: "unavailable"})
		return nil, false
	}
	res, err := h.Repo.Load(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return res, true
}

func (h *Handler) compute(req cascade.Request) (*cascade.Result, error) {
	start := h.Clock.Now()
	res, err := cascade.ComputeDistribution(req)
	metrics.RecordComputation(h.Clock.Since(start), cascade.Kind(err))
	if err != nil {
		return nil, err
	}
	h.Log.Debug("[DISTRIBUTION] computed", "event_id", res.EventID, "allocations", len(res.Allocations))
	return res, nil
}

func (h *Handler) decode(r *http.Request) (cascade.Request, error) {
	var req cascade.Request
	if err := h.decodeInto(r, &req); err != nil {
		return req, err
	}
	return req, h.prepare(&req)
}

func (h *Handler) decodeInto(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: failed to read body: %v", waterfall.ErrInvalidRequest, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", waterfall.ErrInvalidRequest, maxBodyBytes)
	}
	strategy, err := utils.ParseExact(body, v)
	if err != nil {
		return fmt.Errorf("%w: %v", waterfall.ErrInvalidRequest, err)
	}
	if strategy != utils.StrategyJSON {
		h.Log.Warn("[DISTRIBUTION] request body needed lenient parsing", "strategy", string(strategy))
	}
	return nil
}

// prepare defaults the distribution date to today and resolves preset names.
func (h *Handler) prepare(req *cascade.Request) error {
	if req.DistributionDate.IsZero() {
		req.DistributionDate = h.Clock.Now().UTC().Truncate(24 * time.Hour)
	}
	return cascade.ResolvePresets(req, h.Presets)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := cascade.Kind(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrAlreadyApplied):
		status, kind = http.StatusConflict, "already_applied"
	case errors.Is(err, store.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case kind == "invalid_request", kind == "configuration_error":
		status = http.StatusBadRequest
	}
	if status >= 500 {
		h.Log.Error("[DISTRIBUTION] request failed", "kind", kind, "error", err)
	} else {
		h.Log.Info("[DISTRIBUTION] request rejected", "kind", kind, "error", err.Error())
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
