package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"trade_sim/internal/domain"
)

const (
	defaultBookDepth    = 10
	maxBookDepth        = 400
	defaultHistoryDepth = 5
	defaultHistoryLen   = 10
	maxBodyBytes        = 1 << 20
)

type handlers struct {
	sim     Simulator
	metrics MetricsSource
	logger  *slog.Logger
}

// simulateBody lets callers omit fields; omitted ones come from the defaults.
type simulateBody struct {
	Quantity   *float64 `json:"quantity"`
	FeeTier    *int     `json:"fee_tier"`
	Volatility *float64 `json:"volatility"`
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.sim.Status()
	status := "ok"
	if !st.Connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"connected": st.Connected,
		"updates":   st.Updates,
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// positiveParam reads an optional positive integer query parameter.
func positiveParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	depth, err := positiveParam(r, "depth", defaultBookDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth = min(depth, maxBookDepth)

	snap := h.sim.Book()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrEmptyBook.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap.Top(depth))
}

// bookHistory lists the retained snapshots, newest first, each cut to depth levels.
func (h *handlers) bookHistory(w http.ResponseWriter, r *http.Request) {
	n, err := positiveParam(r, "n", defaultHistoryLen)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth, err := positiveParam(r, "depth", defaultHistoryDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth = min(depth, maxBookDepth)

	recent := h.sim.RecentBooks(n)
	out := make([]domain.BookSnapshot, 0, len(recent))
	for _, snap := range recent {
		out = append(out, snap.Top(depth))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) latency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.LatencyStats())
}

func (h *handlers) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *handlers) simulateDefaults(w http.ResponseWriter, r *http.Request) {
	res, err := h.sim.SimulateWithDefaults(r.Context())
	if err != nil {
		h.writeSimulateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body simulateBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := h.sim.Defaults()
	if body.Quantity != nil {
		req.Quantity = *body.Quantity
	}
	if body.FeeTier != nil {
		req.FeeTier = *body.FeeTier
	}
	if body.Volatility != nil {
		req.Volatility = *body.Volatility
	}

	res, err := h.sim.Simulate(r.Context(), req)
	if err != nil {
		h.writeSimulateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) writeSimulateError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
		return
	}
	h.logger.Error("simulation failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "simulation failed")
}
