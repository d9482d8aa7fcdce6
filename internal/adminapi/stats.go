package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	window := domain.MetricWindow(r.URL.Query().Get("window"))
	switch window {
	case domain.WindowMinute, domain.WindowHour, domain.WindowDay:
	default:
		window = domain.WindowMinute
	}
	buckets := s.metrics.Snapshot(window)
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (s *Service) handleRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries := s.requestLog.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

type statsSnapshot struct {
	TsMs      int64                         `json:"ts_ms"`
	Global    domain.GlobalCountersSnapshot `json:"global"`
	Upstreams []upstreamView                `json:"upstreams"`
}

// handleStatsStream pushes one JSON snapshot per second over SSE, built on
// lock-briefly-then-snapshot reads; this endpoint
// only accepts the query-string admin token since EventSource cannot set
// headers.
func (s *Service) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.snapshot()
			raw, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

// handleRequestsStream tails completed requests as they happen, one SSE
// event per finished proxy call, via the forwarder's event bus instead of
// the ticker-polled snapshot handleStatsStream uses. A slow or stalled
// client only drops its own backlog (eventbus.Subscribe's bounded channel);
// it never slows the forwarder's hot path.
func (s *Service) handleRequestsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	events, unsubscribe := s.feed.Subscribe(ctx)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-events:
			if !ok {
				return
			}
			raw, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

func (s *Service) snapshot() statsSnapshot {
	state := s.holder.Load()
	now := nowMs()
	views := make([]upstreamView, 0, len(state.Upstreams))
	for _, u := range state.Upstreams {
		views = append(views, upstreamView{
			ID:        u.ID,
			BaseURL:   u.BaseURL,
			Weight:    u.Weight,
			KeyCount:  len(u.Keys),
			Counters:  u.Counters.Snapshot(),
			Available: u.Available(now),
		})
	}
	return statsSnapshot{
		TsMs:      now,
		Global:    s.global.Snapshot(),
		Upstreams: views,
	}
}

// Billing is an independent ledger namespace, out of core scope;
// these handlers are thin pass-throughs onto the persistence layer's
// billing table.

func (s *Service) handlePutBilling(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("key")
	var body struct {
		Balance float64 `json:"balance"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.store.PutBilling(r.Context(), apiKey, body.Balance, nowMs()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// entry_id identifies this balance-set operation for the operator's own
	// audit trail; the ledger itself only stores current balance, not history.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "entry_id": uuid.NewString()})
}

func (s *Service) handleGetBilling(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("key")
	balance, updatedAtMs, found, err := s.store.GetBilling(r.Context(), apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no billing record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "updated_at_ms": updatedAtMs})
}

func (s *Service) handleDeleteBilling(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("key")
	if err := s.store.DeleteBilling(r.Context(), apiKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
