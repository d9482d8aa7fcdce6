// Package adminapi implements the control-plane surface: upstream
// and key CRUD, route-table management, reload, and the read-only
// metrics/requests/stats endpoints. Every mutation runs under one mutex,
// so two concurrent admin calls are totally ordered; readers (the
// forwarder's selector, other admin GETs) always see a complete atomic
// snapshot, never a partial one.
//
// Uses router.RouteRegistry for the route-table boot banner, with the
// method- and path-parameter-aware endpoints this control plane needs
// built on Go 1.22 ServeMux patterns rather than a third-party router.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
	"github.com/HsGalaxy/gptload-go/internal/logger"
	"github.com/HsGalaxy/gptload-go/pkg/eventbus"
)

const (
	upstreamsDocument  = "upstreams.json"
	routeTableDocument = "models_routes.json"
)

type upstreamDef struct {
	ID      string `json:"id"`
	BaseURL string `json:"base_url"`
	Weight  int    `json:"weight"`
}

// Config carries the admin-surface tunables drawn from the live config
// snapshot.
type Config struct {
	AdminTokens []string
	Ban         ports.BanConfig
}

type Service struct {
	mu sync.Mutex

	holder *routing.Holder
	store  ports.Persistence

	adminTokens map[string]struct{}
	ban         ports.BanConfig

	global     *domain.GlobalCounters
	metrics    *domain.MetricBuckets
	requestLog *domain.RequestLogRing
	feed       *eventbus.EventBus[domain.RequestLogEntry]

	httpClient *http.Client
	log        *logger.StyledLogger
}

func New(holder *routing.Holder, store ports.Persistence, cfg Config, global *domain.GlobalCounters, metrics *domain.MetricBuckets, requestLog *domain.RequestLogRing, feed *eventbus.EventBus[domain.RequestLogEntry], log *logger.StyledLogger) *Service {
	tokens := make(map[string]struct{}, len(cfg.AdminTokens))
	for _, t := range cfg.AdminTokens {
		tokens[t] = struct{}{}
	}
	return &Service{
		holder:      holder,
		store:       store,
		adminTokens: tokens,
		ban:         cfg.Ban,
		global:      global,
		metrics:     metrics,
		requestLog:  requestLog,
		feed:        feed,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Reload rebuilds the routing state from persistence: upstream definitions
// from upstreamsDocument, keys from the store's key table (grouped by
// upstream id), and the route table from routeTableDocument.
// Cooldown state does not survive a reload — every Upstream and Key is a
// fresh struct.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Service) reloadLocked(ctx context.Context) error {
	defs, err := s.loadUpstreamDefs(ctx)
	if err != nil {
		return err
	}
	stored, err := s.store.ScanKeys(ctx)
	if err != nil {
		return err
	}
	byUpstream := make(map[string][]ports.StoredKey)
	for _, k := range stored {
		byUpstream[k.UpstreamID] = append(byUpstream[k.UpstreamID], k)
	}

	upstreams := make([]*domain.Upstream, 0, len(defs))
	for _, def := range defs {
		u := domain.NewUpstream(def.ID, def.BaseURL, def.Weight)
		for _, k := range byUpstream[def.ID] {
			u.Keys = append(u.Keys, domain.NewKey(def.ID, domain.HashKey(k.Secret), k.Secret, k.CreatedAtMs))
		}
		upstreams = append(upstreams, u)
	}

	rt, err := s.loadRouteTable(ctx)
	if err != nil {
		return err
	}

	s.holder.Store(routing.NewState(upstreams, rt))
	return nil
}

func (s *Service) loadUpstreamDefs(ctx context.Context) ([]upstreamDef, error) {
	raw, _, found, err := s.store.GetDocument(ctx, upstreamsDocument)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var defs []upstreamDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, domain.ErrCorruptRecord
	}
	return defs, nil
}

func (s *Service) persistUpstreamDefs(ctx context.Context, defs []upstreamDef) error {
	raw, err := json.Marshal(defs)
	if err != nil {
		return err
	}
	return s.store.PutDocument(ctx, upstreamsDocument, raw, nowMs())
}

func (s *Service) loadRouteTable(ctx context.Context) (*domain.RouteTable, error) {
	raw, _, found, err := s.store.GetDocument(ctx, routeTableDocument)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.NewRouteTable(), nil
	}
	rt := domain.NewRouteTable()
	if err := json.Unmarshal(raw, rt); err != nil {
		return nil, domain.ErrCorruptRecord
	}
	rt.Rebuild()
	return rt, nil
}

func (s *Service) persistRouteTable(ctx context.Context, rt *domain.RouteTable) error {
	rt.UpdatedAtMs = nowMs()
	raw, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	return s.store.PutDocument(ctx, routeTableDocument, raw, rt.UpdatedAtMs)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// ListUpstreams / CreateUpstream / UpdateUpstream / DeleteUpstream implement
// the upstream CRUD rows of the admin table. Every mutation persists
// first, then rebuilds the in-memory snapshot from persistence — a
// persistence failure aborts the memory update.

type upstreamView struct {
	ID        string                          `json:"id"`
	BaseURL   string                          `json:"base_url"`
	Weight    int                             `json:"weight"`
	KeyCount  int                             `json:"key_count"`
	Counters  domain.UpstreamCountersSnapshot `json:"counters"`
	Available bool                            `json:"available"`
}

func (s *Service) handleListUpstreams(w http.ResponseWriter, r *http.Request) {
	state := s.holder.Load()
	views := make([]upstreamView, 0, len(state.Upstreams))
	now := nowMs()
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
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"upstreams": views})
}

func (s *Service) handleCreateUpstream(w http.ResponseWriter, r *http.Request) {
	var body upstreamDef
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ID == "" || body.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "id and base_url are required")
		return
	}
	if body.Weight < 1 {
		body.Weight = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs, err := s.loadUpstreamDefs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, d := range defs {
		if d.ID == body.ID {
			writeError(w, http.StatusConflict, "upstream already exists")
			return
		}
	}
	defs = append(defs, body)

	if err := s.persistUpstreamDefs(r.Context(), defs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Service) handleUpdateUpstream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		BaseURL *string `json:"base_url"`
		Weight  *int    `json:"weight"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs, err := s.loadUpstreamDefs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	idx := -1
	for i, d := range defs {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	if body.BaseURL != nil {
		defs[idx].BaseURL = *body.BaseURL
	}
	if body.Weight != nil && *body.Weight >= 1 {
		defs[idx].Weight = *body.Weight
	}

	if err := s.persistUpstreamDefs(r.Context(), defs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, defs[idx])
}

func (s *Service) handleDeleteUpstream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleteKeys := r.URL.Query().Get("delete_keys") == "1"

	s.mu.Lock()
	defer s.mu.Unlock()

	defs, err := s.loadUpstreamDefs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := defs[:0]
	found := false
	for _, d := range defs {
		if d.ID == id {
			found = true
			continue
		}
		out = append(out, d)
	}
	if !found {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}

	if err := s.persistUpstreamDefs(r.Context(), out); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleteKeys {
		if err := s.store.DeleteUpstream(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
