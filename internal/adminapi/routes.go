package adminapi

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/HsGalaxy/gptload-go/internal/core/constants"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/util"
)

// handleGetRoutes defaults to JSON; ?format=yaml returns the same route
// table as YAML for an operator diffing it against a checked-in copy.
func (s *Service) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	state := s.holder.Load()
	if r.URL.Query().Get("format") == "yaml" {
		out, err := yaml.Marshal(state.RouteTable)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set(constants.ContentTypeHeader, "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}
	writeJSON(w, http.StatusOK, state.RouteTable)
}

func (s *Service) handlePutRoutes(w http.ResponseWriter, r *http.Request) {
	var rt domain.RouteTable
	if !decodeJSON(w, r, &rt) {
		return
	}
	if rt.ModelToUpstreams == nil {
		rt.ModelToUpstreams = make(map[string][]string)
	}
	rt.Rebuild()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistRouteTable(r.Context(), &rt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &rt)
}

// handleRefreshModels probes the upstream's own /v1/models endpoint and
// relays the parsed list back to the operator; the upstream's own
// key pool is used for the probe so a fully-cooled-down upstream can still
// be inspected for diagnosis even though it would never be selected.
func (s *Service) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state := s.holder.Load()
	u, ok := state.ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	if len(u.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "upstream has no keys configured")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, util.JoinURLPath(u.BaseURL, "/v1/models"), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Authorization", "Bearer "+string(u.Keys[0].Secret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadGateway, "upstream returned non-JSON model list")
		return
	}
	writeJSON(w, resp.StatusCode, map[string]any{
		"models": extractModelIDs(raw),
		"raw":    raw,
	})
}

// extractModelIDs pulls the "id" field out of each entry of an OpenAI-shaped
// {"data": [...]}  models list, tolerating providers that omit "created" or
// report it as a string instead of a unix-seconds number.
func extractModelIDs(raw map[string]interface{}) []string {
	entries, ok := raw["data"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if id := util.GetString(m, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
