package adminapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/util"
)

type keyView struct {
	Redacted    string `json:"redacted"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// handleListKeys paginates the live key set for one upstream, redacting
// every secret to its last four characters.
func (s *Service) handleListKeys(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	state := s.holder.Load()
	u, ok := state.ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}

	total := len(u.Keys)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	views := make([]keyView, 0, end-offset)
	for _, k := range u.Keys[offset:end] {
		views = append(views, keyView{
			Redacted:    domain.RedactSecret(k.Secret),
			CreatedAtMs: k.CreatedAtMs(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": views, "total": total, "offset": offset, "limit": limit})
}

// parseKeysBody accepts either a JSON {"keys": [...]} body or a raw text
// body of one key per line.
func parseKeysBody(r *http.Request) ([]string, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Keys []string `json:"keys"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return body.Keys, nil
	}

	var keys []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			keys = append(keys, line)
		}
	}
	return keys, nil
}

func dedupe(keys []string) [][]byte {
	seen := make(map[string]struct{}, len(keys))
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, []byte(k))
	}
	return out
}

// handleAppendKeys implements "idempotent import": duplicates within the
// request, or duplicates of keys already stored, collapse to a no-op for
// that key.
func (s *Service) handleAppendKeys(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keys, err := parseKeysBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keys payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.upstreamExistsLocked(r.Context(), id) {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	if err := s.store.PutKeys(r.Context(), id, dedupe(keys)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "appended", "batch_id": uuid.NewString()})
}

// handleReplaceKeys swaps the upstream's entire key set atomically.
func (s *Service) handleReplaceKeys(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keys, err := parseKeysBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keys payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.upstreamExistsLocked(r.Context(), id) {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	if err := s.store.ReplaceKeys(r.Context(), id, dedupe(keys)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replaced", "batch_id": uuid.NewString()})
}

func (s *Service) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Keys []string `json:"keys"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.upstreamExistsLocked(r.Context(), id) {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	if err := s.store.DeleteKeys(r.Context(), id, dedupe(body.Keys)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.reloadLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestKey probes one key against the upstream's /v1/models without
// going through the selector, so an operator can sanity-check a key right
// after import without waiting for it to be picked up by live traffic.
// Read-only with respect to routing state: a failed probe does not cool the
// key down, since the probe itself might be the thing that's misconfigured
// (wrong path, upstream down for maintenance) rather than the key.
func (s *Service) handleTestKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Key   string `json:"key"`
		Index *int   `json:"index"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	state := s.holder.Load()
	u, ok := state.ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}

	secret := body.Key
	if secret == "" && body.Index != nil {
		if *body.Index < 0 || *body.Index >= len(u.Keys) {
			writeError(w, http.StatusBadRequest, "key index out of range")
			return
		}
		secret = string(u.Keys[*body.Index].Secret)
	}
	if secret == "" {
		writeError(w, http.StatusBadRequest, "provide either \"key\" or \"index\"")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, util.JoinURLPath(u.BaseURL, "/v1/models"), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	defer resp.Body.Close()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          resp.StatusCode >= 200 && resp.StatusCode < 300,
		"status_code": resp.StatusCode,
	})
}

func (s *Service) upstreamExistsLocked(ctx context.Context, id string) bool {
	defs, err := s.loadUpstreamDefs(ctx)
	if err != nil {
		return false
	}
	for _, d := range defs {
		if d.ID == id {
			return true
		}
	}
	return false
}
