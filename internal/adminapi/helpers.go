package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/HsGalaxy/gptload-go/internal/core/constants"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// authorized checks X-Admin-Token or ?token=; queryOnly restricts to the
// query form only, for the SSE endpoint which EventSource cannot attach
// headers to.
func (s *Service) authorized(r *http.Request, queryOnly bool) bool {
	if len(s.adminTokens) == 0 {
		return false
	}
	if token := r.URL.Query().Get(constants.QueryParamAdminToken); token != "" {
		_, ok := s.adminTokens[token]
		if ok {
			return true
		}
	}
	if queryOnly {
		return false
	}
	if token := r.Header.Get(constants.HeaderAdminToken); token != "" {
		_, ok := s.adminTokens[token]
		return ok
	}
	return false
}

func (s *Service) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r, false) {
			writeError(w, http.StatusUnauthorized, "missing or invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Service) requireAdminQueryOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r, true) {
			writeError(w, http.StatusUnauthorized, "missing or invalid admin token")
			return
		}
		next(w, r)
	}
}
