package adminapi

import "net/http"

// Mux builds the admin control-plane's HTTP handler. Every route is wrapped
// in the admin-token check except the SSE stream, which only accepts the
// query-string form.
func (s *Service) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/v1/upstreams", s.requireAdmin(s.handleListUpstreams))
	mux.HandleFunc("POST /admin/api/v1/upstreams", s.requireAdmin(s.handleCreateUpstream))
	mux.HandleFunc("PUT /admin/api/v1/upstreams/{id}", s.requireAdmin(s.handleUpdateUpstream))
	mux.HandleFunc("DELETE /admin/api/v1/upstreams/{id}", s.requireAdmin(s.handleDeleteUpstream))

	mux.HandleFunc("GET /admin/api/v1/upstreams/{id}/keys", s.requireAdmin(s.handleListKeys))
	mux.HandleFunc("POST /admin/api/v1/upstreams/{id}/keys", s.requireAdmin(s.handleAppendKeys))
	mux.HandleFunc("PUT /admin/api/v1/upstreams/{id}/keys", s.requireAdmin(s.handleReplaceKeys))
	mux.HandleFunc("DELETE /admin/api/v1/upstreams/{id}/keys", s.requireAdmin(s.handleDeleteKeys))
	mux.HandleFunc("POST /admin/api/v1/upstreams/{id}/keys/test", s.requireAdmin(s.handleTestKey))

	mux.HandleFunc("POST /admin/api/v1/upstreams/{id}/models/refresh", s.requireAdmin(s.handleRefreshModels))
	mux.HandleFunc("GET /admin/api/v1/models/routes", s.requireAdmin(s.handleGetRoutes))
	mux.HandleFunc("PUT /admin/api/v1/models/routes", s.requireAdmin(s.handlePutRoutes))

	mux.HandleFunc("POST /admin/api/v1/reload", s.requireAdmin(s.handleReload))
	mux.HandleFunc("GET /admin/api/v1/metrics", s.requireAdmin(s.handleMetrics))
	mux.HandleFunc("GET /admin/api/v1/requests", s.requireAdmin(s.handleRequests))
	mux.HandleFunc("GET /admin/api/v1/stats/stream", s.requireAdminQueryOnly(s.handleStatsStream))
	mux.HandleFunc("GET /admin/api/v1/requests/stream", s.requireAdminQueryOnly(s.handleRequestsStream))

	mux.HandleFunc("PUT /admin/api/v1/billing/keys/{key}", s.requireAdmin(s.handlePutBilling))
	mux.HandleFunc("GET /admin/api/v1/billing/keys/{key}", s.requireAdmin(s.handleGetBilling))
	mux.HandleFunc("DELETE /admin/api/v1/billing/keys/{key}", s.requireAdmin(s.handleDeleteBilling))

	return mux
}
