package constants

const (
	DefaultContentTypeJSON = "application/json"
	ContentTypeJSON        = "application/json"
	ContentTypeText        = "text/plain"
	ContentTypeHeader      = "Content-Type"

	ContentTypeSSE = "text/event-stream"

	HeaderAuthorization  = "Authorization"
	HeaderHost           = "Host"
	HeaderProxyToken     = "X-Proxy-Token"
	HeaderAdminToken     = "X-Admin-Token"
	HeaderXRequestID     = "X-Request-Id"
	HeaderXUpstream      = "X-Upstream"
	QueryParamAdminToken = "token"

	// ContextRoutePrefixKey is the request-context key a route's registered
	// prefix is stashed under, so a handler downstream of RegisterProxyRoute
	// can strip it back off the request path.
	ContextRoutePrefixKey = "route_prefix"
)

// HopByHopHeaders are never forwarded upstream or back to the client verbatim (RFC 7230 §6.1).
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}
