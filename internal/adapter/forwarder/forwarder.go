// Package forwarder implements the request-routing engine: authenticate,
// peek the model, walk the candidate stream, dispatch each attempt against
// the chosen upstream, classify the outcome, and either commit the response
// to the client or cool the offending entity down and try the next
// candidate. Shares its tuned transport and panic-recovery-and-classify
// shape with a reverse-proxy service, generalised here to a key/upstream
// cooldown model instead of endpoint health checks.
package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/core/constants"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
	"github.com/HsGalaxy/gptload-go/internal/logger"
	"github.com/HsGalaxy/gptload-go/internal/util"
	"github.com/HsGalaxy/gptload-go/pkg/eventbus"
	"github.com/HsGalaxy/gptload-go/pkg/pool"
)

const (
	maxIdleConns        = 512
	maxIdleConnsPerHost = 64
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	dialTimeout         = 10 * time.Second
	streamBufferSize    = 32 * 1024
)

// Forwarder implements ports.Forwarder.
type Forwarder struct {
	selector ports.Selector
	client   *http.Client
	bufPool  *pool.Pool[*[]byte]

	proxyTokens map[string]struct{}
	usageHosts  map[string]struct{}

	requestTimeout time.Duration
	ban            ports.BanConfig

	global     *domain.GlobalCounters
	metrics    *domain.MetricBuckets
	requestLog *domain.RequestLogRing
	feed       *eventbus.EventBus[domain.RequestLogEntry]
	latency    ports.LatencyRecorder

	log *logger.StyledLogger
}

// Config carries the tunables Forward needs from the live configuration
// snapshot; New copies them rather than holding a reference, since the
// config can hot-reload independently.
type Config struct {
	ProxyTokens          []string
	UsageInjectUpstreams []string
	RequestTimeout       time.Duration
	Ban                  ports.BanConfig
}

func New(selector ports.Selector, cfg Config, global *domain.GlobalCounters, metrics *domain.MetricBuckets, requestLog *domain.RequestLogRing, latency ports.LatencyRecorder, log *logger.StyledLogger) *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetNoDelay(true)
			}
			return conn, nil
		},
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	tokens := make(map[string]struct{}, len(cfg.ProxyTokens))
	for _, t := range cfg.ProxyTokens {
		tokens[t] = struct{}{}
	}
	usageHosts := make(map[string]struct{}, len(cfg.UsageInjectUpstreams))
	for _, id := range cfg.UsageInjectUpstreams {
		usageHosts[id] = struct{}{}
	}

	return &Forwarder{
		selector:       selector,
		client:         &http.Client{Transport: transport},
		bufPool:        pool.NewLitePool(func() *[]byte { b := make([]byte, streamBufferSize); return &b }),
		proxyTokens:    tokens,
		usageHosts:     usageHosts,
		requestTimeout: cfg.RequestTimeout,
		ban:            cfg.Ban,
		global:         global,
		metrics:        metrics,
		requestLog:     requestLog,
		feed:           eventbus.New[domain.RequestLogEntry](),
		latency:        latency,
		log:            log,
	}
}

// Feed returns the live completed-request event bus: one event per finished
// Forward call, consumed by the admin control plane's request-tailing SSE
// endpoint. Subscribers that fall behind have events dropped, never block
// the hot path.
func (f *Forwarder) Feed() *eventbus.EventBus[domain.RequestLogEntry] {
	return f.feed
}

var _ ports.Forwarder = (*Forwarder)(nil)

func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if !f.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return domain.ErrUnauthorized
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_body")
		return err
	}
	_ = r.Body.Close()

	model := routing.PeekModel(bodyBytes)
	start := time.Now()
	entry := domain.RequestLogEntry{
		RequestID: util.GenerateRequestID(),
		TsMs:      start.UnixMilli(),
		ClientIP:  util.GetClientIP(r, false, nil),
		Model:     model,
		ReqBytes:  int64(len(bodyBytes)),
	}

	f.global.TotalRequests.Add(1)
	f.global.ActiveConnections.Add(1)
	defer f.global.ActiveConnections.Add(-1)

	stream := f.selector.Select(ctx, model)
	for {
		cand, ok := stream.Next()
		if !ok {
			break
		}

		committed, status, respBytes, attemptErr := f.attempt(ctx, w, r, bodyBytes, cand, &entry)
		if committed {
			f.finish(&entry, start, status, respBytes, cand.Upstream.ID)
			return attemptErr
		}
		if attemptErr != nil && ctx.Err() != nil {
			// client disconnected mid-attempt: don't cool the candidate down
			// and don't continue to the next one.
			return attemptErr
		}
	}

	entry.Status = http.StatusBadGateway
	f.finish(&entry, start, http.StatusBadGateway, 0, "")
	writeJSONError(w, http.StatusBadGateway, "no_available_upstream")
	return domain.ErrNoCandidate
}

func (f *Forwarder) finish(entry *domain.RequestLogEntry, start time.Time, status int, respBytes int64, upstreamID string) {
	latency := time.Since(start)
	entry.Status = status
	entry.LatencyMs = latency.Milliseconds()
	entry.RespBytes = respBytes
	entry.UpstreamID = upstreamID

	success := status >= 200 && status < 500
	f.global.TotalLatencyMs.Add(latency.Milliseconds())
	if f.latency != nil {
		f.latency.Observe(float64(latency.Milliseconds()))
	}
	if success {
		f.global.Success.Add(1)
	} else {
		f.global.Errors.Add(1)
	}
	f.metrics.Record(start.UnixMilli(), success)
	f.requestLog.Push(*entry)
	f.feed.PublishAsync(*entry)

	if f.log != nil {
		f.log.Debug("request completed",
			"request_id", entry.RequestID,
			"status", entry.Status,
			"latency_ms", entry.LatencyMs,
			"upstream_id", entry.UpstreamID,
			"model", entry.Model,
		)
	}
}

func (f *Forwarder) authorized(r *http.Request) bool {
	if len(f.proxyTokens) == 0 {
		return true
	}
	token := r.Header.Get(constants.HeaderProxyToken)
	if token == "" {
		if auth := r.Header.Get(constants.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		return false
	}
	_, ok := f.proxyTokens[token]
	return ok
}

// attempt dispatches one (upstream, key) candidate. It returns committed=true
// once response headers have gone out to the client — from that point a
// transport failure can only truncate the stream, never trigger re-selection.
func (f *Forwarder) attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, bodyBytes []byte, cand ports.Candidate, entry *domain.RequestLogEntry) (committed bool, status int, respBytes int64, err error) {
	outReq, buildErr := f.buildOutboundRequest(ctx, r, bodyBytes, cand)
	if buildErr != nil {
		return false, 0, 0, buildErr
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	resp, doErr := f.client.Do(outReq.WithContext(attemptCtx))
	if doErr != nil {
		if ctx.Err() != nil {
			return false, 0, 0, ctx.Err()
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			f.recordFailure(cand, domain.FailureTimeout, f.ban.NetworkErrorMs)
			return false, 0, 0, doErr
		}
		f.recordFailure(cand, domain.FailureNetworkError, f.ban.NetworkErrorMs)
		return false, 0, 0, doErr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		cand.Key.Cooldown.RecordSuccess()
		cand.Upstream.Cooldown.RecordSuccess()
		cand.Upstream.Counters.RecordStatus(resp.StatusCode)
		n, streamErr := f.commit(w, resp, entry, cand.Upstream.ID)
		return true, resp.StatusCode, n, streamErr

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		cand.Upstream.Counters.RecordStatus(resp.StatusCode)
		f.recordKeyFailure(cand, domain.FailureAuthError, f.ban.AuthErrorMs)
		return false, resp.StatusCode, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		cand.Upstream.Counters.RecordStatus(resp.StatusCode)
		f.recordKeyFailure(cand, domain.FailureRateLimit, f.ban.RateLimitMs)
		return false, resp.StatusCode, 0, nil

	case resp.StatusCode >= 500:
		cand.Upstream.Counters.RecordStatus(resp.StatusCode)
		f.recordFailure(cand, domain.FailureServerError, f.ban.ServerErrorMs)
		return false, resp.StatusCode, 0, nil

	default:
		// other 4xx: the client sent something the upstream rejected on its
		// own merits, not a fault of this key or upstream. Commit it.
		cand.Key.Cooldown.RecordSuccess()
		cand.Upstream.Counters.RecordStatus(resp.StatusCode)
		n, streamErr := f.commit(w, resp, entry, cand.Upstream.ID)
		return true, resp.StatusCode, n, streamErr
	}
}

func (f *Forwarder) recordFailure(cand ports.Candidate, kind domain.FailureKind, baseMs int64) {
	cand.Upstream.Cooldown.RecordFailure(nowMs(), baseMs, f.ban.MaxBackoffPow)
	cand.Upstream.Counters.ErrorsNetwork.Add(boolToInt64(kind == domain.FailureNetworkError))
	cand.Upstream.Counters.ErrorsTimeout.Add(boolToInt64(kind == domain.FailureTimeout))
	cand.Key.SetLastFailureKind(kind)
}

func (f *Forwarder) recordKeyFailure(cand ports.Candidate, kind domain.FailureKind, baseMs int64) {
	cand.Key.Cooldown.RecordFailure(nowMs(), baseMs, f.ban.MaxBackoffPow)
	cand.Key.SetLastFailureKind(kind)
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func (f *Forwarder) buildOutboundRequest(ctx context.Context, r *http.Request, bodyBytes []byte, cand ports.Candidate) (*http.Request, error) {
	path := util.StripRoutePrefix(ctx, r.URL.Path, constants.ContextRoutePrefixKey)
	target := util.JoinURLPath(cand.Upstream.BaseURL, path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("building outbound request: %w", err)
	}

	outReq.Header = make(http.Header, len(r.Header))
	for name, values := range r.Header {
		if isHopByHop(name) || strings.EqualFold(name, constants.HeaderAuthorization) || strings.EqualFold(name, constants.HeaderHost) {
			continue
		}
		outReq.Header[name] = values
	}
	outReq.Header.Set(constants.HeaderAuthorization, "Bearer "+string(cand.Key.Secret))

	if host, err := hostOf(cand.Upstream.BaseURL); err == nil {
		outReq.Host = host
	}

	return outReq, nil
}

func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

func isHopByHop(name string) bool {
	for _, h := range constants.HopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
