// Package app wires the process together: config, persistence, routing
// state, the admin control plane, the forwarder, and the HTTP listener.
// Follows a New/Start/Stop shape driven from main.go, with the
// store/routing/admin/forwarder graph replacing a discovery-service and
// health-checker wiring.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HsGalaxy/gptload-go/internal/adapter/forwarder"
	"github.com/HsGalaxy/gptload-go/internal/adapter/promexport"
	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/adapter/security"
	"github.com/HsGalaxy/gptload-go/internal/adapter/store"
	"github.com/HsGalaxy/gptload-go/internal/adminapi"
	"github.com/HsGalaxy/gptload-go/internal/config"
	"github.com/HsGalaxy/gptload-go/internal/core/constants"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
	"github.com/HsGalaxy/gptload-go/internal/logger"
	"github.com/HsGalaxy/gptload-go/internal/router"
)

const (
	shutdownGrace = 15 * time.Second
	dbFileName    = "gptload.db"
)

// Sentinel errors New and Start wrap their failures in, so main.go can map
// a failure to the exit code a process supervisor branches on without
// string-matching error text.
var (
	ErrConfig      = errors.New("config error")
	ErrPersistence = errors.New("persistence init failure")
	ErrBind        = errors.New("bind failure")
)

// Application owns the process's long-lived resources and their shutdown
// order: listener, then forwarder's in-flight drain, then persistence.
type Application struct {
	startTime time.Time
	log       *logger.StyledLogger

	cfg   *config.Config
	store *store.SQLiteStore

	holder  *routing.Holder
	admin   *adminapi.Service
	fwd     *forwarder.Forwarder
	latency prometheus.Histogram

	server *http.Server
	errCh  chan error
}

// New loads config, opens persistence, seeds and reloads routing state,
// and builds the HTTP handler graph. It does not start listening — that's
// Start's job, so main.go can log and react to construction errors before
// committing to a bound port.
func New(startTime time.Time, log *logger.StyledLogger) (*Application, error) {
	a := &Application{startTime: startTime, log: log, errCh: make(chan error, 1)}

	cfg, err := config.Load(a.onConfigChange)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w: %w", ErrConfig, err)
	}
	a.cfg = cfg
	configureRuntime(cfg.WorkerThreads, log)

	st, err := store.Open(filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("opening persistence: %w: %w", ErrPersistence, err)
	}
	a.store = st

	ban := ports.BanConfig{
		AuthErrorMs:    cfg.Ban.AuthErrorMs,
		RateLimitMs:    cfg.Ban.RateLimitMs,
		ServerErrorMs:  cfg.Ban.ServerErrorMs,
		NetworkErrorMs: cfg.Ban.NetworkErrorMs,
		MaxBackoffPow:  cfg.Ban.MaxBackoffPow,
	}

	a.holder = routing.NewHolder(routing.NewState(nil, domain.NewRouteTable()))

	global := &domain.GlobalCounters{}
	metrics := domain.NewMetricBuckets()
	requestLog := domain.NewRequestLogRing(domain.DefaultRequestLogCapacity)
	latency := promexport.NewLatencyHistogram()
	a.latency = latency

	fwd := forwarder.New(routing.NewSelector(a.holder), forwarder.Config{
		ProxyTokens:          cfg.ProxyTokens,
		UsageInjectUpstreams: cfg.UsageInjectUpstreams,
		RequestTimeout:       time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		Ban:                  ban,
	}, global, metrics, requestLog, latency, log)
	a.fwd = fwd

	a.admin = adminapi.New(a.holder, a.store, adminapi.Config{
		AdminTokens: cfg.AdminTokens,
		Ban:         ban,
	}, global, metrics, requestLog, fwd.Feed(), log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := seedUpstreamsFromConfig(ctx, a.store, cfg); err != nil {
		st.Close()
		return nil, fmt.Errorf("seeding upstreams from config: %w: %w", ErrPersistence, err)
	}
	if err := a.admin.Reload(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("initial routing reload: %w: %w", ErrPersistence, err)
	}
	logUpstreamSummary(a.holder, log)

	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.buildMux(fwd, global),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// onConfigChange fires on a debounced config file write (internal/config's
// viper watch). Routing state (upstreams, keys, route table) is
// admin-managed and persisted, not config-managed past the first bootstrap,
// and no running setting is re-read from the file; this only tells the
// operator how to push a change through (restart or admin reload).
func (a *Application) onConfigChange() {
	a.log.Info("Config file changed on disk; restart to apply listener/logging changes, or POST /admin/api/v1/reload to refresh routing state from persistence")
}

// configureRuntime clamps GOMAXPROCS to worker_threads. Workers can reduce
// parallelism below the runtime's natural default but never raise it above
// what the host actually has, since Go's scheduler already saturates every
// real core on its own.
func configureRuntime(workerThreads int, log *logger.StyledLogger) {
	base := runtime.GOMAXPROCS(0)
	desired := base
	if workerThreads > 0 && workerThreads < base {
		desired = workerThreads
	}
	runtime.GOMAXPROCS(desired)
	log.Info("Runtime configured", "gomaxprocs", desired, "worker_threads", workerThreads, "host_cpus", base)
}

func (a *Application) buildMux(fwd ports.Forwarder, global *domain.GlobalCounters) *http.ServeMux {
	mux := http.NewServeMux()
	registry := router.NewRouteRegistry(a.log)

	promHandler := promhttp.HandlerFor(promexport.Registry(global, a.holder, a.latency), promhttp.HandlerOpts{})
	registry.RegisterWithMethod("GET /metrics", promHandler.ServeHTTP, "Prometheus exposition", "GET")
	registry.RegisterWithMethod("GET /internal/health", handleHealth(a.startTime), "Liveness probe", "GET")
	registry.RegisterWithMethod("/admin/", func(w http.ResponseWriter, r *http.Request) {
		a.admin.Mux().ServeHTTP(w, r)
	}, "Admin control plane (see /admin/api/v1/*)", "ANY")
	registry.RegisterProxyRoute("/", func(w http.ResponseWriter, r *http.Request) {
		if err := fwd.Forward(r.Context(), w, r); err != nil && a.log != nil {
			a.log.Debug("forward attempt ended", "error", err, "path", r.URL.Path)
		}
	}, "OpenAI-compatible reverse proxy", "ANY")

	sizeLimiter := security.NewSizeLimiter(a.cfg.MaxRequestBodyBytes, a.log)
	registry.WireUpWithMiddleware(mux, sizeLimiter, nil)
	return mux
}

func handleHealth(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"uptime_sec": int64(time.Since(startTime).Seconds()),
		})
	}
}

// Start binds the listener and begins serving in the background; listener
// errors surface asynchronously on Err() rather than blocking Start, since
// ListenAndServe only returns once the server stops.
func (a *Application) Start(ctx context.Context) error {
	a.log.InfoWithEndpoint("Starting listener", a.server.Addr)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errCh <- fmt.Errorf("%w: %w", ErrBind, err)
		}
	}()

	return nil
}

// Err reports fatal, asynchronous failures of the running listener (e.g. a
// bind error) — distinct from the in-band errors New and Start return
// directly, which only cover construction-time failures.
func (a *Application) Err() <-chan error {
	return a.errCh
}

// Stop drains in-flight requests up to shutdownGrace, then closes
// persistence.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("Listener did not drain cleanly", "error", err)
	}

	if a.fwd != nil {
		a.fwd.Feed().Shutdown()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("closing persistence: %w", err)
		}
	}
	return nil
}
