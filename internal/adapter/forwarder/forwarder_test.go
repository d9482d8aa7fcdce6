package forwarder

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
	"github.com/HsGalaxy/gptload-go/internal/logger"
	"github.com/HsGalaxy/gptload-go/theme"
)

func newTestForwarder(t *testing.T, upstreams []*domain.Upstream, proxyTokens []string) (*Forwarder, *domain.RequestLogRing) {
	t.Helper()
	holder := routing.NewHolder(routing.NewState(upstreams, nil))
	sel := routing.NewSelector(holder)

	log := logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
	reqLog := domain.NewRequestLogRing(16)

	fw := New(sel, Config{
		ProxyTokens:    proxyTokens,
		RequestTimeout: 2 * time.Second,
		Ban:            ports.DefaultBanConfig(),
	}, &domain.GlobalCounters{}, domain.NewMetricBuckets(), reqLog, nil, log)

	return fw, reqLog
}

func TestForwardCommitsOn2xxAndRecordsUsage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x","usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`))
	}))
	defer backend.Close()

	u := domain.NewUpstream("u1", backend.URL, 1)
	u.Keys = append(u.Keys, domain.NewKey("u1", "h1", []byte("secret"), 0))

	fw, reqLog := newTestForwarder(t, []*domain.Upstream{u}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	if err := fw.Forward(req.Context(), rec, req); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries := reqLog.Recent(1)
	if len(entries) != 1 {
		t.Fatalf("expected one logged request, got %d", len(entries))
	}
	if entries[0].TotalTokens == nil || *entries[0].TotalTokens != 12 {
		t.Fatalf("expected total_tokens=12, got %+v", entries[0].TotalTokens)
	}
}

func TestForwardCooldownsKeyOn401AndRetriesNextKey(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	u := domain.NewUpstream("u1", backend.URL, 1)
	u.Keys = append(u.Keys,
		domain.NewKey("u1", "hbad", []byte("bad"), 0),
		domain.NewKey("u1", "hgood", []byte("good"), 0),
	)

	fw, _ := newTestForwarder(t, []*domain.Upstream{u}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	if err := fw.Forward(req.Context(), rec, req); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected eventual 200 after bad key cooldown, got %d", rec.Code)
	}

	if u.Keys[0].Available(time.Now().UnixMilli()) {
		t.Fatal("expected the unauthorized key to be cooling down")
	}
}

func TestForwardReturns502WhenUpstreamExhausted(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	u := domain.NewUpstream("u1", backend.URL, 1)
	u.Keys = append(u.Keys, domain.NewKey("u1", "h1", []byte("secret"), 0))

	fw, reqLog := newTestForwarder(t, []*domain.Upstream{u}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	if err := fw.Forward(req.Context(), rec, req); err != domain.ErrNoCandidate {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if string(body) != `{"error":"no_available_upstream"}`+"\n" {
		t.Fatalf("unexpected error body: %s", body)
	}

	entries := reqLog.Recent(1)
	if len(entries) != 1 || entries[0].Status != http.StatusBadGateway {
		t.Fatalf("expected logged 502 entry, got %+v", entries)
	}
	if u.Available(time.Now().UnixMilli()) {
		t.Fatal("expected upstream to be cooling down after server_error")
	}
}

func TestForwardRejectsMissingProxyToken(t *testing.T) {
	u := domain.NewUpstream("u1", "http://unused", 1)
	fw, _ := newTestForwarder(t, []*domain.Upstream{u}, []string{"secret-token"})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	if err := fw.Forward(req.Context(), rec, req); err != domain.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
