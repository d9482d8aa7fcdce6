// Package ports declares the seams between the routing engine's core and
// its adapters, following a hexagonal ports-and-adapters style.
package ports

import (
	"context"
	"net/http"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

// StoredKey is one row scanned back from persistence.
type StoredKey struct {
	UpstreamID  string
	Secret      []byte
	CreatedAtMs int64
}

// Persistence is the embedded key-value store contract the admin and
// bootstrap paths depend on.
type Persistence interface {
	PutKeys(ctx context.Context, upstreamID string, secrets [][]byte) error
	DeleteKeys(ctx context.Context, upstreamID string, secrets [][]byte) error
	ReplaceKeys(ctx context.Context, upstreamID string, secrets [][]byte) error
	ScanKeys(ctx context.Context) ([]StoredKey, error)
	DeleteUpstream(ctx context.Context, upstreamID string) error

	PutBilling(ctx context.Context, apiKey string, balance float64, updatedAtMs int64) error
	GetBilling(ctx context.Context, apiKey string) (balance float64, updatedAtMs int64, found bool, err error)
	DeleteBilling(ctx context.Context, apiKey string) error

	PutDocument(ctx context.Context, name string, value []byte, updatedAtMs int64) error
	GetDocument(ctx context.Context, name string) (value []byte, updatedAtMs int64, found bool, err error)

	Close() error
}

// Candidate is one (upstream, key) pair offered by the selector.
type Candidate struct {
	Upstream *domain.Upstream
	Key      *domain.Key
}

// Selector yields the lazy candidate stream a Forward call walks. Implementations
// must be wait-free on the hot path and must not allocate per call.
type Selector interface {
	Select(ctx context.Context, modelHint string) CandidateStream
}

// CandidateStream is consumed by the forwarder one candidate at a time; the
// consumer may abandon it at any point.
type CandidateStream interface {
	Next() (Candidate, bool)
}

// BanConfig holds the base cooldown durations and backoff cap feeding the
// cooldown state machine.
type BanConfig struct {
	AuthErrorMs    int64
	RateLimitMs    int64
	ServerErrorMs  int64
	NetworkErrorMs int64
	MaxBackoffPow  int
}

func DefaultBanConfig() BanConfig {
	return BanConfig{
		AuthErrorMs:    86_400_000,
		RateLimitMs:    30_000,
		ServerErrorMs:  5_000,
		NetworkErrorMs: 5_000,
		MaxBackoffPow:  domain.DefaultMaxBackoffPow,
	}
}

// Forwarder executes one client request against the candidate stream.
type Forwarder interface {
	Forward(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// LatencyRecorder observes one completed request's latency in milliseconds.
// Satisfied structurally by a prometheus.Histogram (whose Observe(float64)
// method matches), without this package importing prometheus itself.
type LatencyRecorder interface {
	Observe(ms float64)
}
