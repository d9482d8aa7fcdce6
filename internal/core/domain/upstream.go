package domain

import (
	"sync/atomic"
)

// Upstream is a configured remote OpenAI-compatible endpoint, identified by a
// stable string id. Mutated only by admin operations and by the
// forwarder's cooldown updates.
type Upstream struct {
	Keys []*Key

	ID      string
	BaseURL string

	Weight int

	Cooldown cooldownCell

	Counters UpstreamCounters

	// keyCursor advances the per-upstream key schedule.
	keyCursor atomic.Uint64
}

func NewUpstream(id, baseURL string, weight int) *Upstream {
	if weight < 1 {
		weight = 1
	}
	return &Upstream{
		ID:      id,
		BaseURL: baseURL,
		Weight:  weight,
	}
}

// NextKeyIndex advances the upstream's key cursor and returns the starting
// index for a scan of up to len(Keys) keys.
func (u *Upstream) NextKeyIndex() uint64 {
	return u.keyCursor.Add(1) - 1
}

func (u *Upstream) Available(nowMs int64) bool {
	return u.Cooldown.Available(nowMs)
}

// Key is a bearer secret belonging to exactly one upstream.
type Key struct {
	Secret []byte

	UpstreamID string
	KeyHash    string

	Cooldown cooldownCell

	lastSelectedMs    atomic.Int64
	kindOfLastFailure atomic.Int32
	createdAtMs       int64
}

func NewKey(upstreamID, keyHash string, secret []byte, createdAtMs int64) *Key {
	return &Key{
		UpstreamID:  upstreamID,
		KeyHash:     keyHash,
		Secret:      secret,
		createdAtMs: createdAtMs,
	}
}

func (k *Key) Available(nowMs int64) bool {
	return k.Cooldown.Available(nowMs)
}

func (k *Key) LastSelectedMs() int64 {
	return k.lastSelectedMs.Load()
}

func (k *Key) MarkSelected(nowMs int64) {
	k.lastSelectedMs.Store(nowMs)
}

func (k *Key) CreatedAtMs() int64 {
	return k.createdAtMs
}

func (k *Key) SetLastFailureKind(kind FailureKind) {
	k.kindOfLastFailure.Store(int32(kind))
}

func (k *Key) LastFailureKind() FailureKind {
	return FailureKind(k.kindOfLastFailure.Load())
}

// RedactSecret returns the last 4 characters of a key secret for display
// purposes; never logs the full value.
func RedactSecret(secret []byte) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + string(secret[len(secret)-4:])
}
