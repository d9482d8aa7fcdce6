package domain

import "sync"

// RequestLogEntry is one row of the bounded request log ring.
// client_ip is retained for operator debugging; Authorization is never
// captured.
type RequestLogEntry struct {
	RequestID        string `json:"request_id"`
	TsMs             int64  `json:"ts_ms"`
	ClientIP         string `json:"client_ip"`
	Model            string `json:"model,omitempty"`
	Status           int    `json:"status"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
	ReqBytes         int64  `json:"req_bytes"`
	RespBytes        int64  `json:"resp_bytes"`
	UpstreamID       string `json:"upstream_id,omitempty"`
}

// RequestLogRing is a bounded, oldest-evicted-on-overflow ring buffer of
// recent requests. Ring-buffers structured log rows instead of bytes,
// guarded by a short mutex critical section.
type RequestLogRing struct {
	mu      sync.Mutex
	entries []RequestLogEntry
	head    int
	size    int
	cap     int
}

const DefaultRequestLogCapacity = 1024

func NewRequestLogRing(capacity int) *RequestLogRing {
	if capacity <= 0 {
		capacity = DefaultRequestLogCapacity
	}
	return &RequestLogRing{
		entries: make([]RequestLogEntry, capacity),
		cap:     capacity,
	}
}

func (r *RequestLogRing) Push(entry RequestLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.head + r.size) % r.cap
	if r.size == r.cap {
		// full: overwrite the oldest slot and advance head
		idx = r.head
		r.head = (r.head + 1) % r.cap
	} else {
		r.size++
	}
	r.entries[idx] = entry
}

// Recent returns up to limit entries, newest first.
func (r *RequestLogRing) Recent(limit int) []RequestLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}

	out := make([]RequestLogEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head + r.size - 1 - i + r.cap) % r.cap
		out = append(out, r.entries[idx])
	}
	return out
}
