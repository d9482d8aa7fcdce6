package domain

import "sync/atomic"

// UpstreamCounters are the per-upstream atomic tallies. Relaxed
// atomic addition only; consistency across counters is not promised, only
// per-counter monotonicity.
type UpstreamCounters struct {
	SelectedTotal  atomic.Int64
	Responses2xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64
	ErrorsNetwork  atomic.Int64
	ErrorsTimeout  atomic.Int64
}

func (c *UpstreamCounters) RecordStatus(status int) {
	switch {
	case status >= 200 && status < 300:
		c.Responses2xx.Add(1)
	case status >= 400 && status < 500:
		c.Responses4xx.Add(1)
	case status >= 500:
		c.Responses5xx.Add(1)
	}
}

func (c *UpstreamCounters) Snapshot() UpstreamCountersSnapshot {
	return UpstreamCountersSnapshot{
		SelectedTotal: c.SelectedTotal.Load(),
		Responses2xx:  c.Responses2xx.Load(),
		Responses4xx:  c.Responses4xx.Load(),
		Responses5xx:  c.Responses5xx.Load(),
		ErrorsNetwork: c.ErrorsNetwork.Load(),
		ErrorsTimeout: c.ErrorsTimeout.Load(),
	}
}

// UpstreamCountersSnapshot is a point-in-time, non-atomic copy for JSON responses.
type UpstreamCountersSnapshot struct {
	SelectedTotal int64 `json:"selected_total"`
	Responses2xx  int64 `json:"responses_2xx"`
	Responses4xx  int64 `json:"responses_4xx"`
	Responses5xx  int64 `json:"responses_5xx"`
	ErrorsNetwork int64 `json:"errors_network"`
	ErrorsTimeout int64 `json:"errors_timeout"`
}

// GlobalCounters are the process-wide tallies.
type GlobalCounters struct {
	TotalRequests     atomic.Int64
	Success           atomic.Int64
	Errors            atomic.Int64
	ActiveConnections atomic.Int64
	TotalLatencyMs    atomic.Int64
}

func (g *GlobalCounters) Snapshot() GlobalCountersSnapshot {
	total := g.TotalRequests.Load()
	var avg int64
	if total > 0 {
		avg = g.TotalLatencyMs.Load() / total
	}
	return GlobalCountersSnapshot{
		TotalRequests:      total,
		Success:            g.Success.Load(),
		Errors:             g.Errors.Load(),
		ActiveConnections:  g.ActiveConnections.Load(),
		AverageLatencyMs:   avg,
	}
}

type GlobalCountersSnapshot struct {
	TotalRequests     int64 `json:"total_requests"`
	Success           int64 `json:"success"`
	Errors            int64 `json:"errors"`
	ActiveConnections int64 `json:"active_connections"`
	AverageLatencyMs  int64 `json:"average_latency_ms"`
}
