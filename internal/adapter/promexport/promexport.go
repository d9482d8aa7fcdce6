// Package promexport exposes the domain's atomic counters on GET /metrics
// in Prometheus text format, alongside the JSON admin endpoints which stay
// JSON for the admin UI. Global counters are wired as *Func metrics that
// read straight off the atomics at scrape time, so there is no second copy
// of state to keep in sync; per-upstream counters use a custom Collector
// since the upstream set itself changes under admin CRUD and reload.
package promexport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

const namespace = "gptload"

// latencyBuckets spans a fast in-process forward (a few ms) out to a slow
// upstream completion hung near the request timeout, in roughly 1-2.5-5
// steps per decade.
var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewLatencyHistogram builds the request-latency histogram. It's created
// once at startup, handed to the forwarder to Observe into on the hot path,
// and registered into Registry's collector set here — the same instance,
// not a second copy, so what gets scraped is exactly what got observed.
func NewLatencyHistogram() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_latency_ms",
		Help:      "Distribution of end-to-end proxy request latency in milliseconds.",
		Buckets:   latencyBuckets,
	})
}

// Registry builds a fresh, isolated *prometheus.Registry rather than using
// the global DefaultRegisterer, so tests can construct as many as they like
// without a "duplicate metrics collector registration" panic.
func Registry(global *domain.GlobalCounters, holder *routing.Holder, latency prometheus.Histogram) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total proxy requests accepted.",
		}, func() float64 { return float64(global.TotalRequests.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_success_total",
			Help:      "Proxy requests that completed with a non-5xx status.",
		}, func() float64 { return float64(global.Success.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_error_total",
			Help:      "Proxy requests that exhausted every candidate or returned 5xx.",
		}, func() float64 { return float64(global.Errors.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Requests currently being forwarded.",
		}, func() float64 { return float64(global.ActiveConnections.Load()) }),
		latency,
		newUpstreamCollector(holder),
	)

	return reg
}

type upstreamCollector struct {
	holder *routing.Holder

	selected   *prometheus.Desc
	resp2xx    *prometheus.Desc
	resp4xx    *prometheus.Desc
	resp5xx    *prometheus.Desc
	errNetwork *prometheus.Desc
	errTimeout *prometheus.Desc
	available  *prometheus.Desc
	keyCount   *prometheus.Desc
}

func newUpstreamCollector(holder *routing.Holder) *upstreamCollector {
	labels := []string{"upstream"}
	return &upstreamCollector{
		holder:     holder,
		selected:   prometheus.NewDesc(namespace+"_upstream_selected_total", "Times this upstream was chosen as a candidate.", labels, nil),
		resp2xx:    prometheus.NewDesc(namespace+"_upstream_responses_2xx_total", "2xx responses from this upstream.", labels, nil),
		resp4xx:    prometheus.NewDesc(namespace+"_upstream_responses_4xx_total", "4xx responses from this upstream.", labels, nil),
		resp5xx:    prometheus.NewDesc(namespace+"_upstream_responses_5xx_total", "5xx responses from this upstream.", labels, nil),
		errNetwork: prometheus.NewDesc(namespace+"_upstream_errors_network_total", "Network-level errors reaching this upstream.", labels, nil),
		errTimeout: prometheus.NewDesc(namespace+"_upstream_errors_timeout_total", "Request timeouts against this upstream.", labels, nil),
		available:  prometheus.NewDesc(namespace+"_upstream_available", "1 if the upstream is past its cooldown deadline, else 0.", labels, nil),
		keyCount:   prometheus.NewDesc(namespace+"_upstream_key_count", "Number of keys configured for this upstream.", labels, nil),
	}
}

func (c *upstreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.selected
	ch <- c.resp2xx
	ch <- c.resp4xx
	ch <- c.resp5xx
	ch <- c.errNetwork
	ch <- c.errTimeout
	ch <- c.available
	ch <- c.keyCount
}

func (c *upstreamCollector) Collect(ch chan<- prometheus.Metric) {
	state := c.holder.Load()
	now := time.Now().UnixMilli()
	for _, u := range state.Upstreams {
		snap := u.Counters.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.selected, prometheus.CounterValue, float64(snap.SelectedTotal), u.ID)
		ch <- prometheus.MustNewConstMetric(c.resp2xx, prometheus.CounterValue, float64(snap.Responses2xx), u.ID)
		ch <- prometheus.MustNewConstMetric(c.resp4xx, prometheus.CounterValue, float64(snap.Responses4xx), u.ID)
		ch <- prometheus.MustNewConstMetric(c.resp5xx, prometheus.CounterValue, float64(snap.Responses5xx), u.ID)
		ch <- prometheus.MustNewConstMetric(c.errNetwork, prometheus.CounterValue, float64(snap.ErrorsNetwork), u.ID)
		ch <- prometheus.MustNewConstMetric(c.errTimeout, prometheus.CounterValue, float64(snap.ErrorsTimeout), u.ID)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, boolToFloat(u.Available(now)), u.ID)
		ch <- prometheus.MustNewConstMetric(c.keyCount, prometheus.GaugeValue, float64(len(u.Keys)), u.ID)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
