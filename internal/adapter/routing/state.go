// Package routing holds the in-memory routing state: the
// ordered upstream list, their key pools, the weighted schedule, and the
// selector that walks them. Builds on an atomic-cursor round-robin
// balancer's weighted-selection shape, generalised from a per-request
// endpoint pick into a two-level upstream/key scan with cooldown skipping.
package routing

import (
	"sync/atomic"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

// State is one immutable snapshot of the routing table. Admin mutations
// build a new State and swap it into the Holder atomically (RCU-style);
// readers
// in flight keep consuming the old snapshot until they next call Select.
type State struct {
	Upstreams []*domain.Upstream
	byID      map[string]*domain.Upstream

	// schedule is the weighted round-robin expansion: upstream index i
	// appears Upstreams[i].Weight times.
	schedule []int
	cursor   atomic.Uint64

	RouteTable *domain.RouteTable

	Global        *domain.GlobalCounters
	RequestLog    *domain.RequestLogRing
	MetricBuckets *domain.MetricBuckets
}

// NewState builds a snapshot from an ordered upstream list and an optional
// route table (nil means "no restriction").
func NewState(upstreams []*domain.Upstream, routeTable *domain.RouteTable) *State {
	if routeTable == nil {
		routeTable = domain.NewRouteTable()
	}

	s := &State{
		Upstreams:     upstreams,
		byID:          make(map[string]*domain.Upstream, len(upstreams)),
		RouteTable:    routeTable,
		Global:        &domain.GlobalCounters{},
		RequestLog:    domain.NewRequestLogRing(domain.DefaultRequestLogCapacity),
		MetricBuckets: domain.NewMetricBuckets(),
	}
	for _, u := range upstreams {
		s.byID[u.ID] = u
	}
	s.schedule = buildSchedule(upstreams)
	return s
}

// WithCounters rebuilds the schedule/index but carries over the previous
// snapshot's live counters, request log and metric buckets so a reload or
// an admin mutation doesn't reset observability state that 
// doesn't say should reset (only cooldowns reset on reload, per the Open
// Question decision recorded in DESIGN.md).
func (s *State) WithCounters(upstreams []*domain.Upstream, routeTable *domain.RouteTable) *State {
	next := NewState(upstreams, routeTable)
	next.Global = s.Global
	next.RequestLog = s.RequestLog
	next.MetricBuckets = s.MetricBuckets
	return next
}

// buildSchedule expands the weighted round-robin table: upstream
// index i appears Weight(i) times. The arrangement interleaves upstreams
// (round-robin across weight "rounds") rather than grouping them, so a
// narrow window of consecutive cursor advances still reflects the mix.
func buildSchedule(upstreams []*domain.Upstream) []int {
	if len(upstreams) == 0 {
		return nil
	}

	maxWeight := 0
	total := 0
	for _, u := range upstreams {
		if u.Weight > maxWeight {
			maxWeight = u.Weight
		}
		total += u.Weight
	}

	schedule := make([]int, 0, total)
	for round := 0; round < maxWeight; round++ {
		for i, u := range upstreams {
			if u.Weight > round {
				schedule = append(schedule, i)
			}
		}
	}
	return schedule
}

func (s *State) ByID(id string) (*domain.Upstream, bool) {
	u, ok := s.byID[id]
	return u, ok
}

// nextScheduleSlot advances the shared cursor once and returns the
// starting upstream index for a selection.
func (s *State) nextScheduleSlot() int {
	if len(s.schedule) == 0 {
		return 0
	}
	idx := s.cursor.Add(1) - 1
	return s.schedule[idx%uint64(len(s.schedule))]
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
