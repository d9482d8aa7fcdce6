package routing

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
)

// Holder publishes the current State via an atomic pointer so admin
// mutations can swap in a new snapshot without readers taking a lock.
type Holder struct {
	ptr atomic.Pointer[State]
}

func NewHolder(initial *State) *Holder {
	h := &Holder{}
	h.Store(initial)
	return h
}

func (h *Holder) Load() *State   { return h.ptr.Load() }
func (h *Holder) Store(s *State) { h.ptr.Store(s) }

// Selector implements ports.Selector against a Holder's current snapshot.
type Selector struct {
	holder *Holder
}

func NewSelector(holder *Holder) *Selector {
	return &Selector{holder: holder}
}

func (s *Selector) Select(ctx context.Context, modelHint string) ports.CandidateStream {
	state := s.holder.Load()
	if state == nil || len(state.Upstreams) == 0 {
		return &emptyStream{}
	}

	startIdx := state.nextScheduleSlot()

	return &candidateStream{
		state:       state,
		modelHint:   modelHint,
		nowMs:       nowMs(),
		startIdx:    startIdx,
		upstreamPos: -1, // advanced to startIdx on first Next
	}
}

// candidateStream is the lazy (upstream, key) sequence a Select call walks. It
// scans up to len(Upstreams) distinct upstreams starting at startIdx, and
// within each, up to len(Keys) keys starting at that upstream's own
// cursor. No allocation beyond the stream struct itself; Next returns
// plain values.
type candidateStream struct {
	state     *State
	modelHint string
	nowMs     int64

	startIdx    int
	upstreamPos int // -1 until first advance
	upstreamsTried int

	curUpstream     *domain.Upstream
	curKeyStart     uint64
	keysTriedInCurr int
}

func (cs *candidateStream) Next() (ports.Candidate, bool) {
	for {
		if cs.curUpstream == nil {
			if !cs.advanceUpstream() {
				return ports.Candidate{}, false
			}
		}

		if cand, ok := cs.nextKeyInCurrentUpstream(); ok {
			return cand, true
		}

		// exhausted this upstream's keys, move on
		cs.curUpstream = nil
	}
}

// advanceUpstream moves to the next candidate upstream in scan order,
// skipping ones under cooldown or excluded by the route table. Returns
// false once N upstreams (N = total count) have been tried.
func (cs *candidateStream) advanceUpstream() bool {
	n := len(cs.state.Upstreams)
	for cs.upstreamsTried < n {
		idx := (cs.startIdx + cs.upstreamsTried) % n
		cs.upstreamsTried++

		u := cs.state.Upstreams[idx]
		if !u.Available(cs.nowMs) {
			continue
		}
		if !cs.state.RouteTable.Allows(cs.modelHint, u.ID) {
			continue
		}
		if len(u.Keys) == 0 {
			continue
		}

		cs.curUpstream = u
		cs.curKeyStart = u.NextKeyIndex()
		cs.keysTriedInCurr = 0
		return true
	}
	return false
}

// nextKeyInCurrentUpstream scans up to len(Keys) keys starting at
// curKeyStart, skipping ones under cooldown.
func (cs *candidateStream) nextKeyInCurrentUpstream() (ports.Candidate, bool) {
	u := cs.curUpstream
	m := len(u.Keys)

	for cs.keysTriedInCurr < m {
		idx := (int(cs.curKeyStart) + cs.keysTriedInCurr) % m
		cs.keysTriedInCurr++

		k := u.Keys[idx]
		if !k.Available(cs.nowMs) {
			continue
		}

		k.MarkSelected(cs.nowMs)
		u.Counters.SelectedTotal.Add(1)

		return ports.Candidate{Upstream: u, Key: k}, true
	}
	return ports.Candidate{}, false
}

type emptyStream struct{}

func (e *emptyStream) Next() (ports.Candidate, bool) { return ports.Candidate{}, false }

// PeekModel best-effort extracts the top-level "model" field from a
// request body without fully decoding it. Failure to
// parse is non-fatal: callers treat an empty return as "unknown model".
func PeekModel(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}
