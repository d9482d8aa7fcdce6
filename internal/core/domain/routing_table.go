package domain

import "github.com/HsGalaxy/gptload-go/internal/util/pattern"

// RouteTable maps model names to the ordered list of upstream ids allowed to
// serve them. An empty table means "every upstream is a candidate
// for every model" — the selector only filters when a model both appears in
// the request and is present as a key in ModelToUpstreams. A key may be a
// literal model name or a glob pattern (e.g. "gpt-4*"), so one route entry
// can cover a whole model family without enumerating every variant.
type RouteTable struct {
	ModelToUpstreams map[string][]string `json:"model_to_upstreams" yaml:"model_to_upstreams"`
	UpstreamToModels map[string][]string `json:"upstream_to_models" yaml:"upstream_to_models"`
	UpdatedAtMs      int64               `json:"updated_at_ms" yaml:"updated_at_ms"`
}

func NewRouteTable() *RouteTable {
	return &RouteTable{
		ModelToUpstreams: make(map[string][]string),
		UpstreamToModels: make(map[string][]string),
	}
}

// Allows reports whether upstreamID may serve model. An unconfigured table
// (no entries at all) allows everything; a configured table only allows
// upstreams listed under a matching key, literal or glob, for a model it
// knows about. A literal key takes precedence and skips the glob scan.
func (rt *RouteTable) Allows(model, upstreamID string) bool {
	if rt == nil || len(rt.ModelToUpstreams) == 0 {
		return true
	}
	if ids, known := rt.ModelToUpstreams[model]; known {
		return containsID(ids, upstreamID)
	}
	matched := false
	for key, ids := range rt.ModelToUpstreams {
		if key == model {
			continue
		}
		if pattern.MatchesGlob(model, key) {
			matched = true
			if containsID(ids, upstreamID) {
				return true
			}
		}
	}
	return !matched
}

func containsID(ids []string, upstreamID string) bool {
	for _, id := range ids {
		if id == upstreamID {
			return true
		}
	}
	return false
}

// Rebuild recomputes UpstreamToModels from ModelToUpstreams after a PUT.
func (rt *RouteTable) Rebuild() {
	rt.UpstreamToModels = make(map[string][]string)
	for model, upstreams := range rt.ModelToUpstreams {
		for _, id := range upstreams {
			rt.UpstreamToModels[id] = append(rt.UpstreamToModels[id], model)
		}
	}
}
