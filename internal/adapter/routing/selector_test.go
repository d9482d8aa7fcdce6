package routing

import (
	"context"
	"testing"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

func newTestUpstream(id, baseURL string, weight int, numKeys int) *domain.Upstream {
	u := domain.NewUpstream(id, baseURL, weight)
	for i := 0; i < numKeys; i++ {
		u.Keys = append(u.Keys, domain.NewKey(id, id, []byte("secret"), 0))
	}
	return u
}

func TestSelectorSkipsCooledDownUpstream(t *testing.T) {
	a := newTestUpstream("a", "http://a", 1, 1)
	b := newTestUpstream("b", "http://b", 1, 1)
	a.Cooldown.RecordFailure(time.Now().UnixMilli(), 1_000_000, domain.DefaultMaxBackoffPow)

	holder := NewHolder(NewState([]*domain.Upstream{a, b}, nil))
	sel := NewSelector(holder)

	stream := sel.Select(context.Background(), "")
	cand, ok := stream.Next()
	if !ok {
		t.Fatal("expected a candidate")
	}
	if cand.Upstream.ID != "b" {
		t.Fatalf("expected upstream b (a is cooling down), got %s", cand.Upstream.ID)
	}
}

func TestSelectorReturnsNoCandidateWhenAllCoolingDown(t *testing.T) {
	a := newTestUpstream("a", "http://a", 1, 1)
	a.Cooldown.RecordFailure(time.Now().UnixMilli(), 1_000_000, domain.DefaultMaxBackoffPow)

	holder := NewHolder(NewState([]*domain.Upstream{a}, nil))
	sel := NewSelector(holder)

	stream := sel.Select(context.Background(), "")
	if _, ok := stream.Next(); ok {
		t.Fatal("expected no candidate when the only upstream is cooling down")
	}
}

func TestSelectorHonoursRouteTable(t *testing.T) {
	a := newTestUpstream("a", "http://a", 1, 1)
	b := newTestUpstream("b", "http://b", 1, 1)

	rt := domain.NewRouteTable()
	rt.ModelToUpstreams["gpt-x"] = []string{"b"}
	rt.Rebuild()

	holder := NewHolder(NewState([]*domain.Upstream{a, b}, rt))
	sel := NewSelector(holder)

	stream := sel.Select(context.Background(), "gpt-x")
	cand, ok := stream.Next()
	if !ok {
		t.Fatal("expected a candidate")
	}
	if cand.Upstream.ID != "b" {
		t.Fatalf("expected route table to restrict selection to upstream b, got %s", cand.Upstream.ID)
	}
}

func TestSelectorWeightFairness(t *testing.T) {
	a := newTestUpstream("a", "http://a", 1, 1)
	b := newTestUpstream("b", "http://b", 3, 1)

	holder := NewHolder(NewState([]*domain.Upstream{a, b}, nil))
	sel := NewSelector(holder)

	counts := map[string]int{}
	const n = 4000 // >= 10 * total_weight(4)
	for i := 0; i < n; i++ {
		stream := sel.Select(context.Background(), "")
		cand, ok := stream.Next()
		if !ok {
			t.Fatal("expected a candidate")
		}
		counts[cand.Upstream.ID]++
		// simulate success so keys never cool down between draws
		cand.Key.Cooldown.RecordSuccess()
	}

	shareA := float64(counts["a"]) / float64(n)
	shareB := float64(counts["b"]) / float64(n)

	if shareA < 0.15 || shareA > 0.35 {
		t.Fatalf("expected upstream a share near 0.25, got %f (%d/%d)", shareA, counts["a"], n)
	}
	if shareB < 0.65 || shareB > 0.85 {
		t.Fatalf("expected upstream b share near 0.75, got %f (%d/%d)", shareB, counts["b"], n)
	}
}

func TestSelectorSkipsCooledDownKeyWithinUpstream(t *testing.T) {
	a := newTestUpstream("a", "http://a", 1, 2)
	a.Keys[0].Cooldown.RecordFailure(time.Now().UnixMilli(), 1_000_000, domain.DefaultMaxBackoffPow)

	holder := NewHolder(NewState([]*domain.Upstream{a}, nil))
	sel := NewSelector(holder)

	stream := sel.Select(context.Background(), "")
	cand, ok := stream.Next()
	if !ok {
		t.Fatal("expected a candidate")
	}
	if cand.Key != a.Keys[1] {
		t.Fatal("expected the non-cooling-down key to be selected")
	}
}

func TestPeekModelTolerantOfBadJSON(t *testing.T) {
	if got := PeekModel([]byte("not json")); got != "" {
		t.Fatalf("expected empty string for invalid JSON, got %q", got)
	}
	if got := PeekModel([]byte(`{"model":"gpt-x"}`)); got != "gpt-x" {
		t.Fatalf("expected gpt-x, got %q", got)
	}
}
