package adminapi

import (
	"context"
	"encoding/json"

	"github.com/HsGalaxy/gptload-go/internal/core/ports"
)

// UpstreamSeed is one config-declared `[[upstreams]]` entry, carried in by
// the bootstrap path only.
type UpstreamSeed struct {
	ID      string
	BaseURL string
	Weight  int
	Keys    []string
}

// SeedFromConfig bootstraps the upstream-definitions document and each
// upstream's key pool from config, but only where persistence doesn't
// already have an answer: an existing upstreamsDocument is left untouched,
// and a config upstream's Keys are only written if that upstream currently
// has zero stored keys. Persistence wins on every bootstrap after the first.
func SeedFromConfig(ctx context.Context, store ports.Persistence, seeds []UpstreamSeed) error {
	_, _, found, err := store.GetDocument(ctx, upstreamsDocument)
	if err != nil {
		return err
	}
	if !found {
		defs := make([]upstreamDef, 0, len(seeds))
		for _, s := range seeds {
			defs = append(defs, upstreamDef{ID: s.ID, BaseURL: s.BaseURL, Weight: s.Weight})
		}
		raw, err := json.Marshal(defs)
		if err != nil {
			return err
		}
		if err := store.PutDocument(ctx, upstreamsDocument, raw, nowMs()); err != nil {
			return err
		}
	}

	stored, err := store.ScanKeys(ctx)
	if err != nil {
		return err
	}
	hasKeys := make(map[string]bool, len(stored))
	for _, k := range stored {
		hasKeys[k.UpstreamID] = true
	}

	for _, s := range seeds {
		if len(s.Keys) == 0 || hasKeys[s.ID] {
			continue
		}
		secrets := make([][]byte, 0, len(s.Keys))
		for _, k := range s.Keys {
			if k != "" {
				secrets = append(secrets, []byte(k))
			}
		}
		if len(secrets) == 0 {
			continue
		}
		if err := store.PutKeys(ctx, s.ID, secrets); err != nil {
			return err
		}
	}
	return nil
}
