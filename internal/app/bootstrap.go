package app

import (
	"context"

	"github.com/HsGalaxy/gptload-go/internal/adminapi"
	"github.com/HsGalaxy/gptload-go/internal/config"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
)

func seedUpstreamsFromConfig(ctx context.Context, store ports.Persistence, cfg *config.Config) error {
	seeds := make([]adminapi.UpstreamSeed, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		seeds = append(seeds, adminapi.UpstreamSeed{
			ID:      u.ID,
			BaseURL: u.BaseURL,
			Weight:  u.Weight,
			Keys:    u.Keys,
		})
	}
	return adminapi.SeedFromConfig(ctx, store, seeds)
}
