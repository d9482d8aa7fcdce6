package app

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"

	"github.com/HsGalaxy/gptload-go/internal/adapter/routing"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/logger"
)

// logUpstreamSummary prints a table of configured upstreams, key counts,
// and weights once at boot, in the same pterm table style
// router.RouteRegistry uses for its route banner.
func logUpstreamSummary(holder *routing.Holder, log *logger.StyledLogger) {
	state := holder.Load()
	if len(state.Upstreams) == 0 {
		log.Warn("No upstreams configured")
		return
	}

	upstreams := make([]*domain.Upstream, len(state.Upstreams))
	copy(upstreams, state.Upstreams)
	sort.Slice(upstreams, func(i, j int) bool { return upstreams[i].ID < upstreams[j].ID })

	tableData := [][]string{
		{"UPSTREAM", "BASE URL", "WEIGHT", "KEYS"},
	}
	for _, u := range upstreams {
		tableData = append(tableData, []string{
			u.ID,
			u.BaseURL,
			fmt.Sprintf("%d", u.Weight),
			fmt.Sprintf("%d", len(u.Keys)),
		})
	}

	log.InfoWithCount("Loaded upstreams", len(upstreams))
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	fmt.Print(tableString)
}
