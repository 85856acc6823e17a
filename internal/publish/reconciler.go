package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
)

// UnresolvedError means the catalog has not surfaced the published
// layer yet. The catalog indexes asynchronously, so this retries.
type UnresolvedError struct {
	SystematicName string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("no layer matching %q visible yet", e.SystematicName)
}

func (e *UnresolvedError) Retryable() bool { return true }

type Reconciler struct {
	gs  geoserver.Client
	log *logger.Logger
}

func NewReconciler(gs geoserver.Client, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{gs: gs, log: baseLog.With("component", "Reconciler")}
}

// Resolve finds the actual layer name the catalog assigned for a
// store. The catalog disambiguates duplicate layer names by appending
// a counter, so an upload into store "base" can surface as "base1",
// "base2", ... The winner is the candidate with the highest counter;
// the bare name counts as zero. A candidate whose suffix is not
// numeric only wins when nothing ranked.
func (r *Reconciler) Resolve(ctx context.Context, systematicName string) (string, error) {
	layers, err := r.gs.ListLayers(ctx)
	if err != nil {
		return "", fmt.Errorf("list layers: %w", err)
	}

	best := ""
	bestScore := -1
	fallback := ""
	for _, name := range layers {
		if !strings.HasPrefix(name, systematicName) {
			continue
		}
		suffix := name[len(systematicName):]
		if suffix == "" {
			if bestScore < 0 {
				best, bestScore = name, 0
			}
			continue
		}
		if n, convErr := strconv.Atoi(suffix); convErr == nil {
			if n > bestScore {
				best, bestScore = name, n
			}
			continue
		}
		if fallback == "" {
			fallback = name
		}
	}

	if bestScore >= 0 {
		if best != systematicName {
			r.log.Info("Catalog renamed layer", "requested", systematicName, "actual", best)
		}
		return best, nil
	}
	if fallback != "" {
		r.log.Warn("Resolved layer by unranked suffix", "requested", systematicName, "actual", fallback)
		return fallback, nil
	}
	return "", &UnresolvedError{SystematicName: systematicName}
}
