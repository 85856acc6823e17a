package publish

import (
	"context"
	"fmt"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type Cleanup struct {
	gs  geoserver.Client
	log *logger.Logger
}

func NewCleanup(gs geoserver.Client, baseLog *logger.Logger) *Cleanup {
	return &Cleanup{gs: gs, log: baseLog.With("component", "Cleanup")}
}

// Run removes the asset's external footprint. Absence counts as
// success so cleanup can follow a publish that never finished, and
// so re-running cleanup is a no-op.
func (c *Cleanup) Run(ctx context.Context, asset *types.SpatialAsset) error {
	if asset == nil {
		return fmt.Errorf("cleanup: nil asset")
	}

	layerName := asset.SystematicName
	if asset.ExternalLayerName != nil && *asset.ExternalLayerName != "" {
		layerName = *asset.ExternalLayerName
	}
	if layerName != "" {
		if err := c.gs.DeleteLayer(ctx, layerName); err != nil {
			return fmt.Errorf("delete layer %s: %w", layerName, err)
		}
	}

	storeName := asset.ExternalStoreName
	if storeName == "" {
		storeName = asset.SystematicName
	}
	if storeName != "" {
		var err error
		if asset.Kind == types.AssetKindRaster {
			err = c.gs.DeleteCoverageStore(ctx, storeName)
		} else {
			err = c.gs.DeleteDatastore(ctx, storeName)
		}
		if err != nil {
			return fmt.Errorf("delete store %s: %w", storeName, err)
		}
	}

	c.log.Info("External resources cleaned", "asset_id", asset.ID, "layer", layerName, "store", storeName)
	return nil
}
