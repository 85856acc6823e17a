// Package publish pushes complete bundles into the external catalog
// and reconciles the names the catalog actually assigned.
package publish

import (
	"context"
	"fmt"

	"github.com/yungbote/geoatlas-backend/internal/bundle"
	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type Publisher struct {
	gs  geoserver.Client
	log *logger.Logger
}

func NewPublisher(gs geoserver.Client, baseLog *logger.Logger) *Publisher {
	return &Publisher{gs: gs, log: baseLog.With("component", "Publisher")}
}

// Publish uploads the asset's bundle under its systematic name. When
// the store already exists the upload is skipped, which makes task
// re-runs after a crash harmless.
func (p *Publisher) Publish(ctx context.Context, asset *types.SpatialAsset, parts []*types.AssetPart) error {
	if asset == nil {
		return fmt.Errorf("publish: nil asset")
	}
	if asset.SystematicName == "" {
		return fmt.Errorf("publish: asset %s has no systematic name", asset.ID)
	}

	if err := p.gs.EnsureWorkspace(ctx); err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}

	switch asset.Kind {
	case types.AssetKindRaster:
		exists, err := p.gs.CoverageStoreExists(ctx, asset.SystematicName)
		if err != nil {
			return fmt.Errorf("check coverage store: %w", err)
		}
		if exists {
			p.log.Info("Coverage store already present, skipping upload",
				"asset_id", asset.ID, "store", asset.SystematicName)
			return nil
		}
		data, err := bundle.ReadRaster(parts)
		if err != nil {
			return err
		}
		if err := p.gs.UploadGeoTIFF(ctx, asset.SystematicName, data); err != nil {
			return err
		}

	case types.AssetKindVector:
		exists, err := p.gs.DatastoreExists(ctx, asset.SystematicName)
		if err != nil {
			return fmt.Errorf("check datastore: %w", err)
		}
		if exists {
			p.log.Info("Datastore already present, skipping upload",
				"asset_id", asset.ID, "store", asset.SystematicName)
			return nil
		}
		archive, err := bundle.BuildArchive(asset.SystematicName, parts)
		if err != nil {
			return err
		}
		if err := p.gs.UploadShapefileZip(ctx, asset.SystematicName, archive); err != nil {
			return err
		}

	default:
		return fmt.Errorf("publish: unknown asset kind %q", asset.Kind)
	}

	p.log.Info("Uploaded bundle", "asset_id", asset.ID, "store", asset.SystematicName, "kind", asset.Kind)
	return nil
}
