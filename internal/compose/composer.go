// Package compose keeps each map's catalog layer group in sync with
// its layer table. Group writes are full replacements driven entirely
// from database state.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// VersionConflictError reports a lost compose race: the map changed
// between read and write. The task re-runs against fresh state.
type VersionConflictError struct {
	MapID uuid.UUID
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("map %s changed during compose", e.MapID)
}

func (e *VersionConflictError) Retryable() bool { return true }

type Composer struct {
	gs        geoserver.Client
	maps      repos.MapRepo
	mapLayers repos.MapLayerRepo
	assets    repos.SpatialAssetRepo
	log       *logger.Logger
}

func NewComposer(gs geoserver.Client, maps repos.MapRepo, mapLayers repos.MapLayerRepo, assets repos.SpatialAssetRepo, baseLog *logger.Logger) *Composer {
	return &Composer{
		gs:        gs,
		maps:      maps,
		mapLayers: mapLayers,
		assets:    assets,
		log:       baseLog.With("component", "Composer"),
	}
}

// Sync makes the catalog group match the map's current layer rows.
// A map whose group would be empty has its group deleted instead,
// because the catalog rejects empty groups.
func (c *Composer) Sync(ctx context.Context, mapID uuid.UUID) error {
	m, err := c.maps.GetByID(ctx, nil, mapID)
	if err != nil {
		return err
	}
	if m == nil {
		// Map deleted while the task waited. Nothing to do.
		return nil
	}
	expectedVersion := m.Version

	layers, err := c.mapLayers.ListByMapID(ctx, nil, mapID)
	if err != nil {
		return err
	}

	members, bounds, err := c.collectMembers(ctx, layers)
	if err != nil {
		return err
	}

	groupName := m.LayerGroupName
	if groupName == "" {
		groupName = GroupName(m.OwnerID, m.ID)
	}

	if len(members) == 0 {
		if m.LayerGroupName != "" {
			if err := c.gs.DeleteLayerGroup(ctx, m.LayerGroupName); err != nil {
				return fmt.Errorf("delete empty group: %w", err)
			}
		}
		ok, err := c.maps.UpdateComposedVersion(ctx, nil, m.ID, expectedVersion, map[string]interface{}{
			"layer_group_name": "",
			"center_lon":       0.0,
			"center_lat":       0.0,
			"zoom":             2,
		})
		if err != nil {
			return err
		}
		if !ok {
			return &VersionConflictError{MapID: m.ID}
		}
		c.log.Info("Map group removed (no visible layers)", "map_id", m.ID)
		return nil
	}

	spec := geoserver.GroupSpec{Name: groupName, Layers: members, Bounds: bounds}
	exists, err := c.gs.LayerGroupExists(ctx, groupName)
	if err != nil {
		return err
	}
	if exists {
		err = c.gs.UpdateLayerGroup(ctx, spec)
	} else {
		err = c.gs.CreateLayerGroup(ctx, spec)
	}
	if err != nil {
		return err
	}

	centerLon, centerLat, zoom := viewport(bounds)
	ok, err := c.maps.UpdateComposedVersion(ctx, nil, m.ID, expectedVersion, map[string]interface{}{
		"layer_group_name": groupName,
		"center_lon":       centerLon,
		"center_lat":       centerLat,
		"zoom":             zoom,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &VersionConflictError{MapID: m.ID}
	}

	c.log.Info("Map group synced",
		"map_id", m.ID, "group", groupName, "members", len(members), "zoom", zoom)
	return nil
}

// Bounds returns the union extent of the map's visible published
// layers, nil when none resolves.
func (c *Composer) Bounds(ctx context.Context, mapID uuid.UUID) (*types.Extent, error) {
	layers, err := c.mapLayers.ListByMapID(ctx, nil, mapID)
	if err != nil {
		return nil, err
	}
	_, bounds, err := c.collectMembers(ctx, layers)
	return bounds, err
}

// Teardown removes the map's group from the catalog. Used on map
// delete; absence is success.
func (c *Composer) Teardown(ctx context.Context, m *types.Map) error {
	if m == nil || m.LayerGroupName == "" {
		return nil
	}
	return c.gs.DeleteLayerGroup(ctx, m.LayerGroupName)
}

// collectMembers turns layer rows into group members in position
// order. Hidden layers and assets that are not fully published are
// left out. Extents come from the stored value when present, the
// catalog otherwise; a layer without a resolvable extent still joins
// the group, it just does not contribute to the bounds.
func (c *Composer) collectMembers(ctx context.Context, layers []*types.MapLayer) ([]geoserver.GroupLayer, *types.Extent, error) {
	if len(layers) == 0 {
		return nil, nil, nil
	}

	assetIDs := make([]uuid.UUID, 0, len(layers))
	for _, l := range layers {
		assetIDs = append(assetIDs, l.AssetID)
	}
	assets, err := c.assets.GetByIDs(ctx, nil, assetIDs)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[uuid.UUID]*types.SpatialAsset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	var members []geoserver.GroupLayer
	var union *orb.Bound

	for _, l := range layers {
		if !l.Visible {
			continue
		}
		a := byID[l.AssetID]
		if a == nil || a.Status != types.AssetStatusPublished || a.ExternalLayerName == nil || *a.ExternalLayerName == "" {
			c.log.Warn("Skipping unpublished layer in compose", "layer_id", l.ID, "asset_id", l.AssetID)
			continue
		}
		members = append(members, geoserver.GroupLayer{
			LayerName: *a.ExternalLayerName,
			StyleName: strings.TrimSpace(l.StyleOverride),
		})

		ext := c.assetExtent(ctx, a)
		if ext == nil {
			continue
		}
		b := orb.Bound{
			Min: orb.Point{ext.MinX, ext.MinY},
			Max: orb.Point{ext.MaxX, ext.MaxY},
		}
		if union == nil {
			union = &b
		} else {
			u := union.Union(b)
			union = &u
		}
	}

	if union == nil {
		return members, nil, nil
	}
	return members, &types.Extent{
		MinX: union.Min.X(),
		MinY: union.Min.Y(),
		MaxX: union.Max.X(),
		MaxY: union.Max.Y(),
		CRS:  "EPSG:4326",
	}, nil
}

func (c *Composer) assetExtent(ctx context.Context, a *types.SpatialAsset) *types.Extent {
	if len(a.SpatialExtent) > 0 {
		var ext types.Extent
		if err := json.Unmarshal(a.SpatialExtent, &ext); err == nil && (ext.MinX != 0 || ext.MaxX != 0 || ext.MinY != 0 || ext.MaxY != 0) {
			return &ext
		}
	}
	ext, err := c.gs.LayerExtent(ctx, a.ExternalStoreName, *a.ExternalLayerName, a.Kind)
	if err != nil {
		c.log.Warn("Could not fetch layer extent", "asset_id", a.ID, "error", err)
		return nil
	}
	return ext
}

// GroupName derives the catalog group name for a map. Stable across
// re-composition so updates replace rather than accumulate.
func GroupName(ownerID, mapID uuid.UUID) string {
	ownerTok := strings.ReplaceAll(ownerID.String(), "-", "")[:8]
	mapTok := strings.ReplaceAll(mapID.String(), "-", "")[:8]
	return fmt.Sprintf("map_%s_%s", ownerTok, mapTok)
}

// viewport picks an initial center and zoom for the composed bounds.
// No bounds means the world view.
func viewport(b *types.Extent) (lon, lat float64, zoom int) {
	if b == nil {
		return 0, 0, 2
	}
	center := orb.Bound{
		Min: orb.Point{b.MinX, b.MinY},
		Max: orb.Point{b.MaxX, b.MaxY},
	}.Center()

	span := b.MaxX - b.MinX
	if dy := b.MaxY - b.MinY; dy > span {
		span = dy
	}
	switch {
	case span <= 0.5:
		zoom = 12
	case span <= 2:
		zoom = 10
	case span <= 10:
		zoom = 7
	case span <= 45:
		zoom = 5
	case span <= 120:
		zoom = 3
	default:
		zoom = 2
	}
	return center.X(), center.Y(), zoom
}
