package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/compose"
	"github.com/yungbote/geoatlas-backend/internal/jobs"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// MapView is a map plus its ordered layers.
type MapView struct {
	Map    *types.Map        `json:"map"`
	Layers []*types.MapLayer `json:"layers"`
}

// MapCenterView is the viewport answer for one map: the persisted
// center and zoom plus the current union bbox of its visible layers.
type MapCenterView struct {
	CenterLon float64       `json:"center_lon"`
	CenterLat float64       `json:"center_lat"`
	Zoom      int           `json:"zoom"`
	Bounds    *types.Extent `json:"bounds,omitempty"`
}

type MapService interface {
	Create(ctx context.Context, ownerID uuid.UUID, name, description string) (*types.Map, error)
	Get(ctx context.Context, ownerID, mapID uuid.UUID) (*MapView, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*types.Map, error)
	Delete(ctx context.Context, ownerID, mapID uuid.UUID) error
	AddLayer(ctx context.Context, ownerID, mapID, assetID uuid.UUID, position int) (*types.MapLayer, error)
	RemoveLayer(ctx context.Context, ownerID, mapID, layerID uuid.UUID) error
	ReorderLayers(ctx context.Context, ownerID, mapID uuid.UUID, orderedLayerIDs []uuid.UUID) error
	SetLayerVisibility(ctx context.Context, ownerID, mapID, layerID uuid.UUID, visible bool) error
	SetLayerOpacity(ctx context.Context, ownerID, mapID, layerID uuid.UUID, opacity float64) error
	ComputeCenter(ctx context.Context, ownerID, mapID uuid.UUID) (*MapCenterView, error)
}

type mapService struct {
	db        *gorm.DB
	log       *logger.Logger
	maps      repos.MapRepo
	mapLayers repos.MapLayerRepo
	assets    repos.SpatialAssetRepo
	queue     *jobs.Queue
	composer  *compose.Composer
}

func NewMapService(
	db *gorm.DB,
	baseLog *logger.Logger,
	maps repos.MapRepo,
	mapLayers repos.MapLayerRepo,
	assets repos.SpatialAssetRepo,
	queue *jobs.Queue,
	composer *compose.Composer,
) MapService {
	return &mapService{
		db:        db,
		log:       baseLog.With("service", "MapService"),
		maps:      maps,
		mapLayers: mapLayers,
		assets:    assets,
		queue:     queue,
		composer:  composer,
	}
}

func (s *mapService) Create(ctx context.Context, ownerID uuid.UUID, name, description string) (*types.Map, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner required", ErrInvalid)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: map name required", ErrInvalid)
	}
	existing, err := s.maps.GetByOwnerAndName(ctx, nil, ownerID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: map %q already exists", ErrConflict, name)
	}
	m := &types.Map{
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Zoom:        2,
	}
	if _, err := s.maps.Create(ctx, nil, m); err != nil {
		return nil, err
	}
	s.log.Info("Map created", "map_id", m.ID, "name", name)
	return m, nil
}

func (s *mapService) Get(ctx context.Context, ownerID, mapID uuid.UUID) (*MapView, error) {
	m, err := s.ownedMap(ctx, ownerID, mapID)
	if err != nil {
		return nil, err
	}
	layers, err := s.mapLayers.ListByMapID(ctx, nil, mapID)
	if err != nil {
		return nil, err
	}
	return &MapView{Map: m, Layers: layers}, nil
}

func (s *mapService) List(ctx context.Context, ownerID uuid.UUID) ([]*types.Map, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner required", ErrInvalid)
	}
	return s.maps.ListByOwner(ctx, nil, ownerID)
}

// Delete tears the catalog group down first; if the catalog is
// unreachable the map stays and the caller retries.
func (s *mapService) Delete(ctx context.Context, ownerID, mapID uuid.UUID) error {
	m, err := s.ownedMap(ctx, ownerID, mapID)
	if err != nil {
		return err
	}
	if err := s.composer.Teardown(ctx, m); err != nil {
		return err
	}
	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.mapLayers.FullDeleteByMapID(ctx, tx, mapID); err != nil {
			return err
		}
		return s.maps.FullDeleteByID(ctx, tx, mapID)
	})
}

// AddLayer appends a published asset to the map. Position below zero
// means "at the end". Every layer mutation queues a recompose.
func (s *mapService) AddLayer(ctx context.Context, ownerID, mapID, assetID uuid.UUID, position int) (*types.MapLayer, error) {
	if _, err := s.ownedMap(ctx, ownerID, mapID); err != nil {
		return nil, err
	}
	asset, err := s.assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, assetID)
	}
	if asset.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: asset %s", ErrForbidden, assetID)
	}
	if asset.Status != types.AssetStatusPublished || asset.ExternalLayerName == nil || *asset.ExternalLayerName == "" {
		return nil, fmt.Errorf("%w: asset %s is not published", ErrConflict, assetID)
	}

	already, err := s.mapLayers.ExistsByMapAndAsset(ctx, nil, mapID, assetID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, fmt.Errorf("%w: asset already on map", ErrConflict)
	}

	if position < 0 {
		existing, lErr := s.mapLayers.ListByMapID(ctx, nil, mapID)
		if lErr != nil {
			return nil, lErr
		}
		position = len(existing)
	}

	layer := &types.MapLayer{
		MapID:    mapID,
		AssetID:  assetID,
		Position: position,
		Opacity:  1,
		Visible:  true,
	}
	err = runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, cErr := s.mapLayers.Create(ctx, tx, layer); cErr != nil {
			return cErr
		}
		return s.queue.EnqueueCompose(ctx, tx, ownerID, mapID)
	})
	if err != nil {
		return nil, err
	}
	return layer, nil
}

func (s *mapService) RemoveLayer(ctx context.Context, ownerID, mapID, layerID uuid.UUID) error {
	if _, err := s.ownedLayer(ctx, ownerID, mapID, layerID); err != nil {
		return err
	}
	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.mapLayers.FullDeleteByID(ctx, tx, layerID); err != nil {
			return err
		}
		return s.queue.EnqueueCompose(ctx, tx, ownerID, mapID)
	})
}

// ReorderLayers takes the complete new order. A partial list is
// rejected so positions never silently interleave.
func (s *mapService) ReorderLayers(ctx context.Context, ownerID, mapID uuid.UUID, orderedLayerIDs []uuid.UUID) error {
	if _, err := s.ownedMap(ctx, ownerID, mapID); err != nil {
		return err
	}
	current, err := s.mapLayers.ListByMapID(ctx, nil, mapID)
	if err != nil {
		return err
	}
	if len(orderedLayerIDs) != len(current) {
		return fmt.Errorf("%w: reorder needs all %d layers, got %d", ErrInvalid, len(current), len(orderedLayerIDs))
	}
	have := make(map[uuid.UUID]bool, len(current))
	for _, l := range current {
		have[l.ID] = true
	}
	for _, id := range orderedLayerIDs {
		if !have[id] {
			return fmt.Errorf("%w: layer %s not on map", ErrInvalid, id)
		}
		delete(have, id)
	}

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.mapLayers.SetPositions(ctx, tx, mapID, orderedLayerIDs); err != nil {
			return err
		}
		return s.queue.EnqueueCompose(ctx, tx, ownerID, mapID)
	})
}

func (s *mapService) SetLayerVisibility(ctx context.Context, ownerID, mapID, layerID uuid.UUID, visible bool) error {
	if _, err := s.ownedLayer(ctx, ownerID, mapID, layerID); err != nil {
		return err
	}
	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.mapLayers.UpdateFields(ctx, tx, layerID, map[string]interface{}{"visible": visible}); err != nil {
			return err
		}
		return s.queue.EnqueueCompose(ctx, tx, ownerID, mapID)
	})
}

func (s *mapService) SetLayerOpacity(ctx context.Context, ownerID, mapID, layerID uuid.UUID, opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalid)
	}
	if _, err := s.ownedLayer(ctx, ownerID, mapID, layerID); err != nil {
		return err
	}
	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.mapLayers.UpdateFields(ctx, tx, layerID, map[string]interface{}{"opacity": opacity}); err != nil {
			return err
		}
		return s.queue.EnqueueCompose(ctx, tx, ownerID, mapID)
	})
}

// ComputeCenter reads the compose-persisted center and zoom and
// recomputes the union bbox live, so the answer reflects layer edits
// even before the next compose lands.
func (s *mapService) ComputeCenter(ctx context.Context, ownerID, mapID uuid.UUID) (*MapCenterView, error) {
	m, err := s.ownedMap(ctx, ownerID, mapID)
	if err != nil {
		return nil, err
	}
	bounds, err := s.composer.Bounds(ctx, mapID)
	if err != nil {
		return nil, err
	}
	return &MapCenterView{
		CenterLon: m.CenterLon,
		CenterLat: m.CenterLat,
		Zoom:      m.Zoom,
		Bounds:    bounds,
	}, nil
}

func (s *mapService) ownedMap(ctx context.Context, ownerID, mapID uuid.UUID) (*types.Map, error) {
	if ownerID == uuid.Nil || mapID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner and map required", ErrInvalid)
	}
	m, err := s.maps.GetByID(ctx, nil, mapID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: map %s", ErrNotFound, mapID)
	}
	if m.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: map %s", ErrForbidden, mapID)
	}
	return m, nil
}

func (s *mapService) ownedLayer(ctx context.Context, ownerID, mapID, layerID uuid.UUID) (*types.MapLayer, error) {
	if _, err := s.ownedMap(ctx, ownerID, mapID); err != nil {
		return nil, err
	}
	layer, err := s.mapLayers.GetByID(ctx, nil, layerID)
	if err != nil {
		return nil, err
	}
	if layer == nil || layer.MapID != mapID {
		return nil, fmt.Errorf("%w: layer %s", ErrNotFound, layerID)
	}
	return layer, nil
}
