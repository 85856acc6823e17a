package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type MapLayerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, layer *types.MapLayer) (*types.MapLayer, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MapLayer, error)
	// ListByMapID returns layers in submission order: position ASC,
	// created_at ASC as tiebreaker.
	ListByMapID(ctx context.Context, tx *gorm.DB, mapID uuid.UUID) ([]*types.MapLayer, error)
	ListMapIDsByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]uuid.UUID, error)
	ExistsByMapAndAsset(ctx context.Context, tx *gorm.DB, mapID, assetID uuid.UUID) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SetPositions(ctx context.Context, tx *gorm.DB, mapID uuid.UUID, ordered []uuid.UUID) error
	FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	FullDeleteByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error
	FullDeleteByMapID(ctx context.Context, tx *gorm.DB, mapID uuid.UUID) error
}

type mapLayerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMapLayerRepo(db *gorm.DB, baseLog *logger.Logger) MapLayerRepo {
	return &mapLayerRepo{db: db, log: baseLog.With("repo", "MapLayerRepo")}
}

func (r *mapLayerRepo) Create(ctx context.Context, tx *gorm.DB, layer *types.MapLayer) (*types.MapLayer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if layer == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(layer).Error; err != nil {
		return nil, err
	}
	return layer, nil
}

func (r *mapLayerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MapLayer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var layer types.MapLayer
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&layer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

func (r *mapLayerRepo) ListByMapID(ctx context.Context, tx *gorm.DB, mapID uuid.UUID) ([]*types.MapLayer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MapLayer
	if mapID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("map_id = ?", mapID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mapLayerRepo) ListMapIDsByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if assetID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.MapLayer{}).
		Where("asset_id = ?", assetID).
		Distinct().
		Pluck("map_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *mapLayerRepo) ExistsByMapAndAsset(ctx context.Context, tx *gorm.DB, mapID, assetID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if mapID == uuid.Nil || assetID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.MapLayer{}).
		Where("map_id = ? AND asset_id = ?", mapID, assetID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *mapLayerRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.MapLayer{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetPositions rewrites positions to 0..n-1 following the given layer
// id order. Ids not belonging to the map are ignored by the WHERE.
func (r *mapLayerRepo) SetPositions(ctx context.Context, tx *gorm.DB, mapID uuid.UUID, ordered []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if mapID == uuid.Nil {
		return nil
	}
	now := time.Now()
	for i, layerID := range ordered {
		if err := transaction.WithContext(ctx).
			Model(&types.MapLayer{}).
			Where("id = ? AND map_id = ?", layerID, mapID).
			Updates(map[string]interface{}{
				"position":   i,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *mapLayerRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("id = ?", id).
		Delete(&types.MapLayer{}).Error
}

func (r *mapLayerRepo) FullDeleteByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("asset_id = ?", assetID).
		Delete(&types.MapLayer{}).Error
}

func (r *mapLayerRepo) FullDeleteByMapID(ctx context.Context, tx *gorm.DB, mapID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if mapID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("map_id = ?", mapID).
		Delete(&types.MapLayer{}).Error
}
