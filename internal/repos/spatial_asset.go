package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type SpatialAssetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, assets []*types.SpatialAsset) ([]*types.SpatialAsset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SpatialAsset, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.SpatialAsset, error)
	// GetByBundle finds the asset owning one bundle: exact owner,
	// folder path and stem, same matching rule as AssetPartRepo.
	GetByBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) (*types.SpatialAsset, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsWhereStatus applies updates only while the row still has
	// one of the expected statuses. Returns false when the precondition no
	// longer holds, which callers treat as "someone else moved the asset".
	UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected []string, updates map[string]interface{}) (bool, error)
	AppendAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID, entry types.AttemptEntry) error
	FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type spatialAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSpatialAssetRepo(db *gorm.DB, baseLog *logger.Logger) SpatialAssetRepo {
	return &spatialAssetRepo{db: db, log: baseLog.With("repo", "SpatialAssetRepo")}
}

func (r *spatialAssetRepo) Create(ctx context.Context, tx *gorm.DB, assets []*types.SpatialAsset) ([]*types.SpatialAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(assets) == 0 {
		return []*types.SpatialAsset{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *spatialAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SpatialAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var asset types.SpatialAsset
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *spatialAssetRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.SpatialAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SpatialAsset
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *spatialAssetRepo) GetByBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) (*types.SpatialAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerID == uuid.Nil || stem == "" {
		return nil, nil
	}
	var asset types.SpatialAsset
	err := transaction.WithContext(ctx).
		Where("owner_id = ? AND folder_path = ? AND logical_name = ?", ownerID, folderPath, stem).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *spatialAssetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.SpatialAsset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *spatialAssetRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.SpatialAsset{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *spatialAssetRepo) AppendAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID, entry types.AttemptEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	b, err := json.Marshal([]types.AttemptEntry{entry})
	if err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Model(&types.SpatialAsset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_log": gorm.Expr(`COALESCE(attempt_log, '[]'::jsonb) || ?::jsonb`, string(b)),
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

func (r *spatialAssetRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
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
		Delete(&types.SpatialAsset{}).Error
}
