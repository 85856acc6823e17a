package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type AssetPartRepo interface {
	Create(ctx context.Context, tx *gorm.DB, parts []*types.AssetPart) ([]*types.AssetPart, error)
	// ListBundle returns the parts forming one bundle: exact stem, same
	// owner, same folder. Never prefix or substring matching.
	ListBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) ([]*types.AssetPart, error)
	FullDeleteBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) error
}

type assetPartRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetPartRepo(db *gorm.DB, baseLog *logger.Logger) AssetPartRepo {
	return &assetPartRepo{db: db, log: baseLog.With("repo", "AssetPartRepo")}
}

func (r *assetPartRepo) Create(ctx context.Context, tx *gorm.DB, parts []*types.AssetPart) ([]*types.AssetPart, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(parts) == 0 {
		return []*types.AssetPart{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *assetPartRepo) ListBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) ([]*types.AssetPart, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AssetPart
	if ownerID == uuid.Nil || stem == "" {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("owner_id = ? AND folder_path = ? AND stem = ?", ownerID, folderPath, stem).
		Order("extension ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetPartRepo) FullDeleteBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerID == uuid.Nil || stem == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("owner_id = ? AND folder_path = ? AND stem = ?", ownerID, folderPath, stem).
		Delete(&types.AssetPart{}).Error
}
