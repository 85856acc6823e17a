package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type FolderRepo interface {
	Create(ctx context.Context, tx *gorm.DB, folders []*types.Folder) ([]*types.Folder, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Folder, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Folder, error)
}

type folderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFolderRepo(db *gorm.DB, baseLog *logger.Logger) FolderRepo {
	return &folderRepo{db: db, log: baseLog.With("repo", "FolderRepo")}
}

func (r *folderRepo) Create(ctx context.Context, tx *gorm.DB, folders []*types.Folder) ([]*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(folders) == 0 {
		return []*types.Folder{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *folderRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var folder types.Folder
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *folderRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Folder
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
