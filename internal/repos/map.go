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

type MapRepo interface {
	Create(ctx context.Context, tx *gorm.DB, m *types.Map) (*types.Map, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Map, error)
	GetByOwnerAndName(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, name string) (*types.Map, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Map, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// UpdateComposedVersion writes compose output only if nobody bumped
	// the version since the composer read it. Returns false on a lost
	// race; the compose task re-runs from fresh state.
	UpdateComposedVersion(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) (bool, error)
	FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type mapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMapRepo(db *gorm.DB, baseLog *logger.Logger) MapRepo {
	return &mapRepo{db: db, log: baseLog.With("repo", "MapRepo")}
}

func (r *mapRepo) Create(ctx context.Context, tx *gorm.DB, m *types.Map) (*types.Map, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if m == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mapRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Map, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var m types.Map
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mapRepo) GetByOwnerAndName(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, name string) (*types.Map, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerID == uuid.Nil || name == "" {
		return nil, nil
	}
	var m types.Map
	err := transaction.WithContext(ctx).
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mapRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Map, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Map
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mapRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Map{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *mapRepo) UpdateComposedVersion(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) (bool, error) {
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
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.Map{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *mapRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
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
		Delete(&types.Map{}).Error
}
