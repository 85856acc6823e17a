package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type TaskRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error)
	GetLatestByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, taskType string) (*types.TaskRun, error)
	ListByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.TaskRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.TaskRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocked []string, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CancelPendingByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: baseLog.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.TaskRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *taskRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task types.TaskRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRunRepo) GetLatestByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, taskType string) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil || taskType == "" {
		return nil, nil
	}
	var task types.TaskRun
	err := transaction.WithContext(ctx).
		Where("asset_id = ? AND task_type = ?", assetID, taskType).
		Order("created_at DESC").
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRunRepo) ListByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TaskRun
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable picks the oldest runnable row and atomically marks
// it running. Runnable means: queued whose run_after has passed, failed
// below the attempt cap whose retry delay has elapsed, or running whose
// worker stopped heartbeating. SKIP LOCKED keeps concurrent workers off
// each other's rows.
func (r *taskRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.TaskRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.TaskRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					(
						status = ?
						AND (run_after IS NULL OR run_after <= ?)
					)
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.TaskStatusQueued, now, types.TaskStatusFailed, maxAttempts, retryCutoff, types.TaskStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.TaskRun{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       types.TaskStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		task.Status = types.TaskStatusRunning
		task.Attempts++
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates unless the row has moved to
// one of the blocked statuses. Keeps a canceled task canceled no matter
// what a still-running handler tries to write.
func (r *taskRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocked []string, updates map[string]interface{}) (bool, error) {
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
	q := transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id)
	if len(blocked) > 0 {
		q = q.Where("status NOT IN ?", blocked)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ? AND status = ?", id, types.TaskStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// CancelPendingByAsset flips queued and failed tasks for an asset to
// canceled. Used when an asset is reset or deleted so stale work does
// not run against the replacement.
func (r *taskRunRepo) CancelPendingByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("asset_id = ? AND status IN ?", assetID, []string{types.TaskStatusQueued, types.TaskStatusFailed}).
		Updates(map[string]interface{}{
			"status":     types.TaskStatusCanceled,
			"updated_at": time.Now(),
		}).Error
}
