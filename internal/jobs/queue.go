package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// Queue is the single write path onto the task table. Services and
// handlers enqueue through it so payload shapes stay in one place.
type Queue struct {
	tasks repos.TaskRunRepo
	log   *logger.Logger
}

func NewQueue(tasks repos.TaskRunRepo, baseLog *logger.Logger) *Queue {
	return &Queue{tasks: tasks, log: baseLog.With("component", "TaskQueue")}
}

func (q *Queue) enqueue(ctx context.Context, tx *gorm.DB, task *types.TaskRun) error {
	_, err := q.tasks.Create(ctx, tx, []*types.TaskRun{task})
	if err != nil {
		return err
	}
	q.log.Info("Task enqueued", "task_type", task.TaskType, "task_id", task.ID, "run_after", task.RunAfter)
	return nil
}

// EnqueueBundleCheck schedules the completeness check after a settle
// delay, giving multi-file uploads time to land before the first look.
func (q *Queue) EnqueueBundleCheck(ctx context.Context, tx *gorm.DB, ownerID, assetID uuid.UUID, delay time.Duration) error {
	runAfter := time.Now().Add(delay)
	return q.enqueue(ctx, tx, &types.TaskRun{
		OwnerID:  ownerID,
		TaskType: types.TaskTypeBundleCheck,
		AssetID:  &assetID,
		Status:   types.TaskStatusQueued,
		RunAfter: &runAfter,
	})
}

func (q *Queue) EnqueuePublish(ctx context.Context, tx *gorm.DB, ownerID, assetID uuid.UUID) error {
	return q.enqueue(ctx, tx, &types.TaskRun{
		OwnerID:  ownerID,
		TaskType: types.TaskTypePublish,
		AssetID:  &assetID,
		Status:   types.TaskStatusQueued,
	})
}

func (q *Queue) EnqueueReconcile(ctx context.Context, tx *gorm.DB, ownerID, assetID uuid.UUID) error {
	return q.enqueue(ctx, tx, &types.TaskRun{
		OwnerID:  ownerID,
		TaskType: types.TaskTypeReconcile,
		AssetID:  &assetID,
		Status:   types.TaskStatusQueued,
	})
}

func (q *Queue) EnqueueCompose(ctx context.Context, tx *gorm.DB, ownerID, mapID uuid.UUID) error {
	return q.enqueue(ctx, tx, &types.TaskRun{
		OwnerID:  ownerID,
		TaskType: types.TaskTypeCompose,
		MapID:    &mapID,
		Status:   types.TaskStatusQueued,
	})
}

// CleanupSpec carries everything cleanup needs, because by the time
// the task runs the asset row may already be gone. Republish chains a
// bundle check behind a successful cleanup, serializing reset's
// delete-then-republish so the two can never race.
type CleanupSpec struct {
	StoreName string `json:"store_name"`
	LayerName string `json:"layer_name"`
	Kind      string `json:"kind"`
	Republish bool   `json:"republish,omitempty"`
}

func (q *Queue) EnqueueCleanup(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, assetID *uuid.UUID, spec CleanupSpec) error {
	payload, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, tx, &types.TaskRun{
		OwnerID:  ownerID,
		TaskType: types.TaskTypeCleanup,
		AssetID:  assetID,
		Status:   types.TaskStatusQueued,
		Payload:  datatypes.JSON(payload),
	})
}
