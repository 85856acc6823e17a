package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/httpx"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// Context is the execution handle for a single claimed task. Handlers
// report their outcome through Succeed/Fail and never write the task
// row directly; all writes are guarded so a canceled task stays
// canceled.
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Task   *types.TaskRun
	Tasks  repos.TaskRunRepo
	Assets repos.SpatialAssetRepo
	Queue  *Queue
	Log    *logger.Logger

	maxAttempts int
	payload     map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, task *types.TaskRun, tasks repos.TaskRunRepo, assets repos.SpatialAssetRepo, queue *Queue, log *logger.Logger, maxAttempts int) *Context {
	c := &Context{
		Ctx:         ctx,
		DB:          db,
		Task:        task,
		Tasks:       tasks,
		Assets:      assets,
		Queue:       queue,
		Log:         log,
		maxAttempts: maxAttempts,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Task == nil || len(c.Task.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Task.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// AssetID returns the task's subject asset, uuid.Nil when unbound.
func (c *Context) AssetID() uuid.UUID {
	if c.Task == nil || c.Task.AssetID == nil {
		return uuid.Nil
	}
	return *c.Task.AssetID
}

func (c *Context) MapID() uuid.UUID {
	if c.Task == nil || c.Task.MapID == nil {
		return uuid.Nil
	}
	return *c.Task.MapID
}

// Succeed terminates the task successfully and records the attempt on
// the asset's log when one is bound.
func (c *Context) Succeed(step string) {
	if c == nil || c.Task == nil {
		return
	}
	now := time.Now()
	ok, err := c.Tasks.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Task.ID, []string{types.TaskStatusCanceled}, map[string]interface{}{
		"status":       types.TaskStatusSucceeded,
		"error":        "",
		"locked_at":    nil,
		"heartbeat_at": now,
	})
	if err != nil {
		c.Log.Error("Could not mark task succeeded", "task_id", c.Task.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	c.Task.Status = types.TaskStatusSucceeded
	c.recordAttempt(step, "succeeded", nil)
}

// Fail reports a handler error. The task parks as failed for a later
// re-claim unless the error is provably permanent or the attempt cap
// is reached; an unclassified error still gets its bounded retries.
func (c *Context) Fail(step string, err error) {
	if c == nil || c.Task == nil {
		return
	}
	if httpx.IsFatalError(err) || c.Task.Attempts >= c.maxAttempts {
		c.Exhaust(step, err)
		return
	}

	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, uErr := c.Tasks.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Task.ID, []string{types.TaskStatusCanceled}, map[string]interface{}{
		"status":        types.TaskStatusFailed,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
	if uErr != nil {
		c.Log.Error("Could not mark task failed", "task_id", c.Task.ID, "error", uErr)
		return
	}
	if !ok {
		return
	}
	c.Task.Status = types.TaskStatusFailed
	c.recordAttempt(step, "failed", err)
	c.Log.Warn("Task failed, will retry",
		"task_id", c.Task.ID, "task_type", c.Task.TaskType,
		"attempt", c.Task.Attempts, "max_attempts", c.maxAttempts, "error", msg)
}

// Exhaust terminates the task permanently and flips the bound asset to
// error. An exhausted publish or reconcile also queues cleanup so no
// half-published state survives in the catalog.
func (c *Context) Exhaust(step string, err error) {
	if c == nil || c.Task == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, uErr := c.Tasks.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Task.ID, []string{types.TaskStatusCanceled}, map[string]interface{}{
		"status":        types.TaskStatusExhausted,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
	if uErr != nil {
		c.Log.Error("Could not mark task exhausted", "task_id", c.Task.ID, "error", uErr)
		return
	}
	if !ok {
		return
	}
	c.Task.Status = types.TaskStatusExhausted
	c.recordAttempt(step, "exhausted", err)
	c.Log.Error("Task exhausted",
		"task_id", c.Task.ID, "task_type", c.Task.TaskType,
		"attempts", c.Task.Attempts, "error", msg)

	assetID := c.AssetID()
	if assetID == uuid.Nil {
		return
	}
	if aErr := c.Assets.UpdateFields(c.Ctx, nil, assetID, map[string]interface{}{
		"status": types.AssetStatusError,
	}); aErr != nil {
		c.Log.Error("Could not flip asset to error", "asset_id", assetID, "error", aErr)
	}

	if c.Task.TaskType != types.TaskTypePublish && c.Task.TaskType != types.TaskTypeReconcile {
		return
	}
	asset, gErr := c.Assets.GetByID(c.Ctx, nil, assetID)
	if gErr != nil || asset == nil {
		return
	}
	layerName := asset.SystematicName
	if asset.ExternalLayerName != nil && *asset.ExternalLayerName != "" {
		layerName = *asset.ExternalLayerName
	}
	storeName := asset.ExternalStoreName
	if storeName == "" {
		storeName = asset.SystematicName
	}
	if qErr := c.Queue.EnqueueCleanup(c.Ctx, nil, c.Task.OwnerID, &assetID, CleanupSpec{
		StoreName: storeName,
		LayerName: layerName,
		Kind:      asset.Kind,
	}); qErr != nil {
		c.Log.Error("Could not enqueue cleanup after exhaustion", "asset_id", assetID, "error", qErr)
	}
}

func (c *Context) recordAttempt(step, outcome string, err error) {
	assetID := c.AssetID()
	if assetID == uuid.Nil {
		return
	}
	entry := types.AttemptEntry{
		Attempt: c.Task.Attempts,
		Step:    step,
		Outcome: outcome,
		At:      time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aErr := c.Assets.AppendAttempt(c.Ctx, nil, assetID, entry); aErr != nil {
		c.Log.Warn("Could not append attempt entry", "asset_id", assetID, "error", aErr)
	}
}
