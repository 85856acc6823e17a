package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusFailed    = "failed"
	TaskStatusExhausted = "exhausted"
	TaskStatusSucceeded = "succeeded"
	TaskStatusCanceled  = "canceled"
)

const (
	TaskTypeBundleCheck = "asset_bundle_check"
	TaskTypePublish     = "asset_publish"
	TaskTypeReconcile   = "asset_reconcile"
	TaskTypeCompose     = "map_compose"
	TaskTypeCleanup     = "asset_cleanup"
)

// TaskRun is one durable queue row. RunAfter implements
// submit-with-delay; Attempts is the visible per-task attempt counter
// the retry policy is bounded by. Failed rows below the attempt cap
// are re-claimed after the retry delay; exhausted rows never are.
type TaskRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	TaskType    string         `gorm:"column:task_type;not null;index" json:"task_type"`
	AssetID     *uuid.UUID     `gorm:"type:uuid;column:asset_id;index" json:"asset_id,omitempty"`
	MapID       *uuid.UUID     `gorm:"type:uuid;column:map_id;index" json:"map_id,omitempty"`
	Status      string         `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	RunAfter    *time.Time     `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TaskRun) TableName() string { return "task_run" }
