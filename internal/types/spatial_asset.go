package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AssetStatusPending    = "pending"
	AssetStatusBundling   = "bundling"
	AssetStatusPublishing = "publishing"
	AssetStatusPublished  = "published"
	AssetStatusError      = "error"
)

const (
	AssetKindVector = "vector"
	AssetKindRaster = "raster"
)

// SpatialAsset is a spatial dataset submitted for publishing. The
// external layer name is only ever written after the reconciler has
// verified it against the service listing; the publisher never sets it.
type SpatialAsset struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	LogicalName       string         `gorm:"column:logical_name;not null" json:"logical_name"`
	FolderPath        string         `gorm:"column:folder_path;not null;default:'root'" json:"folder_path"`
	Kind              string         `gorm:"column:kind;not null" json:"kind"`
	Status            string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	SystematicName    string         `gorm:"column:systematic_name;index" json:"systematic_name"`
	ExternalLayerName *string        `gorm:"column:external_layer_name" json:"external_layer_name,omitempty"`
	ExternalStoreName string         `gorm:"column:external_store_name" json:"external_store_name,omitempty"`
	ExternalWorkspace string         `gorm:"column:external_workspace" json:"external_workspace,omitempty"`
	SpatialExtent     datatypes.JSON `gorm:"column:spatial_extent;type:jsonb" json:"spatial_extent,omitempty"`
	AttemptLog        datatypes.JSON `gorm:"column:attempt_log;type:jsonb" json:"attempt_log"`
	RetryCount        int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SpatialAsset) TableName() string { return "spatial_asset" }

// AttemptEntry is one element of the append-only attempt log.
type AttemptEntry struct {
	Attempt int       `json:"attempt"`
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Extent is the stored bbox + CRS of a published layer.
type Extent struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	CRS  string  `json:"crs"`
}
