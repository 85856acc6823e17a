package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Map is a locally-owned composite view. The remote layer group is a
// derived projection of its MapLayer rows and is fully regenerated on
// every change. Version is the optimistic-concurrency column guarding
// concurrent compose cycles for the same map.
type Map struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_map_owner_name" json:"owner_id"`
	Name           string         `gorm:"column:name;not null;uniqueIndex:idx_map_owner_name" json:"name"`
	Description    string         `gorm:"column:description" json:"description,omitempty"`
	LayerGroupName string         `gorm:"column:layer_group_name;not null" json:"layer_group_name"`
	CenterLon      float64        `gorm:"column:center_lon" json:"center_lon"`
	CenterLat      float64        `gorm:"column:center_lat" json:"center_lat"`
	Zoom           int            `gorm:"column:zoom;not null;default:2" json:"zoom"`
	Version        int            `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Map) TableName() string { return "map" }
