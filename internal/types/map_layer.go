package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MapLayer orders a published asset inside a map. Position 0 is
// submitted first to the layer group (rendered on top). Only assets
// with status=published and a reconciled external layer name may be
// referenced; MapService enforces that before insert.
type MapLayer struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MapID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"map_id"`
	AssetID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"asset_id"`
	Position      int            `gorm:"column:position;not null;default:0" json:"position"`
	Opacity       float64        `gorm:"column:opacity;not null;default:1" json:"opacity"`
	Visible       bool           `gorm:"column:visible;not null;default:true" json:"visible"`
	StyleOverride string         `gorm:"column:style_override" json:"style_override,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (MapLayer) TableName() string { return "map_layer" }
