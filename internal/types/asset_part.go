package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssetPart is one physical component file of a dataset. A bundle is
// the set of parts sharing (owner_id, folder_path, stem) exactly.
type AssetPart struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Stem       string         `gorm:"column:stem;not null;index" json:"stem"`
	FolderPath string         `gorm:"column:folder_path;not null;default:'root'" json:"folder_path"`
	Extension  string         `gorm:"column:extension;not null" json:"extension"`
	Location   string         `gorm:"column:location;not null" json:"location"`
	SizeBytes  int64          `gorm:"column:size_bytes" json:"size_bytes"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AssetPart) TableName() string { return "asset_part" }
