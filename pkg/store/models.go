package store

import (
	"time"

	"gorm.io/datatypes"
)

// TableModel holds one serialized collection per row.
type TableModel struct {
	TableKey  string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:1"`
	UpdatedAt time.Time      `gorm:"not null"`
}
