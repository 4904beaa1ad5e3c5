package models

import (
	"time"

	"gorm.io/gorm"
)

// LabelArtifact is the durable row behind one (tote, profile) artifact. A
// re-upload overwrites the row in place; no history is kept. Profiles dropped
// from a tote's set are soft-deleted so their version stays the floor.
type LabelArtifact struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ToteID      string `gorm:"size:128;not null;uniqueIndex:idx_label_tote_profile"`
	ProfileName string `gorm:"size:64;not null;uniqueIndex:idx_label_tote_profile"`
	PixelFormat string `gorm:"size:16;not null"`
	Width       int    `gorm:"not null"`
	Height      int    `gorm:"not null"`
	ContentType string `gorm:"size:64"`
	Data        []byte `gorm:"not null"`
	Version     int64  `gorm:"not null"` // unix seconds, strictly increasing per key

	DeletedAt gorm.DeletedAt `gorm:"index"`
}
