package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RenderLog records one frame served to a device.
type RenderLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MAC        string    `gorm:"column:mac;not null;index" json:"mac"`
	ModeID     string    `gorm:"column:mode_id;not null;index" json:"mode_id"`
	Width      int       `gorm:"column:width;not null" json:"width"`
	Height     int       `gorm:"column:height;not null" json:"height"`
	Cached     bool      `gorm:"column:cached;not null" json:"cached"`
	DurationMS int64     `gorm:"column:duration_ms;not null" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (RenderLog) TableName() string { return "render_log" }

func (r *RenderLog) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
