package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentHistory is one generated record per device and persona, kept for
// deduplication and the history API.
type ContentHistory struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MAC         string         `gorm:"column:mac;not null;index:idx_history_mac_mode,priority:1" json:"mac"`
	ModeID      string         `gorm:"column:mode_id;not null;index:idx_history_mac_mode,priority:2" json:"mode_id"`
	ContentHash string         `gorm:"column:content_hash;not null;index" json:"content_hash"`
	Summary     string         `gorm:"column:summary" json:"summary"`
	Content     datatypes.JSON `gorm:"column:content" json:"content"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ContentHistory) TableName() string { return "content_history" }

func (h *ContentHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
