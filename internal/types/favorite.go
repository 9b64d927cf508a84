package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Favorite is a content record the user pinned from the history view.
type Favorite struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MAC       string         `gorm:"column:mac;not null;index" json:"mac"`
	ModeID    string         `gorm:"column:mode_id;not null" json:"mode_id"`
	Content   datatypes.JSON `gorm:"column:content" json:"content"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Favorite) TableName() string { return "favorite" }

func (f *Favorite) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
