package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceState is the small mutable record behind mode rotation and remote
// actions: the cycle counter, the last persona served, and one-shot flags
// consumed on the device's next pull.
type DeviceState struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MAC            string    `gorm:"column:mac;not null;uniqueIndex" json:"mac"`
	CycleIndex     int       `gorm:"column:cycle_index" json:"cycle_index"`
	LastPersona    string    `gorm:"column:last_persona" json:"last_persona"`
	PendingMode    string    `gorm:"column:pending_mode" json:"pending_mode"`
	PendingRefresh bool      `gorm:"column:pending_refresh" json:"pending_refresh"`
	LastRefreshAt  time.Time `gorm:"column:last_refresh_at" json:"last_refresh_at"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (DeviceState) TableName() string { return "device_state" }

func (s *DeviceState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
