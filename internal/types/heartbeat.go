package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Heartbeat is one battery and signal report from a device wake cycle.
type Heartbeat struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MAC        string    `gorm:"column:mac;not null;index" json:"mac"`
	Voltage    float64   `gorm:"column:voltage" json:"voltage"`
	BatteryPct int       `gorm:"column:battery_pct" json:"battery_pct"`
	WiFiRSSI   int       `gorm:"column:wifi_rssi" json:"wifi_rssi"`
	Firmware   string    `gorm:"column:firmware" json:"firmware,omitempty"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (Heartbeat) TableName() string { return "heartbeat" }

func (h *Heartbeat) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
