// Package types holds the persisted models. Columns that carry structured
// user data (mode rotations, tones, custom fields) are stored as JSON.
package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeviceConfig struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MAC             string         `gorm:"column:mac;not null;uniqueIndex" json:"mac"`
	Nickname        string         `gorm:"column:nickname" json:"nickname"`
	Modes           datatypes.JSON `gorm:"column:modes" json:"modes"`
	RefreshStrategy string         `gorm:"column:refresh_strategy" json:"refresh_strategy"`
	CharacterTones  datatypes.JSON `gorm:"column:character_tones" json:"character_tones"`
	Language        string         `gorm:"column:language" json:"language"`
	ContentTone     string         `gorm:"column:content_tone" json:"content_tone"`
	City            string         `gorm:"column:city" json:"city"`
	RefreshInterval int            `gorm:"column:refresh_interval" json:"refresh_interval"`
	LLMProvider     string         `gorm:"column:llm_provider" json:"llm_provider"`
	LLMModel        string         `gorm:"column:llm_model" json:"llm_model"`
	CustomFields    datatypes.JSON `gorm:"column:custom_fields" json:"custom_fields,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (DeviceConfig) TableName() string { return "device_config" }

func (c *DeviceConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
