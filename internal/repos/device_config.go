// Package repos wraps persistence behind small interfaces. Every method
// accepts an optional transaction handle; nil falls back to the pooled
// connection.
package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

type DeviceConfigRepo interface {
	Get(ctx context.Context, tx *gorm.DB, mac string) (domain.DeviceConfig, error)
	Upsert(ctx context.Context, tx *gorm.DB, cfg domain.DeviceConfig) error
	List(ctx context.Context, tx *gorm.DB) ([]domain.DeviceConfig, error)
}

type deviceConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviceConfigRepo(db *gorm.DB, baseLog *logger.Logger) DeviceConfigRepo {
	return &deviceConfigRepo{db: db, log: baseLog.With("repo", "DeviceConfigRepo")}
}

// Get returns the stored configuration, or the business defaults for a
// device that has never been configured.
func (r *deviceConfigRepo) Get(ctx context.Context, tx *gorm.DB, mac string) (domain.DeviceConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.DeviceConfig
	err := transaction.WithContext(ctx).Where("mac = ?", mac).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultConfig(mac), nil
	}
	if err != nil {
		return domain.DeviceConfig{}, fmt.Errorf("get device config: %w", err)
	}
	return toDomainConfig(row), nil
}

func (r *deviceConfigRepo) Upsert(ctx context.Context, tx *gorm.DB, cfg domain.DeviceConfig) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row, err := toModelConfig(cfg)
	if err != nil {
		return err
	}
	err = transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "mac"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"nickname", "modes", "refresh_strategy", "character_tones",
				"language", "content_tone", "city", "refresh_interval",
				"llm_provider", "llm_model", "custom_fields", "updated_at",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert device config: %w", err)
	}
	r.log.Info("Device config saved", "mac", cfg.MAC)
	return nil
}

func (r *deviceConfigRepo) List(ctx context.Context, tx *gorm.DB) ([]domain.DeviceConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []types.DeviceConfig
	if err := transaction.WithContext(ctx).Order("mac").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list device configs: %w", err)
	}
	out := make([]domain.DeviceConfig, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainConfig(row))
	}
	return out, nil
}

func defaultConfig(mac string) domain.DeviceConfig {
	return domain.DeviceConfig{
		MAC:             mac,
		Modes:           append([]string(nil), config.DefaultModes...),
		Language:        config.DefaultLanguage,
		ContentTone:     config.DefaultContentTone,
		City:            config.DefaultCity,
		RefreshInterval: config.DefaultRefreshInterval,
		LLMProvider:     config.DefaultLLMProvider,
		LLMModel:        config.DefaultLLMModel,
	}
}

func toDomainConfig(row types.DeviceConfig) domain.DeviceConfig {
	cfg := defaultConfig(row.MAC)
	cfg.Nickname = row.Nickname
	cfg.RefreshStrategy = row.RefreshStrategy

	if row.Language != "" {
		cfg.Language = row.Language
	}
	if row.ContentTone != "" {
		cfg.ContentTone = row.ContentTone
	}
	if row.City != "" {
		cfg.City = row.City
	}
	if row.RefreshInterval > 0 {
		cfg.RefreshInterval = row.RefreshInterval
	}
	if row.LLMProvider != "" {
		cfg.LLMProvider = row.LLMProvider
	}
	if row.LLMModel != "" {
		cfg.LLMModel = row.LLMModel
	}

	var modes []string
	if len(row.Modes) > 0 && json.Unmarshal(row.Modes, &modes) == nil && len(modes) > 0 {
		cfg.Modes = modes
	}
	var tones []string
	if len(row.CharacterTones) > 0 && json.Unmarshal(row.CharacterTones, &tones) == nil {
		cfg.CharacterTones = tones
	}
	var custom map[string]any
	if len(row.CustomFields) > 0 && json.Unmarshal(row.CustomFields, &custom) == nil {
		cfg.CustomFields = custom
	}
	return cfg
}

func toModelConfig(cfg domain.DeviceConfig) (types.DeviceConfig, error) {
	modes, err := json.Marshal(cfg.Modes)
	if err != nil {
		return types.DeviceConfig{}, fmt.Errorf("marshal modes: %w", err)
	}
	tones, err := json.Marshal(cfg.CharacterTones)
	if err != nil {
		return types.DeviceConfig{}, fmt.Errorf("marshal character tones: %w", err)
	}
	custom, err := json.Marshal(cfg.CustomFields)
	if err != nil {
		return types.DeviceConfig{}, fmt.Errorf("marshal custom fields: %w", err)
	}
	return types.DeviceConfig{
		MAC:             cfg.MAC,
		Nickname:        cfg.Nickname,
		Modes:           modes,
		RefreshStrategy: cfg.RefreshStrategy,
		CharacterTones:  tones,
		Language:        cfg.Language,
		ContentTone:     cfg.ContentTone,
		City:            cfg.City,
		RefreshInterval: cfg.RefreshInterval,
		LLMProvider:     cfg.LLMProvider,
		LLMModel:        cfg.LLMModel,
		CustomFields:    custom,
	}, nil
}
