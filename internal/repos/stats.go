package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

// heartbeatKeep is how many heartbeats survive per device.
const heartbeatKeep = 1000

// ModeCount is one row of the per-persona render breakdown.
type ModeCount struct {
	ModeID string `json:"mode_id"`
	Count  int64  `json:"count"`
}

type StatsRepo interface {
	LogRender(ctx context.Context, tx *gorm.DB, mac, modeID string, width, height int, cached bool, durationMS int64) error
	LogHeartbeat(ctx context.Context, tx *gorm.DB, mac string, voltage float64, batteryPct, rssi int, firmware string) error
	RenderCounts(ctx context.Context, mac string) ([]ModeCount, error)
	RecentHeartbeats(ctx context.Context, mac string, limit int) ([]types.Heartbeat, error)
}

type statsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStatsRepo(db *gorm.DB, baseLog *logger.Logger) StatsRepo {
	return &statsRepo{db: db, log: baseLog.With("repo", "StatsRepo")}
}

func (r *statsRepo) LogRender(ctx context.Context, tx *gorm.DB, mac, modeID string, width, height int, cached bool, durationMS int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := types.RenderLog{
		MAC:        mac,
		ModeID:     modeID,
		Width:      width,
		Height:     height,
		Cached:     cached,
		DurationMS: durationMS,
	}
	if err := transaction.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("log render: %w", err)
	}
	return nil
}

func (r *statsRepo) LogHeartbeat(ctx context.Context, tx *gorm.DB, mac string, voltage float64, batteryPct, rssi int, firmware string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := types.Heartbeat{
		MAC:        mac,
		Voltage:    voltage,
		BatteryPct: batteryPct,
		WiFiRSSI:   rssi,
		Firmware:   firmware,
	}
	if err := transaction.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("log heartbeat: %w", err)
	}

	err := transaction.WithContext(ctx).
		Where("mac = ? AND id NOT IN (?)",
			mac,
			transaction.Model(&types.Heartbeat{}).
				Select("id").
				Where("mac = ?", mac).
				Order("created_at DESC").
				Limit(heartbeatKeep),
		).
		Delete(&types.Heartbeat{}).Error
	if err != nil {
		r.log.Warn("Heartbeat prune failed", "mac", mac, "error", err)
	}
	return nil
}

func (r *statsRepo) RenderCounts(ctx context.Context, mac string) ([]ModeCount, error) {
	var counts []ModeCount
	err := r.db.WithContext(ctx).
		Model(&types.RenderLog{}).
		Select("mode_id, COUNT(*) as count").
		Where("mac = ?", mac).
		Group("mode_id").
		Order("count DESC").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("render counts: %w", err)
	}
	return counts, nil
}

func (r *statsRepo) RecentHeartbeats(ctx context.Context, mac string, limit int) ([]types.Heartbeat, error) {
	var rows []types.Heartbeat
	err := r.db.WithContext(ctx).
		Where("mac = ?", mac).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent heartbeats: %w", err)
	}
	return rows, nil
}
