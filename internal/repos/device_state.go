package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

// DeviceStateRepo tracks per-device rotation and one-shot flags. Pending
// mode and pending refresh are write-once read-once: the consume methods
// clear them in the same call.
type DeviceStateRepo interface {
	Get(ctx context.Context, tx *gorm.DB, mac string) (types.DeviceState, error)
	AdvanceCycle(ctx context.Context, tx *gorm.DB, mac string) (int, error)
	SetCycleIndex(ctx context.Context, tx *gorm.DB, mac string, idx int) error
	MarkServed(ctx context.Context, tx *gorm.DB, mac, persona string) error
	SetPendingMode(ctx context.Context, tx *gorm.DB, mac, modeID string) error
	ConsumePendingMode(ctx context.Context, tx *gorm.DB, mac string) (string, error)
	SetPendingRefresh(ctx context.Context, tx *gorm.DB, mac string) error
	ConsumePendingRefresh(ctx context.Context, tx *gorm.DB, mac string) (bool, error)
}

type deviceStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviceStateRepo(db *gorm.DB, baseLog *logger.Logger) DeviceStateRepo {
	return &deviceStateRepo{db: db, log: baseLog.With("repo", "DeviceStateRepo")}
}

func (r *deviceStateRepo) Get(ctx context.Context, tx *gorm.DB, mac string) (types.DeviceState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.DeviceState
	err := transaction.WithContext(ctx).Where("mac = ?", mac).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.DeviceState{MAC: mac}, nil
	}
	if err != nil {
		return types.DeviceState{}, fmt.Errorf("get device state: %w", err)
	}
	return row, nil
}

// AdvanceCycle returns the current cycle index and increments the stored one.
func (r *deviceStateRepo) AdvanceCycle(ctx context.Context, tx *gorm.DB, mac string) (int, error) {
	state, err := r.Get(ctx, tx, mac)
	if err != nil {
		return 0, err
	}
	idx := state.CycleIndex
	if err := r.upsert(ctx, tx, mac, map[string]any{"cycle_index": idx + 1}); err != nil {
		return 0, err
	}
	return idx, nil
}

func (r *deviceStateRepo) SetCycleIndex(ctx context.Context, tx *gorm.DB, mac string, idx int) error {
	return r.upsert(ctx, tx, mac, map[string]any{"cycle_index": idx})
}

func (r *deviceStateRepo) MarkServed(ctx context.Context, tx *gorm.DB, mac, persona string) error {
	return r.upsert(ctx, tx, mac, map[string]any{
		"last_persona":    persona,
		"last_refresh_at": time.Now(),
	})
}

func (r *deviceStateRepo) SetPendingMode(ctx context.Context, tx *gorm.DB, mac, modeID string) error {
	return r.upsert(ctx, tx, mac, map[string]any{"pending_mode": modeID})
}

func (r *deviceStateRepo) ConsumePendingMode(ctx context.Context, tx *gorm.DB, mac string) (string, error) {
	state, err := r.Get(ctx, tx, mac)
	if err != nil {
		return "", err
	}
	if state.PendingMode == "" {
		return "", nil
	}
	if err := r.upsert(ctx, tx, mac, map[string]any{"pending_mode": ""}); err != nil {
		return "", err
	}
	return state.PendingMode, nil
}

func (r *deviceStateRepo) SetPendingRefresh(ctx context.Context, tx *gorm.DB, mac string) error {
	return r.upsert(ctx, tx, mac, map[string]any{"pending_refresh": true})
}

func (r *deviceStateRepo) ConsumePendingRefresh(ctx context.Context, tx *gorm.DB, mac string) (bool, error) {
	state, err := r.Get(ctx, tx, mac)
	if err != nil {
		return false, err
	}
	if !state.PendingRefresh {
		return false, nil
	}
	if err := r.upsert(ctx, tx, mac, map[string]any{"pending_refresh": false}); err != nil {
		return false, err
	}
	return true, nil
}

func (r *deviceStateRepo) upsert(ctx context.Context, tx *gorm.DB, mac string, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.DeviceState{}).
		Where("mac = ?", mac).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update device state: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := types.DeviceState{MAC: mac}
	applyStateFields(&row, fields)
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mac"}},
			DoUpdates: clause.Assignments(fields),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("create device state: %w", err)
	}
	return nil
}

func applyStateFields(row *types.DeviceState, fields map[string]any) {
	if v, ok := fields["cycle_index"].(int); ok {
		row.CycleIndex = v
	}
	if v, ok := fields["last_persona"].(string); ok {
		row.LastPersona = v
	}
	if v, ok := fields["pending_mode"].(string); ok {
		row.PendingMode = v
	}
	if v, ok := fields["pending_refresh"].(bool); ok {
		row.PendingRefresh = v
	}
	if v, ok := fields["last_refresh_at"].(time.Time); ok {
		row.LastRefreshAt = v
	}
}
