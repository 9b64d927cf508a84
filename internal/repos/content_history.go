package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

// historyKeep is how many records survive per device and persona.
const historyKeep = 200

type ContentHistoryRepo interface {
	Save(ctx context.Context, tx *gorm.DB, mac, modeID, hash, summary string, content domain.Record) error
	RecentHashes(ctx context.Context, mac, modeID string, limit int) ([]string, error)
	RecentSummaries(ctx context.Context, mac, modeID string, limit int) ([]string, error)
	Recent(ctx context.Context, tx *gorm.DB, mac, modeID string, limit int) ([]types.ContentHistory, error)
}

type contentHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentHistoryRepo(db *gorm.DB, baseLog *logger.Logger) ContentHistoryRepo {
	return &contentHistoryRepo{db: db, log: baseLog.With("repo", "ContentHistoryRepo")}
}

// Save appends one generated record and prunes anything past the per-mode
// retention window.
func (r *contentHistoryRepo) Save(ctx context.Context, tx *gorm.DB, mac, modeID, hash, summary string, content domain.Record) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal history content: %w", err)
	}
	row := types.ContentHistory{
		MAC:         mac,
		ModeID:      modeID,
		ContentHash: hash,
		Summary:     summary,
		Content:     raw,
	}
	if err := transaction.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save content history: %w", err)
	}

	err = transaction.WithContext(ctx).
		Where("mac = ? AND mode_id = ? AND id NOT IN (?)",
			mac, modeID,
			transaction.Model(&types.ContentHistory{}).
				Select("id").
				Where("mac = ? AND mode_id = ?", mac, modeID).
				Order("created_at DESC").
				Limit(historyKeep),
		).
		Delete(&types.ContentHistory{}).Error
	if err != nil {
		r.log.Warn("History prune failed", "mac", mac, "mode", modeID, "error", err)
	}
	return nil
}

func (r *contentHistoryRepo) RecentHashes(ctx context.Context, mac, modeID string, limit int) ([]string, error) {
	var hashes []string
	err := r.db.WithContext(ctx).
		Model(&types.ContentHistory{}).
		Where("mac = ? AND mode_id = ?", mac, modeID).
		Order("created_at DESC").
		Limit(limit).
		Pluck("content_hash", &hashes).Error
	if err != nil {
		return nil, fmt.Errorf("recent hashes: %w", err)
	}
	return hashes, nil
}

func (r *contentHistoryRepo) RecentSummaries(ctx context.Context, mac, modeID string, limit int) ([]string, error) {
	var summaries []string
	err := r.db.WithContext(ctx).
		Model(&types.ContentHistory{}).
		Where("mac = ? AND mode_id = ? AND summary != ''", mac, modeID).
		Order("created_at DESC").
		Limit(limit).
		Pluck("summary", &summaries).Error
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	return summaries, nil
}

func (r *contentHistoryRepo) Recent(ctx context.Context, tx *gorm.DB, mac, modeID string, limit int) ([]types.ContentHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx).Where("mac = ?", mac)
	if modeID != "" {
		q = q.Where("mode_id = ?", modeID)
	}
	var rows []types.ContentHistory
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	return rows, nil
}
