package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

type FavoriteRepo interface {
	Add(ctx context.Context, tx *gorm.DB, mac, modeID string, content domain.Record) (uuid.UUID, error)
	Remove(ctx context.Context, tx *gorm.DB, mac string, id uuid.UUID) (bool, error)
	List(ctx context.Context, tx *gorm.DB, mac string) ([]types.Favorite, error)
}

type favoriteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFavoriteRepo(db *gorm.DB, baseLog *logger.Logger) FavoriteRepo {
	return &favoriteRepo{db: db, log: baseLog.With("repo", "FavoriteRepo")}
}

func (r *favoriteRepo) Add(ctx context.Context, tx *gorm.DB, mac, modeID string, content domain.Record) (uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal favorite content: %w", err)
	}
	row := types.Favorite{MAC: mac, ModeID: modeID, Content: raw}
	if err := transaction.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("add favorite: %w", err)
	}
	return row.ID, nil
}

func (r *favoriteRepo) Remove(ctx context.Context, tx *gorm.DB, mac string, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Where("mac = ? AND id = ?", mac, id).
		Delete(&types.Favorite{})
	if res.Error != nil {
		return false, fmt.Errorf("remove favorite: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *favoriteRepo) List(ctx context.Context, tx *gorm.DB, mac string) ([]types.Favorite, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []types.Favorite
	err := transaction.WithContext(ctx).
		Where("mac = ?", mac).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return rows, nil
}
