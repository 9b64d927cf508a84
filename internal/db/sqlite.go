package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
	"github.com/inksight/inksight-backend/internal/utils"
)

type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	path := utils.GetEnv("SQLITE_PATH", "inksight.db", log)

	serviceLog.Info("Opening SQLite database", "path", path)
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		serviceLog.Error("Failed to open SQLite database", "error", err)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer, many readers. WAL keeps device pulls from blocking
	// behind the regeneration batch's writes.
	if err := gdb.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		serviceLog.Error("Failed to enable WAL mode", "error", err)
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := gdb.Exec("PRAGMA busy_timeout=5000;").Error; err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&types.DeviceConfig{},
		&types.DeviceState{},
		&types.ContentHistory{},
		&types.RenderLog{},
		&types.Heartbeat{},
		&types.Favorite{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.log.Info("Auto migration complete")
	return nil
}

func (s *SQLiteService) DB() *gorm.DB {
	return s.db
}
