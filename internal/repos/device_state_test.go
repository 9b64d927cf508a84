package repos

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.DeviceConfig{}, &types.DeviceState{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestDeviceStateRepo_GetUnknownReturnsZeroState(t *testing.T) {
	repo := NewDeviceStateRepo(testDB(t), logger.NewNop())
	state, err := repo.Get(context.Background(), nil, "aa:bb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.MAC != "aa:bb" || state.CycleIndex != 0 || state.PendingMode != "" {
		t.Fatalf("state = %+v, want zero state", state)
	}
}

func TestDeviceStateRepo_PendingModeConsumedOnce(t *testing.T) {
	repo := NewDeviceStateRepo(testDB(t), logger.NewNop())
	ctx := context.Background()

	if err := repo.SetPendingMode(ctx, nil, "m", "ZEN"); err != nil {
		t.Fatalf("set pending mode: %v", err)
	}
	got, err := repo.ConsumePendingMode(ctx, nil, "m")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got != "ZEN" {
		t.Fatalf("pending = %q, want ZEN", got)
	}
	got, err = repo.ConsumePendingMode(ctx, nil, "m")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if got != "" {
		t.Fatalf("pending = %q, want cleared after consume", got)
	}
}

func TestDeviceStateRepo_PendingRefreshConsumedOnce(t *testing.T) {
	repo := NewDeviceStateRepo(testDB(t), logger.NewNop())
	ctx := context.Background()

	pending, err := repo.ConsumePendingRefresh(ctx, nil, "m")
	if err != nil || pending {
		t.Fatalf("fresh device pending = %v, %v", pending, err)
	}
	if err := repo.SetPendingRefresh(ctx, nil, "m"); err != nil {
		t.Fatalf("set: %v", err)
	}
	pending, err = repo.ConsumePendingRefresh(ctx, nil, "m")
	if err != nil || !pending {
		t.Fatalf("pending = %v, %v, want true", pending, err)
	}
	pending, err = repo.ConsumePendingRefresh(ctx, nil, "m")
	if err != nil || pending {
		t.Fatalf("second consume pending = %v, %v, want false", pending, err)
	}
}

func TestDeviceStateRepo_AdvanceCycle(t *testing.T) {
	repo := NewDeviceStateRepo(testDB(t), logger.NewNop())
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		idx, err := repo.AdvanceCycle(ctx, nil, "m")
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if idx != want {
			t.Fatalf("idx = %d, want %d", idx, want)
		}
	}

	if err := repo.SetCycleIndex(ctx, nil, "m", 10); err != nil {
		t.Fatalf("set cycle index: %v", err)
	}
	idx, err := repo.AdvanceCycle(ctx, nil, "m")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if idx != 10 {
		t.Fatalf("idx = %d, want 10", idx)
	}
}

func TestDeviceStateRepo_MarkServed(t *testing.T) {
	repo := NewDeviceStateRepo(testDB(t), logger.NewNop())
	ctx := context.Background()

	if err := repo.MarkServed(ctx, nil, "m", "STOIC"); err != nil {
		t.Fatalf("mark served: %v", err)
	}
	state, err := repo.Get(ctx, nil, "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.LastPersona != "STOIC" {
		t.Fatalf("last persona = %q", state.LastPersona)
	}
	if state.LastRefreshAt.IsZero() {
		t.Fatalf("last refresh not recorded")
	}
}

func TestDeviceConfigRepo_GetUnknownReturnsDefaults(t *testing.T) {
	repo := NewDeviceConfigRepo(testDB(t), logger.NewNop())
	cfg, err := repo.Get(context.Background(), nil, "aa:bb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.MAC != "aa:bb" {
		t.Fatalf("mac = %q", cfg.MAC)
	}
	if len(cfg.Modes) != len(config.DefaultModes) {
		t.Fatalf("modes = %v, want defaults", cfg.Modes)
	}
	if cfg.LLMProvider != config.DefaultLLMProvider || cfg.City != config.DefaultCity {
		t.Fatalf("cfg = %+v, want business defaults", cfg)
	}
}

func TestDeviceConfigRepo_UpsertRoundTrip(t *testing.T) {
	repo := NewDeviceConfigRepo(testDB(t), logger.NewNop())
	ctx := context.Background()

	in := domain.DeviceConfig{
		MAC:             "aa:bb",
		Nickname:        "desk",
		Modes:           []string{"ZEN", "MEMO"},
		RefreshStrategy: "cycle",
		CharacterTones:  []string{"鲁迅"},
		City:            "杭州",
		RefreshInterval: 45,
		CustomFields: map[string]any{
			"memo_text": "喝水",
		},
	}
	if err := repo.Upsert(ctx, nil, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.Get(ctx, nil, "aa:bb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nickname != "desk" || got.RefreshStrategy != "cycle" || got.City != "杭州" {
		t.Fatalf("got = %+v", got)
	}
	if len(got.Modes) != 2 || got.Modes[0] != "ZEN" {
		t.Fatalf("modes = %v", got.Modes)
	}
	if got.CustomFields["memo_text"] != "喝水" {
		t.Fatalf("custom fields = %v", got.CustomFields)
	}
	// Unset fields come back as defaults, not blanks.
	if got.LLMProvider != config.DefaultLLMProvider {
		t.Fatalf("llm provider = %q", got.LLMProvider)
	}

	in.Nickname = "shelf"
	in.RefreshInterval = 90
	if err := repo.Upsert(ctx, nil, in); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = repo.Get(ctx, nil, "aa:bb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nickname != "shelf" || got.RefreshInterval != 90 {
		t.Fatalf("update not applied: %+v", got)
	}

	list, err := repo.List(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].MAC != "aa:bb" {
		t.Fatalf("list = %+v", list)
	}
}
