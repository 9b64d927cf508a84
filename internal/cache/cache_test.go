package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/render"
)

func testRegistry(t *testing.T, cacheable ...string) *modes.Registry {
	t.Helper()
	reg := modes.NewRegistry(logger.NewNop())
	for _, id := range cacheable {
		if err := reg.RegisterNative(id, nil, nil, modes.Info{Cacheable: true}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return reg
}

func testCache(t *testing.T, reg *modes.Registry, gen GenerateFunc) *FrameCache {
	t.Helper()
	if gen == nil {
		gen = func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
			return render.NewBitmap(w, h), nil
		}
	}
	c, err := NewFrameCache(logger.NewNop(), NewMemoryStore(), reg, gen)
	if err != nil {
		t.Fatalf("new frame cache: %v", err)
	}
	return c
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *FrameCache) batchRunning(mac string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[mac]
}

func TestKey_DefaultResolutionKeepsShortForm(t *testing.T) {
	if got := Key("aa:bb:cc", "STOIC", 400, 300); got != "aa:bb:cc:STOIC" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("aa:bb:cc", "STOIC", 800, 480); got != "aa:bb:cc:STOIC:800x480" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestTTL_CoversFullRotationWithPadding(t *testing.T) {
	reg := testRegistry(t, "STOIC", "ZEN")
	c := testCache(t, reg, nil)

	cfg := domain.DeviceConfig{
		MAC:             "m",
		Modes:           []string{"STOIC", "ZEN"},
		RefreshInterval: 60,
	}
	if got, want := c.TTL(cfg), 132*time.Minute; got != want {
		t.Fatalf("ttl = %v, want %v", got, want)
	}

	cfg.RefreshInterval = 30
	if got, want := c.TTL(cfg), 66*time.Minute; got != want {
		t.Fatalf("ttl = %v, want %v", got, want)
	}
}

func TestTTL_FlooredToWholeMinutes(t *testing.T) {
	reg := testRegistry(t, "STOIC", "ZEN", "MEMO")
	c := testCache(t, reg, nil)

	// 25 * 3 * 1.1 = 82.5, floored.
	cfg := domain.DeviceConfig{
		MAC:             "m",
		Modes:           []string{"STOIC", "ZEN", "MEMO"},
		RefreshInterval: 25,
	}
	if got, want := c.TTL(cfg), 82*time.Minute; got != want {
		t.Fatalf("ttl = %v, want %v", got, want)
	}
}

func TestTTL_IgnoresNonCacheableModes(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	// ARTWALL registered without the cacheable flag.
	if err := reg.RegisterNative("ARTWALL", nil, nil, modes.Info{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := testCache(t, reg, nil)

	cfg := domain.DeviceConfig{
		MAC:             "m",
		Modes:           []string{"STOIC", "ARTWALL"},
		RefreshInterval: 60,
	}
	if got, want := c.TTL(cfg), 66*time.Minute; got != want {
		t.Fatalf("ttl = %v, want %v", got, want)
	}
}

func TestGetSet_RoundTripsFrame(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	c := testCache(t, reg, nil)
	ctx := context.Background()

	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC"}, RefreshInterval: 60}

	if _, err := c.Get(ctx, cfg, "STOIC", 400, 300); !errors.Is(err, apperr.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	frame := render.NewBitmap(400, 300)
	frame.SetInk(10, 20, true)
	if err := c.Set(ctx, cfg, "STOIC", 400, 300, frame); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := c.Get(ctx, cfg, "STOIC", 400, 300)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.W != 400 || got.H != 300 {
		t.Fatalf("unexpected size %dx%d", got.W, got.H)
	}
	if !got.IsInk(10, 20) {
		t.Fatalf("expected ink at (10,20) after round trip")
	}
	if got.IsInk(0, 0) {
		t.Fatalf("expected white at (0,0)")
	}
}

func TestGet_TTLRecomputedFromLiveConfig(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	c := testCache(t, reg, nil)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC"}, RefreshInterval: 60}
	if err := c.Set(ctx, cfg, "STOIC", 400, 300, render.NewBitmap(400, 300)); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Live under the 66-minute rotation TTL.
	now = now.Add(30 * time.Minute)
	if _, err := c.Get(ctx, cfg, "STOIC", 400, 300); err != nil {
		t.Fatalf("get within ttl: %v", err)
	}

	// Shortening the refresh interval re-ages the same entry on the spot.
	cfg.RefreshInterval = 10
	if _, err := c.Get(ctx, cfg, "STOIC", 400, 300); !errors.Is(err, apperr.ErrCacheMiss) {
		t.Fatalf("expected miss under shortened ttl, got %v", err)
	}

	// Restoring the interval revives it: no expiry was stored on the entry.
	cfg.RefreshInterval = 60
	if _, err := c.Get(ctx, cfg, "STOIC", 400, 300); err != nil {
		t.Fatalf("expected entry alive again under restored ttl, got %v", err)
	}
}

func TestGet_RehydratesFromBackingStore(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	backing := NewMemoryStore()
	ctx := context.Background()
	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC"}, RefreshInterval: 60}

	first, err := NewFrameCache(logger.NewNop(), backing, reg, func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
		return render.NewBitmap(w, h), nil
	})
	if err != nil {
		t.Fatalf("new frame cache: %v", err)
	}
	if err := first.Set(ctx, cfg, "STOIC", 400, 300, render.NewBitmap(400, 300)); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A fresh process sees the backing entry and pulls it into its map.
	second := testCache(t, reg, nil)
	second.backing = backing
	if _, err := second.Get(ctx, cfg, "STOIC", 400, 300); err != nil {
		t.Fatalf("get through backing store: %v", err)
	}

	// Once rehydrated, the in-process map alone serves the frame.
	if err := backing.Delete(ctx, Key("m", "STOIC", 400, 300)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := second.Get(ctx, cfg, "STOIC", 400, 300); err != nil {
		t.Fatalf("get from rehydrated map: %v", err)
	}
}

func TestCheckAndRegenerateAll_FillsEveryCacheableMode(t *testing.T) {
	reg := testRegistry(t, "STOIC", "ZEN")
	var calls int32
	c := testCache(t, reg, func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
		atomic.AddInt32(&calls, 1)
		return render.NewBitmap(w, h), nil
	})
	ctx := context.Background()

	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC", "ZEN"}, RefreshInterval: 60}
	if c.CheckAndRegenerateAll(ctx, cfg, 400, 300) {
		t.Fatalf("cold cache reported fully warm")
	}

	waitFor(t, "batch completion", func() bool { return !c.batchRunning("m") })
	for _, id := range []string{"STOIC", "ZEN"} {
		if _, err := c.Get(ctx, cfg, id, 400, 300); err != nil {
			t.Fatalf("expected %s cached, got %v", id, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 generations, got %d", got)
	}
}

func TestCheckAndRegenerateAll_WarmRotationIsSideEffectFree(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	var calls int32
	c := testCache(t, reg, func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
		atomic.AddInt32(&calls, 1)
		return render.NewBitmap(w, h), nil
	})
	ctx := context.Background()
	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC"}, RefreshInterval: 60}

	if err := c.Set(ctx, cfg, "STOIC", 400, 300, render.NewBitmap(400, 300)); err != nil {
		t.Fatalf("set: %v", err)
	}

	if !c.CheckAndRegenerateAll(ctx, cfg, 400, 300) {
		t.Fatalf("warm rotation not reported as fully warm")
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("warm scan must not regenerate, got %d generations", got)
	}
}

func TestCheckAndRegenerateAll_FailedModeDoesNotAbortBatch(t *testing.T) {
	reg := testRegistry(t, "STOIC", "ZEN")
	c := testCache(t, reg, func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
		if modeID == "STOIC" {
			return nil, errors.New("upstream down")
		}
		return render.NewBitmap(w, h), nil
	})
	ctx := context.Background()

	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC", "ZEN"}, RefreshInterval: 60}
	if c.CheckAndRegenerateAll(ctx, cfg, 400, 300) {
		t.Fatalf("cold cache reported fully warm")
	}
	waitFor(t, "batch completion", func() bool { return !c.batchRunning("m") })

	if _, err := c.Get(ctx, cfg, "STOIC", 400, 300); !errors.Is(err, apperr.ErrCacheMiss) {
		t.Fatalf("expected STOIC miss, got %v", err)
	}
	if _, err := c.Get(ctx, cfg, "ZEN", 400, 300); err != nil {
		t.Fatalf("expected ZEN cached, got %v", err)
	}
}

func TestCheckAndRegenerateAll_SingleFlightPerDevice(t *testing.T) {
	reg := testRegistry(t, "STOIC")
	release := make(chan struct{})
	var calls int32
	c := testCache(t, reg, func(ctx context.Context, cfg domain.DeviceConfig, modeID string, w, h int) (*render.Bitmap, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return render.NewBitmap(w, h), nil
	})
	ctx := context.Background()
	cfg := domain.DeviceConfig{MAC: "m", Modes: []string{"STOIC"}, RefreshInterval: 60}

	if c.CheckAndRegenerateAll(ctx, cfg, 400, 300) {
		t.Fatalf("cold cache reported fully warm")
	}
	waitFor(t, "first generation to start", func() bool { return atomic.LoadInt32(&calls) > 0 })

	// The overlapping call observes the in-flight marker and declines to
	// schedule a second batch, even at a different resolution.
	if c.CheckAndRegenerateAll(ctx, cfg, 800, 480) {
		t.Fatalf("stale cache reported fully warm")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected overlapping call to no-op, got %d generations", got)
	}

	close(release)
	waitFor(t, "batch completion", func() bool { return !c.batchRunning("m") })

	// The rotation is warm now; a fresh call scans and stays quiet.
	if !c.CheckAndRegenerateAll(ctx, cfg, 400, 300) {
		t.Fatalf("warm rotation not reported as fully warm")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("warm scan regenerated, got %d generations", got)
	}
}

func TestMemoryStore_RoundTripsCreationTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	createdAt := time.Now().Add(-time.Hour)

	if err := s.Set(ctx, "k", []byte("v"), createdAt); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "v" || !got.Equal(createdAt) {
		t.Fatalf("got %q at %v, want %q at %v", val, got, "v", createdAt)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, apperr.ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
