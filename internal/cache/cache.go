package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/render"
)

// GenerateFunc produces a fresh frame for one persona at one resolution.
// The pipeline injects it so the cache never imports content or rendering.
type GenerateFunc func(ctx context.Context, cfg domain.DeviceConfig, modeID string, width, height int) (*render.Bitmap, error)

// frameEntry holds encoded frame bytes with their creation time. Liveness
// is never stored; it is judged against the device's current TTL on every
// read, so a config change immediately re-ages existing entries.
type frameEntry struct {
	raw       []byte
	createdAt time.Time
}

// FrameCache serves pre-rendered frames from an in-process map backed by an
// optional persistent store, and keeps a device's rotation warm through a
// background single-flight regeneration batch.
type FrameCache struct {
	log      *logger.Logger
	backing  Store
	registry *modes.Registry
	generate GenerateFunc
	now      func() time.Time

	mu       sync.Mutex
	mem      map[string]frameEntry
	inflight map[string]bool
}

// NewFrameCache wires the cache. The backing store is optional; without it
// frames live only in the process map.
func NewFrameCache(log *logger.Logger, backing Store, registry *modes.Registry, generate GenerateFunc) (*FrameCache, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if generate == nil {
		return nil, fmt.Errorf("generate func is required")
	}
	return &FrameCache{
		log:      log.With("service", "FrameCache"),
		backing:  backing,
		registry: registry,
		generate: generate,
		now:      time.Now,
		mem:      make(map[string]frameEntry),
		inflight: make(map[string]bool),
	}, nil
}

// Key scopes a cached frame to device, persona and resolution. The
// reference resolution keeps the short legacy form.
func Key(mac, modeID string, width, height int) string {
	if width == config.ScreenWidth && height == config.ScreenHeight {
		return mac + ":" + modeID
	}
	return fmt.Sprintf("%s:%s:%dx%d", mac, modeID, width, height)
}

// TTL covers one full rotation of the device's cacheable personas with a
// padding factor, so an entry is still warm when its turn comes back.
func (c *FrameCache) TTL(cfg domain.DeviceConfig) time.Duration {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = config.DefaultRefreshInterval
	}
	count := len(c.cacheableModes(cfg))
	if count == 0 {
		count = 1
	}
	minutes := float64(interval*count) * config.CacheTTLFactor
	return time.Duration(math.Floor(minutes)) * time.Minute
}

func (c *FrameCache) cacheableModes(cfg domain.DeviceConfig) []string {
	enabled := cfg.Modes
	if len(enabled) == 0 {
		enabled = config.DefaultModes
	}
	cacheable := c.registry.CacheableIDs()
	out := make([]string, 0, len(enabled))
	for _, id := range enabled {
		if cacheable[id] {
			out = append(out, id)
		}
	}
	return out
}

// Get returns the cached frame or apperr.ErrCacheMiss. Liveness is judged
// against the TTL computed from the config passed in, not the config the
// entry was written under.
func (c *FrameCache) Get(ctx context.Context, cfg domain.DeviceConfig, modeID string, width, height int) (*render.Bitmap, error) {
	raw, ok := c.lookup(ctx, Key(cfg.MAC, modeID, width, height), c.TTL(cfg))
	if !ok {
		return nil, apperr.ErrCacheMiss
	}
	frame, err := render.DecodePNG(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode cached frame: %w", err)
	}
	return frame, nil
}

// lookup checks the in-process map first, then the backing store,
// rehydrating the map on a backing hit.
func (c *FrameCache) lookup(ctx context.Context, key string, ttl time.Duration) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.mem[key]; ok {
		if now.Sub(e.createdAt) < ttl {
			c.mu.Unlock()
			return e.raw, true
		}
		delete(c.mem, key)
	}
	c.mu.Unlock()

	if c.backing == nil {
		return nil, false
	}
	raw, createdAt, err := c.backing.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperr.ErrCacheMiss) {
			c.log.Warn("Backing store read failed", "key", key, "error", err)
		}
		return nil, false
	}
	if now.Sub(createdAt) >= ttl {
		return nil, false
	}
	c.mu.Lock()
	c.mem[key] = frameEntry{raw: raw, createdAt: createdAt}
	c.mu.Unlock()
	return raw, true
}

// Set writes a rendered frame to both layers with a fresh creation time.
func (c *FrameCache) Set(ctx context.Context, cfg domain.DeviceConfig, modeID string, width, height int, frame *render.Bitmap) error {
	var buf bytes.Buffer
	if err := frame.EncodePNG(&buf); err != nil {
		return err
	}
	key := Key(cfg.MAC, modeID, width, height)
	createdAt := c.now()

	c.mu.Lock()
	c.mem[key] = frameEntry{raw: buf.Bytes(), createdAt: createdAt}
	c.mu.Unlock()

	if c.backing == nil {
		return nil
	}
	return c.backing.Set(ctx, key, buf.Bytes(), createdAt)
}

// Invalidate drops one persona's cached frame for a device from both layers.
func (c *FrameCache) Invalidate(ctx context.Context, mac, modeID string, width, height int) error {
	key := Key(mac, modeID, width, height)
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	if c.backing == nil {
		return nil
	}
	return c.backing.Delete(ctx, key)
}

// CheckAndRegenerateAll scans every enabled cacheable persona for liveness
// under the current TTL. When all are warm it returns true without side
// effects. Otherwise it spawns one background batch regenerating the whole
// rotation and returns false; the caller should produce just the persona it
// needs synchronously. At most one batch runs per device.
func (c *FrameCache) CheckAndRegenerateAll(ctx context.Context, cfg domain.DeviceConfig, width, height int) bool {
	ids := c.cacheableModes(cfg)
	if len(ids) == 0 {
		return true
	}

	ttl := c.TTL(cfg)
	allLive := true
	for _, id := range ids {
		if _, ok := c.lookup(ctx, Key(cfg.MAC, id, width, height), ttl); !ok {
			allLive = false
			break
		}
	}
	if allLive {
		return true
	}

	c.mu.Lock()
	if c.inflight[cfg.MAC] {
		c.mu.Unlock()
		c.log.Debug("Regeneration already running", "mac", cfg.MAC)
		return false
	}
	c.inflight[cfg.MAC] = true
	c.mu.Unlock()

	go c.regenerateAll(cfg, width, height, ids)
	return false
}

// regenerateAll runs detached from the triggering request; the device has
// already been answered by the time these renders land.
func (c *FrameCache) regenerateAll(cfg domain.DeviceConfig, width, height int, ids []string) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, cfg.MAC)
		c.mu.Unlock()
	}()

	c.log.Info("Regenerating personas", "mac", cfg.MAC, "count", len(ids))
	start := time.Now()

	g, gctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			frame, err := c.generate(gctx, cfg, id, width, height)
			if err != nil {
				c.log.Error("Persona regeneration failed", "mac", cfg.MAC, "mode", id, "error", err)
				return nil
			}
			if err := c.Set(gctx, cfg, id, width, height, frame); err != nil {
				c.log.Error("Frame cache write failed", "mac", cfg.MAC, "mode", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	c.log.Info("Regeneration batch done", "mac", cfg.MAC, "elapsed", time.Since(start).String())
}
