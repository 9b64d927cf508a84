package handlers

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/cache"
	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/pipeline"
	"github.com/inksight/inksight-backend/internal/render"
	"github.com/inksight/inksight-backend/internal/repos"
)

const (
	minScreenW, maxScreenW = 100, 1600
	minScreenH, maxScreenH = 100, 1200
)

// noConfigModes is the rotation served to devices that were never configured.
var noConfigModes = []string{"STOIC", "ROAST", "ZEN", "DAILY"}

type DisplayHandler struct {
	log      *logger.Logger
	registry *modes.Registry
	configs  repos.DeviceConfigRepo
	states   repos.DeviceStateRepo
	stats    repos.StatsRepo
	frames   *cache.FrameCache
	pipe     *pipeline.Pipeline
}

func NewDisplayHandler(
	log *logger.Logger,
	registry *modes.Registry,
	configs repos.DeviceConfigRepo,
	states repos.DeviceStateRepo,
	stats repos.StatsRepo,
	frames *cache.FrameCache,
	pipe *pipeline.Pipeline,
) *DisplayHandler {
	return &DisplayHandler{
		log:      log.With("handler", "DisplayHandler"),
		registry: registry,
		configs:  configs,
		states:   states,
		stats:    stats,
		frames:   frames,
		pipe:     pipe,
	}
}

// Display serves one frame to a pulling device. A stale rotation schedules
// one background regeneration batch; the request itself is answered from
// cache when possible and by a single synchronous render otherwise.
func (h *DisplayHandler) Display(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	mac := strings.TrimSpace(c.Query("mac"))
	voltage := queryFloat(c, "v", 3.3)
	override := strings.ToUpper(strings.TrimSpace(c.Query("mode")))
	rssi := queryInt(c, "rssi", 0)
	width := clamp(queryInt(c, "w", config.ScreenWidth), minScreenW, maxScreenW)
	height := clamp(queryInt(c, "h", config.ScreenHeight), minScreenH, maxScreenH)
	forceNext := c.Query("next") == "1"

	batteryPct := pipeline.CalcBatteryPct(voltage)

	var cfg domain.DeviceConfig
	hasConfig := false
	if mac != "" {
		loaded, err := h.configs.Get(ctx, nil, mac)
		if err != nil {
			h.log.Warn("Config load failed, using defaults", "mac", mac, "error", err)
		} else {
			cfg = loaded
			hasConfig = true
		}
	}

	modeID := h.resolveMode(c, mac, cfg, hasConfig, override, forceNext)

	var frame *render.Bitmap
	cacheHit := false
	if mac != "" && hasConfig {
		if warm := h.frames.CheckAndRegenerateAll(ctx, cfg, width, height); !warm {
			h.log.Debug("Rotation not fully warm, batch scheduled", "mac", mac)
		}
		if cached, err := h.frames.Get(ctx, cfg, modeID, width, height); err == nil {
			frame = cached
			cacheHit = true
			h.log.Info("Cache hit", "mac", mac, "mode", modeID)
		} else if !errors.Is(err, apperr.ErrCacheMiss) {
			h.log.Warn("Cache read failed", "mac", mac, "mode", modeID, "error", err)
		}
	}

	if frame == nil {
		fresh, err := h.pipe.GenerateAndRender(ctx, cfg, modeID, width, height, batteryPct)
		if err != nil {
			h.log.Error("Render failed", "mac", mac, "mode", modeID, "error", err)
			h.logRender(mac, modeID, width, height, false, voltage, rssi, start)
			h.serveErrorFrame(c, mac, width, height)
			return
		}
		frame = fresh
		if mac != "" && hasConfig {
			if err := h.frames.Set(ctx, cfg, modeID, width, height, frame); err != nil {
				h.log.Warn("Cache write failed", "mac", mac, "mode", modeID, "error", err)
			}
		}
	}

	if mac != "" {
		if err := h.states.MarkServed(ctx, nil, mac, modeID); err != nil {
			h.log.Warn("Device state update failed", "mac", mac, "error", err)
		}
		h.logRender(mac, modeID, width, height, cacheHit, voltage, rssi, start)
		if pending, err := h.states.ConsumePendingRefresh(ctx, nil, mac); err == nil && pending {
			c.Header("X-Pending-Refresh", "1")
		}
	}

	c.Header("X-InkSight-Mode", modeID)
	h.serveFrame(c, frame, c.Query("fmt"))
	h.log.Info("Frame served",
		"mac", mac, "mode", modeID, "cached", cacheHit,
		"size", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"elapsed_ms", time.Since(start).Milliseconds())
}

// Widget is the read-only embed endpoint: renders one frame as PNG without
// touching device state, the cache, or the stats log.
func (h *DisplayHandler) Widget(c *gin.Context) {
	ctx := c.Request.Context()
	mac := c.Param("mac")

	width, height := widgetSize(c)

	cfg, err := h.configs.Get(ctx, nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	modeID := strings.ToUpper(strings.TrimSpace(c.Query("mode")))
	if modeID == "" {
		if len(cfg.Modes) > 0 {
			modeID = cfg.Modes[0]
		} else {
			modeID = config.DefaultModes[0]
		}
	}

	frame, err := h.pipe.GenerateAndRender(ctx, cfg, modeID, width, height, 100)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := frame.EncodePNG(&buf); err != nil {
		RespondAppError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Header("X-InkSight-Mode", modeID)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Preview renders a frame as PNG for the browser without logging stats or
// advancing rotation.
func (h *DisplayHandler) Preview(c *gin.Context) {
	ctx := c.Request.Context()

	mac := strings.TrimSpace(c.Query("mac"))
	voltage := queryFloat(c, "v", 3.3)
	width := clamp(queryInt(c, "w", config.ScreenWidth), minScreenW, maxScreenW)
	height := clamp(queryInt(c, "h", config.ScreenHeight), minScreenH, maxScreenH)

	var cfg domain.DeviceConfig
	if mac != "" {
		if loaded, err := h.configs.Get(ctx, nil, mac); err == nil {
			cfg = loaded
		}
	}

	modeID := strings.ToUpper(strings.TrimSpace(c.Query("mode")))
	if modeID == "" {
		modeID = h.chooseMode(c, mac, cfg)
	}

	frame, err := h.pipe.GenerateAndRender(ctx, cfg, modeID, width, height, pipeline.CalcBatteryPct(voltage))
	if err != nil {
		RespondAppError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := frame.EncodePNG(&buf); err != nil {
		RespondAppError(c, err)
		return
	}
	c.Header("X-InkSight-Mode", modeID)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// ── Mode selection ───────────────────────────────────────────

func (h *DisplayHandler) resolveMode(c *gin.Context, mac string, cfg domain.DeviceConfig, hasConfig bool, override string, forceNext bool) string {
	ctx := c.Request.Context()

	if mac != "" && override == "" {
		if pending, err := h.states.ConsumePendingMode(ctx, nil, mac); err == nil && pending != "" {
			if h.registry.IsSupported(pending) {
				return strings.ToUpper(pending)
			}
		}
	}

	if override != "" && h.registry.IsSupported(override) {
		return override
	}

	if !hasConfig {
		return noConfigModes[rand.Intn(len(noConfigModes))]
	}
	if forceNext {
		return h.advanceMode(c, mac, cfg)
	}
	return h.chooseMode(c, mac, cfg)
}

// chooseMode applies the device's refresh strategy to its enabled rotation.
func (h *DisplayHandler) chooseMode(c *gin.Context, mac string, cfg domain.DeviceConfig) string {
	enabled := cfg.Modes
	if len(enabled) == 0 {
		enabled = config.DefaultModes
	}

	switch cfg.RefreshStrategy {
	case "cycle":
		idx, err := h.states.AdvanceCycle(c.Request.Context(), nil, mac)
		if err != nil {
			h.log.Warn("Cycle index unavailable, picking at random", "mac", mac, "error", err)
			return enabled[rand.Intn(len(enabled))]
		}
		return enabled[idx%len(enabled)]
	default:
		return enabled[rand.Intn(len(enabled))]
	}
}

// advanceMode picks the mode after the last served one, for the device's
// double-click gesture.
func (h *DisplayHandler) advanceMode(c *gin.Context, mac string, cfg domain.DeviceConfig) string {
	enabled := cfg.Modes
	if len(enabled) == 0 {
		enabled = config.DefaultModes
	}

	ctx := c.Request.Context()
	idx := 0
	if state, err := h.states.Get(ctx, nil, mac); err == nil {
		for i, m := range enabled {
			if m == state.LastPersona {
				idx = (i + 1) % len(enabled)
				break
			}
		}
	}
	if err := h.states.SetCycleIndex(ctx, nil, mac, idx+1); err != nil {
		h.log.Warn("Cycle index sync failed", "mac", mac, "error", err)
	}
	return enabled[idx]
}

// ── Serving helpers ──────────────────────────────────────────

func (h *DisplayHandler) serveFrame(c *gin.Context, frame *render.Bitmap, format string) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := frame.EncodePNG(&buf); err != nil {
			RespondAppError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/png", buf.Bytes())
	case "raw":
		c.Data(http.StatusOK, "application/octet-stream", frame.Packed())
	default:
		if err := frame.EncodeBMP(&buf); err != nil {
			RespondAppError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/bmp", buf.Bytes())
	}
}

// serveErrorFrame sends a minimal framed message so the panel shows
// something useful instead of a broken transfer.
func (h *DisplayHandler) serveErrorFrame(c *gin.Context, mac string, width, height int) {
	frame := render.NewBitmap(width, height)
	for x := 0; x < width; x++ {
		frame.SetInk(x, 0, true)
		frame.SetInk(x, height-1, true)
	}
	for y := 0; y < height; y++ {
		frame.SetInk(0, y, true)
		frame.SetInk(width-1, y, true)
	}
	var buf bytes.Buffer
	if err := frame.EncodeBMP(&buf); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusInternalServerError, "image/bmp", buf.Bytes())
}

func (h *DisplayHandler) logRender(mac, modeID string, width, height int, cached bool, voltage float64, rssi int, start time.Time) {
	if mac == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	elapsed := time.Since(start).Milliseconds()
	if err := h.stats.LogRender(ctx, nil, mac, modeID, width, height, cached, elapsed); err != nil {
		h.log.Warn("Render log failed", "mac", mac, "error", err)
	}
	if err := h.stats.LogHeartbeat(ctx, nil, mac, voltage, pipeline.CalcBatteryPct(voltage), rssi, ""); err != nil {
		h.log.Warn("Heartbeat log failed", "mac", mac, "error", err)
	}
}

func widgetSize(c *gin.Context) (int, int) {
	switch c.Query("size") {
	case "small":
		return 200, 150
	case "medium":
		return 400, 300
	case "large":
		return 800, 480
	}
	w := clamp(queryInt(c, "w", config.ScreenWidth), minScreenW, maxScreenW)
	h := clamp(queryInt(c, "h", config.ScreenHeight), minScreenH, maxScreenH)
	return w, h
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryFloat(c *gin.Context, key string, def float64) float64 {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
