package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/repos"
)

type DeviceHandler struct {
	log       *logger.Logger
	registry  *modes.Registry
	configs   repos.DeviceConfigRepo
	states    repos.DeviceStateRepo
	history   repos.ContentHistoryRepo
	favorites repos.FavoriteRepo
}

func NewDeviceHandler(
	log *logger.Logger,
	registry *modes.Registry,
	configs repos.DeviceConfigRepo,
	states repos.DeviceStateRepo,
	history repos.ContentHistoryRepo,
	favorites repos.FavoriteRepo,
) *DeviceHandler {
	return &DeviceHandler{
		log:       log.With("handler", "DeviceHandler"),
		registry:  registry,
		configs:   configs,
		states:    states,
		history:   history,
		favorites: favorites,
	}
}

// TriggerRefresh queues a refresh flag the device picks up on next wake.
func (h *DeviceHandler) TriggerRefresh(c *gin.Context) {
	mac := c.Param("mac")
	if err := h.states.SetPendingRefresh(c.Request.Context(), nil, mac); err != nil {
		RespondAppError(c, err)
		return
	}
	h.log.Info("Pending refresh queued", "mac", mac)
	RespondOK(c, gin.H{"ok": true, "message": "Refresh queued for next wake-up"})
}

// State returns the device's runtime state.
func (h *DeviceHandler) State(c *gin.Context) {
	mac := c.Param("mac")
	state, err := h.states.Get(c.Request.Context(), nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, state)
}

// SwitchMode queues a one-shot mode override for the device's next pull.
func (h *DeviceHandler) SwitchMode(c *gin.Context) {
	mac := c.Param("mac")
	var body struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	modeID := strings.ToUpper(strings.TrimSpace(body.Mode))
	if modeID == "" || !h.registry.IsSupported(modeID) {
		RespondError(c, http.StatusBadRequest, "unsupported_mode", fmt.Errorf("unsupported mode: %s", modeID))
		return
	}

	ctx := c.Request.Context()
	if err := h.states.SetPendingMode(ctx, nil, mac, modeID); err != nil {
		RespondAppError(c, err)
		return
	}
	if err := h.states.SetPendingRefresh(ctx, nil, mac); err != nil {
		RespondAppError(c, err)
		return
	}
	h.log.Info("Pending mode switch queued", "mac", mac, "mode", modeID)
	RespondOK(c, gin.H{"ok": true, "message": "Mode switch to " + modeID + " queued"})
}

// Favorite stores the most recently rendered content for the device.
func (h *DeviceHandler) Favorite(c *gin.Context) {
	mac := c.Param("mac")
	ctx := c.Request.Context()

	state, err := h.states.Get(ctx, nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	modeID := state.LastPersona
	if modeID == "" {
		modeID = "UNKNOWN"
	}

	var content domain.Record
	if rows, err := h.history.Recent(ctx, nil, mac, "", 1); err == nil && len(rows) > 0 {
		modeID = rows[0].ModeID
		if err := json.Unmarshal(rows[0].Content, &content); err != nil {
			content = nil
		}
	}

	if _, err := h.favorites.Add(ctx, nil, mac, modeID, content); err != nil {
		RespondAppError(c, err)
		return
	}
	h.log.Info("Content favorited", "mac", mac, "mode", modeID)
	RespondOK(c, gin.H{"ok": true, "message": "Content favorited"})
}

// Favorites lists the device's saved content.
func (h *DeviceHandler) Favorites(c *gin.Context) {
	mac := c.Param("mac")
	rows, err := h.favorites.List(c.Request.Context(), nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	limit := clamp(queryInt(c, "limit", 30), 1, 100)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	RespondOK(c, gin.H{"mac": mac, "favorites": rows})
}

// History lists recent content snapshots, optionally filtered by mode.
func (h *DeviceHandler) History(c *gin.Context) {
	mac := c.Param("mac")
	limit := clamp(queryInt(c, "limit", 30), 1, 100)
	modeID := strings.ToUpper(strings.TrimSpace(c.Query("mode")))

	rows, err := h.history.Recent(c.Request.Context(), nil, mac, modeID, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"mac": mac, "history": rows})
}

// HabitCheck marks one habit done. Habits live in the device config's
// custom fields, so the check is a config update.
func (h *DeviceHandler) HabitCheck(c *gin.Context) {
	mac := c.Param("mac")
	var body struct {
		Habit string `json:"habit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	name := strings.TrimSpace(body.Habit)
	if name == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("habit name is required"))
		return
	}

	ctx := c.Request.Context()
	cfg, err := h.configs.Get(ctx, nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	if !markHabit(cfg.CustomFields, name) {
		RespondError(c, http.StatusNotFound, "habit_not_found", fmt.Errorf("habit %q not configured", name))
		return
	}
	if err := h.configs.Upsert(ctx, nil, cfg); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true, "message": "Habit '" + name + "' checked"})
}

// HabitStatus returns the configured habits with their check marks.
func (h *DeviceHandler) HabitStatus(c *gin.Context) {
	mac := c.Param("mac")
	cfg, err := h.configs.Get(c.Request.Context(), nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	habits, _ := cfg.CustomFields["habits"].([]any)
	RespondOK(c, gin.H{"mac": mac, "habits": habits})
}

func markHabit(custom map[string]any, name string) bool {
	habits, _ := custom["habits"].([]any)
	for _, raw := range habits {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if n, _ := m["name"].(string); n == name {
			m["status"] = "✓"
			return true
		}
	}
	return false
}
