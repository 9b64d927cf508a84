package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/repos"
)

type ConfigHandler struct {
	log     *logger.Logger
	configs repos.DeviceConfigRepo
}

func NewConfigHandler(log *logger.Logger, configs repos.DeviceConfigRepo) *ConfigHandler {
	return &ConfigHandler{
		log:     log.With("handler", "ConfigHandler"),
		configs: configs,
	}
}

// Save upserts a device's configuration. Mode ids are normalized to
// uppercase before storage.
func (h *ConfigHandler) Save(c *gin.Context) {
	var cfg domain.DeviceConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	cfg.MAC = strings.TrimSpace(cfg.MAC)
	if cfg.MAC == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("mac is required"))
		return
	}
	for i, m := range cfg.Modes {
		cfg.Modes[i] = strings.ToUpper(strings.TrimSpace(m))
	}

	if err := h.configs.Upsert(c.Request.Context(), nil, cfg); err != nil {
		RespondAppError(c, err)
		return
	}
	h.log.Info("Config saved", "mac", cfg.MAC, "modes", cfg.Modes)
	RespondOK(c, gin.H{"ok": true, "mac": cfg.MAC})
}

// Get returns the stored config for a device, falling back to defaults
// when the device was never configured.
func (h *ConfigHandler) Get(c *gin.Context) {
	mac := c.Param("mac")
	cfg, err := h.configs.Get(c.Request.Context(), nil, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, cfg)
}

// List returns every stored device configuration.
func (h *ConfigHandler) List(c *gin.Context) {
	configs, err := h.configs.List(c.Request.Context(), nil)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"configs": configs})
}
