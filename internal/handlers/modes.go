package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/pipeline"
)

type ModesHandler struct {
	log       *logger.Logger
	registry  *modes.Registry
	pipe      *pipeline.Pipeline
	customDir string
}

func NewModesHandler(log *logger.Logger, registry *modes.Registry, pipe *pipeline.Pipeline, customDir string) *ModesHandler {
	return &ModesHandler{
		log:       log.With("handler", "ModesHandler"),
		registry:  registry,
		pipe:      pipe,
		customDir: customDir,
	}
}

// List returns metadata for every registered mode.
func (h *ModesHandler) List(c *gin.Context) {
	RespondOK(c, gin.H{"modes": h.registry.List()})
}

// Preview renders a definition from the request body without registering
// it, so the editor can show the frame before saving.
func (h *ModesHandler) Preview(c *gin.Context) {
	raw, err := previewDefinitionBytes(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_definition", err)
		return
	}

	def, err := modes.ParseDefinition(raw)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_definition", err)
		return
	}

	frame, err := h.pipe.RenderDefinition(c.Request.Context(), domain.DeviceConfig{}, def, 0, 0, 100)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := frame.EncodePNG(&buf); err != nil {
		RespondAppError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Create saves an uploaded definition to the custom mode directory and
// registers it. Builtin and native ids cannot be overridden.
func (h *ModesHandler) Create(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_definition", err)
		return
	}

	def, err := modes.ParseDefinition(raw)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_definition", err)
		return
	}

	if info, ok := h.registry.Info(def.ID); ok && info.Source != modes.SourceCustom {
		RespondError(c, http.StatusConflict, "mode_conflict",
			fmt.Errorf("cannot override %s mode %s", info.Source, def.ID))
		return
	}

	path := filepath.Join(h.customDir, strings.ToLower(def.ID)+".json")
	if err := os.MkdirAll(h.customDir, 0o755); err != nil {
		RespondAppError(c, err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		RespondAppError(c, err)
		return
	}

	h.registry.RemoveCustom(def.ID)
	if _, err := h.registry.LoadDefinition(raw, modes.SourceCustom); err != nil {
		os.Remove(path)
		RespondError(c, http.StatusBadRequest, "bad_definition", err)
		return
	}

	h.log.Info("Created custom mode", "mode", def.ID)
	RespondOK(c, gin.H{"ok": true, "mode_id": def.ID})
}

// GetCustom returns a custom mode's stored definition.
func (h *ModesHandler) GetCustom(c *gin.Context) {
	id := strings.ToUpper(c.Param("mode_id"))
	def, ok := h.registry.Definition(id)
	if !ok || def.Source != modes.SourceCustom {
		RespondError(c, http.StatusNotFound, "mode_not_found", fmt.Errorf("custom mode %s not found", id))
		return
	}
	RespondOK(c, def)
}

// DeleteCustom unregisters a custom mode and removes its file.
func (h *ModesHandler) DeleteCustom(c *gin.Context) {
	id := strings.ToUpper(c.Param("mode_id"))
	def, ok := h.registry.Definition(id)
	if !ok || def.Source != modes.SourceCustom {
		RespondError(c, http.StatusNotFound, "mode_not_found", fmt.Errorf("custom mode %s not found", id))
		return
	}

	h.registry.RemoveCustom(id)
	if err := os.Remove(filepath.Join(h.customDir, strings.ToLower(id)+".json")); err != nil && !os.IsNotExist(err) {
		h.log.Warn("Custom mode file removal failed", "mode", id, "error", err)
	}

	h.log.Info("Deleted custom mode", "mode", id)
	RespondOK(c, gin.H{"ok": true, "mode_id": id})
}

// previewDefinitionBytes accepts either a bare definition or an envelope
// with a mode_def key, defaulting the id so drafts need not name one.
func previewDefinitionBytes(c *gin.Context) ([]byte, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	if inner, ok := node["mode_def"].(map[string]any); ok {
		node = inner
	}
	if id, _ := node["mode_id"].(string); id == "" {
		node["mode_id"] = "PREVIEW"
	}
	return json.Marshal(node)
}
