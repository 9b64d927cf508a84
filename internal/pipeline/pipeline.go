// Package pipeline runs one persona end to end: assemble the runtime
// context, generate the content record, render the frame.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/inksight/inksight-backend/internal/almanac"
	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/clients/weather"
	"github.com/inksight/inksight-backend/internal/content"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/render"
	"github.com/inksight/inksight-backend/internal/repos"
)

type Pipeline struct {
	log       *logger.Logger
	registry  *modes.Registry
	generator *content.Generator
	renderer  *render.Renderer
	almanac   almanac.Service
	weather   weather.Client
	history   repos.ContentHistoryRepo
}

// NewPipeline wires the full generation path. The history repo is optional;
// without it deduplication and the history API are disabled.
func NewPipeline(
	log *logger.Logger,
	registry *modes.Registry,
	generator *content.Generator,
	renderer *render.Renderer,
	almanacSvc almanac.Service,
	weatherClient weather.Client,
	history repos.ContentHistoryRepo,
) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if almanacSvc == nil {
		return nil, fmt.Errorf("almanac is required")
	}
	if weatherClient == nil {
		return nil, fmt.Errorf("weather client is required")
	}
	return &Pipeline{
		log:       log.With("service", "Pipeline"),
		registry:  registry,
		generator: generator,
		renderer:  renderer,
		almanac:   almanacSvc,
		weather:   weatherClient,
		history:   history,
	}, nil
}

// RuntimeContext assembles the shared per-request context for one device.
func (p *Pipeline) RuntimeContext(ctx context.Context, cfg domain.DeviceConfig) domain.RuntimeContext {
	return domain.RuntimeContext{
		MAC:     cfg.MAC,
		Config:  cfg,
		Day:     p.almanac.DayContext(ctx),
		Weather: p.weather.Current(ctx, cfg.City),
	}
}

// GenerateAndRender produces a fresh frame for one persona. The only error
// it surfaces is an unknown mode; every generation failure degrades to
// fallback content inside the generator.
func (p *Pipeline) GenerateAndRender(ctx context.Context, cfg domain.DeviceConfig, modeID string, width, height, batteryPct int) (*render.Bitmap, error) {
	modeID = strings.ToUpper(modeID)
	if !p.registry.IsSupported(modeID) {
		return nil, fmt.Errorf("mode %s: %w", modeID, apperr.ErrModeNotFound)
	}

	rc := p.RuntimeContext(ctx, cfg)
	sp := domain.StatusParams{
		DateStr:     rc.Day.DateStr,
		TimeStr:     rc.Day.TimeStr[:5],
		WeatherStr:  rc.Weather.Str,
		WeatherCode: rc.Weather.Code,
		BatteryPct:  batteryPct,
	}

	if nm, ok := p.registry.Native(modeID); ok {
		return p.renderNative(ctx, nm, rc, sp, width, height)
	}

	def, ok := p.registry.Definition(modeID)
	if !ok {
		return nil, fmt.Errorf("mode %s: %w", modeID, apperr.ErrModeNotFound)
	}

	rec := p.generator.Generate(ctx, def, rc)
	p.saveHistory(ctx, rc.MAC, modeID, rec)

	frame, err := p.renderer.Render(def, rec, sp, width, height)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", modeID, err)
	}
	return frame, nil
}

// RenderDefinition runs an unregistered declarative definition end to end,
// for previewing custom modes before they are saved. History is not touched.
func (p *Pipeline) RenderDefinition(ctx context.Context, cfg domain.DeviceConfig, def *modes.Definition, width, height, batteryPct int) (*render.Bitmap, error) {
	rc := p.RuntimeContext(ctx, cfg)
	rc.MAC = ""
	sp := domain.StatusParams{
		DateStr:     rc.Day.DateStr,
		TimeStr:     rc.Day.TimeStr[:5],
		WeatherStr:  rc.Weather.Str,
		WeatherCode: rc.Weather.Code,
		BatteryPct:  batteryPct,
	}
	rec := p.generator.Generate(ctx, def, rc)
	frame, err := p.renderer.Render(def, rec, sp, width, height)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", def.ID, err)
	}
	return frame, nil
}

func (p *Pipeline) renderNative(ctx context.Context, nm *modes.NativeMode, rc domain.RuntimeContext, sp domain.StatusParams, width, height int) (*render.Bitmap, error) {
	rec := domain.Record{}
	if nm.Content != nil {
		out, err := nm.Content(ctx, rc)
		if err != nil {
			p.log.Error("Native content failed", "mode", nm.Info.ID, "error", err)
		} else {
			rec = out
		}
	}
	if nm.Render == nil {
		return nil, fmt.Errorf("mode %s has no renderer: %w", nm.Info.ID, apperr.ErrModeNotFound)
	}
	img, err := nm.Render(rec, sp, width, height)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", nm.Info.ID, err)
	}
	if bmp, ok := img.(*render.Bitmap); ok {
		return bmp, nil
	}
	return render.Binarize(img), nil
}

func (p *Pipeline) saveHistory(ctx context.Context, mac, modeID string, rec domain.Record) {
	if p.history == nil || mac == "" {
		return
	}
	hash := content.Hash(rec)
	summary := content.Summarize(rec)
	if err := p.history.Save(ctx, nil, mac, modeID, hash, summary, rec); err != nil {
		p.log.Warn("History save failed", "mac", mac, "mode", modeID, "error", err)
	}
}

// CalcBatteryPct maps the reported cell voltage onto a linear 0-100 scale
// with 3.30V as full.
func CalcBatteryPct(voltage float64) int {
	pct := int(voltage / 3.30 * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
