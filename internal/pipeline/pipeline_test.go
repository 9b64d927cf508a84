package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/inksight/inksight-backend/internal/almanac"
	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/assets"
	"github.com/inksight/inksight-backend/internal/clients/llm"
	"github.com/inksight/inksight-backend/internal/clients/news"
	"github.com/inksight/inksight-backend/internal/clients/weather"
	"github.com/inksight/inksight-backend/internal/content"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/render"
)

type fakeAlmanac struct{}

func (fakeAlmanac) DayContext(ctx context.Context) domain.DayContext {
	return domain.DayContext{
		DateStr: "8月1日 周六", TimeStr: "12:30:00",
		Year: 2026, Day: 1, MonthCN: "八月", WeekdayCN: "周六",
		DayOfYear: 213, DaysInYear: 365,
	}
}

type fakeWeather struct{}

func (fakeWeather) Current(ctx context.Context, city string) domain.Weather {
	return domain.Weather{Temp: 25, Code: 0, Str: "25°C"}
}

func (fakeWeather) Forecast(ctx context.Context, city string, days int) (domain.Record, error) {
	return nil, errors.New("forecast unavailable")
}

type fakeNews struct{}

func (fakeNews) HackerNewsTop(ctx context.Context, limit int) ([]news.Story, error) {
	return nil, errors.New("offline")
}

func (fakeNews) ProductHuntTop(ctx context.Context) (news.Product, error) {
	return news.Product{}, errors.New("offline")
}

func (fakeNews) V2EXHot(ctx context.Context, limit int) ([]news.Topic, error) {
	return nil, errors.New("offline")
}

var (
	_ almanac.Service = fakeAlmanac{}
	_ weather.Client  = fakeWeather{}
	_ news.Client     = fakeNews{}
)

func testPipeline(t *testing.T, reg *modes.Registry) *Pipeline {
	t.Helper()
	log := logger.NewNop()
	gen, err := content.NewGenerator(log, llm.NewFactory(log), fakeWeather{}, fakeNews{}, nil, nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	renderer, err := render.NewRenderer(log, assets.NewLibrary(log, t.TempDir()))
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	p, err := NewPipeline(log, reg, gen, renderer, fakeAlmanac{}, fakeWeather{}, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestCalcBatteryPct(t *testing.T) {
	cases := []struct {
		voltage float64
		want    int
	}{
		{3.30, 100},
		{3.0, 90},
		{1.65, 50},
		{0, 0},
		{-0.5, 0},
		{4.2, 100},
	}
	for _, tc := range cases {
		if got := CalcBatteryPct(tc.voltage); got != tc.want {
			t.Fatalf("CalcBatteryPct(%v) = %d, want %d", tc.voltage, got, tc.want)
		}
	}
}

func TestGenerateAndRender_UnknownMode(t *testing.T) {
	p := testPipeline(t, modes.NewRegistry(logger.NewNop()))
	_, err := p.GenerateAndRender(context.Background(), domain.DeviceConfig{}, "NOPE", 400, 300, 100)
	if !errors.Is(err, apperr.ErrModeNotFound) {
		t.Fatalf("expected mode-not-found, got %v", err)
	}
}

func TestGenerateAndRender_StaticModeEndToEnd(t *testing.T) {
	reg := modes.NewRegistry(logger.NewNop())
	raw := `{
		"mode_id": "motto",
		"content": {
			"type": "static",
			"static_data": {"text": "日拱一卒，功不唐捐"}
		},
		"layout": {
			"body": [{"type": "centered_text", "field": "text"}],
			"footer": {"label": "MOTTO"}
		}
	}`
	if _, err := reg.LoadDefinition([]byte(raw), modes.SourceBuiltin); err != nil {
		t.Fatalf("load definition: %v", err)
	}
	p := testPipeline(t, reg)

	// Lowercase ids resolve too.
	frame, err := p.GenerateAndRender(context.Background(), domain.DeviceConfig{MAC: "m"}, "motto", 400, 300, 80)
	if err != nil {
		t.Fatalf("generate and render: %v", err)
	}
	if frame.W != 400 || frame.H != 300 {
		t.Fatalf("frame %dx%d, want 400x300", frame.W, frame.H)
	}

	inked := false
	for y := 0; y < frame.H && !inked; y++ {
		for x := 0; x < frame.W; x++ {
			if frame.IsInk(x, y) {
				inked = true
				break
			}
		}
	}
	if !inked {
		t.Fatalf("rendered frame is blank")
	}
}

func TestRenderDefinition_UnregisteredPreview(t *testing.T) {
	p := testPipeline(t, modes.NewRegistry(logger.NewNop()))
	def, err := modes.ParseDefinition([]byte(`{
		"mode_id": "preview",
		"content": {"type": "static", "static_data": {"text": "draft"}},
		"layout": {"body": [{"type": "centered_text", "field": "text"}]}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	frame, err := p.RenderDefinition(context.Background(), domain.DeviceConfig{}, def, 200, 150, 100)
	if err != nil {
		t.Fatalf("render definition: %v", err)
	}
	if frame.W != 200 || frame.H != 150 {
		t.Fatalf("frame %dx%d, want 200x150", frame.W, frame.H)
	}
}
