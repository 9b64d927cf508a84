package modes

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/logger"
)

const minimalDef = `{
	"mode_id": "test",
	"layout": {"body": [{"type": "text", "field": "line"}]}
}`

func testReg(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(logger.NewNop())
}

func TestParseDefinition_AppliesDefaults(t *testing.T) {
	def, err := ParseDefinition([]byte(minimalDef))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "TEST" {
		t.Fatalf("id = %q, want TEST", def.ID)
	}
	if def.DisplayName != "TEST" {
		t.Fatalf("display name = %q, want TEST", def.DisplayName)
	}
	if def.Icon != "star" {
		t.Fatalf("icon = %q, want star", def.Icon)
	}
	if def.Content.Type != ContentStatic {
		t.Fatalf("content type = %q, want static", def.Content.Type)
	}
}

func TestParseDefinition_AcceptsYAML(t *testing.T) {
	raw := []byte(`
mode_id: yamlmode
content:
  type: static
  static_data:
    line: hello
layout:
  body:
    - type: text
      field: line
`)
	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if def.ID != "YAMLMODE" {
		t.Fatalf("id = %q, want YAMLMODE", def.ID)
	}
	if def.Content.StaticData["line"] != "hello" {
		t.Fatalf("static data = %v", def.Content.StaticData)
	}
}

func TestParseDefinition_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing mode_id", `{"layout": {"body": [{"type": "text"}]}}`},
		{"empty body", `{"mode_id": "x", "layout": {"body": []}}`},
		{"unknown content type", `{
			"mode_id": "x",
			"content": {"type": "telepathy"},
			"layout": {"body": [{"type": "text"}]}
		}`},
		{"unknown block type", `{
			"mode_id": "x",
			"layout": {"body": [{"type": "hologram"}]}
		}`},
		{"unknown nested block type", `{
			"mode_id": "x",
			"layout": {"body": [{"type": "section", "children": [{"type": "hologram"}]}]}
		}`},
		{"unknown conditional branch block", `{
			"mode_id": "x",
			"layout": {"body": [{
				"type": "conditional", "field": "f",
				"conditions": [{"op": "exists", "children": [{"type": "hologram"}]}]
			}]}
		}`},
		{"llm missing prompt", `{
			"mode_id": "x",
			"content": {"type": "llm", "fallback": {"text": "a"}},
			"layout": {"body": [{"type": "text", "field": "text"}]}
		}`},
		{"llm missing fallback", `{
			"mode_id": "x",
			"content": {"type": "llm", "prompt_template": "p"},
			"layout": {"body": [{"type": "text", "field": "text"}]}
		}`},
		{"llm fallback missing output field", `{
			"mode_id": "x",
			"content": {
				"type": "llm", "prompt_template": "p",
				"output_format": "text_split", "output_fields": ["a", "b"],
				"fallback": {"a": "only a"}
			},
			"layout": {"body": [{"type": "text", "field": "a"}]}
		}`},
		{"llm_json fallback missing schema field", `{
			"mode_id": "x",
			"content": {
				"type": "llm_json", "prompt_template": "p",
				"output_schema": {"title": {"type": "string"}},
				"fallback": {"other": "v"}
			},
			"layout": {"body": [{"type": "text", "field": "title"}]}
		}`},
		{"composite without steps", `{
			"mode_id": "x",
			"content": {"type": "composite"},
			"layout": {"body": [{"type": "text", "field": "text"}]}
		}`},
		{"override with unknown block", `{
			"mode_id": "x",
			"layout": {"body": [{"type": "text", "field": "text"}]},
			"layout_overrides": {"200x150": {"body": [{"type": "hologram"}]}}
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(tc.raw)); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseDefinition_SchemaDefaultsCoverFallback(t *testing.T) {
	// A fallback that names every schema field passes even when the schema
	// declares defaults of its own.
	raw := `{
		"mode_id": "x",
		"content": {
			"type": "llm_json", "prompt_template": "p",
			"output_schema": {
				"title": {"type": "string", "default": "t"},
				"tip": {"type": "string"}
			},
			"fallback": {"title": "a", "tip": "b"}
		},
		"layout": {"body": [{"type": "text", "field": "title"}]}
	}`
	if _, err := ParseDefinition([]byte(raw)); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestLoadDefinition_CacheableDefaultsTrue(t *testing.T) {
	reg := testReg(t)
	if _, err := reg.LoadDefinition([]byte(minimalDef), SourceBuiltin); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reg.CacheableIDs()["TEST"] {
		t.Fatalf("expected TEST cacheable by default")
	}

	explicit := `{
		"mode_id": "nocache", "cacheable": false,
		"layout": {"body": [{"type": "text", "field": "line"}]}
	}`
	if _, err := reg.LoadDefinition([]byte(explicit), SourceBuiltin); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.CacheableIDs()["NOCACHE"] {
		t.Fatalf("expected explicit cacheable=false to stick")
	}
}

func TestLoadDefinition_NativeModeCannotBeShadowed(t *testing.T) {
	reg := testReg(t)
	if err := reg.RegisterNative("test", nil, nil, Info{}); err != nil {
		t.Fatalf("register native: %v", err)
	}
	if _, err := reg.LoadDefinition([]byte(minimalDef), SourceCustom); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected shadow rejection, got %v", err)
	}
	if !reg.IsNative("TEST") {
		t.Fatalf("native registration lost")
	}
}

func TestLoadDefinition_CustomReplacesDeclarative(t *testing.T) {
	reg := testReg(t)
	if _, err := reg.LoadDefinition([]byte(minimalDef), SourceBuiltin); err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	if _, err := reg.LoadDefinition([]byte(minimalDef), SourceCustom); err != nil {
		t.Fatalf("load custom: %v", err)
	}
	info, ok := reg.Info("TEST")
	if !ok || info.Source != SourceCustom {
		t.Fatalf("info = %+v, want custom source", info)
	}
}

func TestRemoveCustom_OnlyRemovesCustomModes(t *testing.T) {
	reg := testReg(t)
	if _, err := reg.LoadDefinition([]byte(minimalDef), SourceBuiltin); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.RemoveCustom("TEST") {
		t.Fatalf("builtin mode must not be removable")
	}

	custom := `{"mode_id": "mine", "layout": {"body": [{"type": "text", "field": "t"}]}}`
	if _, err := reg.LoadDefinition([]byte(custom), SourceCustom); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reg.RemoveCustom("mine") {
		t.Fatalf("expected custom mode removed")
	}
	if reg.IsSupported("MINE") {
		t.Fatalf("removed mode still supported")
	}
}

func TestLoadDirectory_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	good := `{"mode_id": "good", "layout": {"body": [{"type": "text", "field": "t"}]}}`
	if err := os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"layout": {}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := testReg(t)
	loaded := reg.LoadDirectory(dir, SourceCustom)
	if len(loaded) != 1 || loaded[0] != "GOOD" {
		t.Fatalf("loaded = %v, want [GOOD]", loaded)
	}
}

func TestLoadBuiltins_RegistersShippedModes(t *testing.T) {
	reg := testReg(t)
	loaded, err := reg.LoadBuiltins()
	if err != nil {
		t.Fatalf("load builtins: %v", err)
	}
	want := []string{
		"ARTWALL", "BRIEFING", "COUNTDOWN", "DAILY", "FITNESS", "HABIT",
		"LIFEBAR", "MEMO", "POETRY", "RECIPE", "ROAST", "STOIC", "WEATHER", "ZEN",
	}
	got := append([]string(nil), loaded...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("loaded %d modes %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("loaded = %v, want %v", got, want)
		}
	}
	for _, id := range want {
		info, ok := reg.Info(id)
		if !ok {
			t.Fatalf("missing builtin %s", id)
		}
		if info.Source != SourceBuiltin {
			t.Fatalf("%s source = %q, want builtin", id, info.Source)
		}
	}
}

func TestList_SortedByID(t *testing.T) {
	reg := testReg(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		raw := `{"mode_id": "` + id + `", "layout": {"body": [{"type": "text", "field": "t"}]}}`
		if _, err := reg.LoadDefinition([]byte(raw), SourceBuiltin); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	infos := reg.List()
	if len(infos) != 3 {
		t.Fatalf("len = %d, want 3", len(infos))
	}
	if infos[0].ID != "ALPHA" || infos[1].ID != "MID" || infos[2].ID != "ZETA" {
		t.Fatalf("order = %s %s %s", infos[0].ID, infos[1].ID, infos[2].ID)
	}
}

func TestResolveLayout_AppliesMatchingOverride(t *testing.T) {
	raw := `{
		"mode_id": "x",
		"layout": {
			"body": [{"type": "text", "field": "a"}],
			"footer": {"label": "BASE"}
		},
		"layout_overrides": {
			"200x150": {
				"body": [{"type": "text", "field": "b"}],
				"footer": {"label": "SMALL"}
			}
		}
	}`
	def, err := ParseDefinition([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	base := def.ResolveLayout("400x300")
	if base.Footer.Label != "BASE" || base.Body[0].Field != "a" {
		t.Fatalf("base layout altered: %+v", base)
	}
	small := def.ResolveLayout("200x150")
	if small.Footer.Label != "SMALL" || small.Body[0].Field != "b" {
		t.Fatalf("override not applied: %+v", small)
	}
}
