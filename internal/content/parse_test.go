package content

import (
	"testing"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/modes"
)

func TestParseLLMOutput_RawDefaultsToTextField(t *testing.T) {
	spec := &modes.ContentSpec{Type: modes.ContentLLM}
	rec := parseLLMOutput("今日宜静坐", spec, nil)
	if rec["text"] != "今日宜静坐" {
		t.Fatalf("rec = %v", rec)
	}

	spec = &modes.ContentSpec{Type: modes.ContentLLM, OutputFields: []string{"quote"}}
	rec = parseLLMOutput("some quote", spec, nil)
	if rec["quote"] != "some quote" {
		t.Fatalf("rec = %v", rec)
	}
}

func TestParseTextSplit(t *testing.T) {
	spec := &modes.ContentSpec{
		Type:         modes.ContentLLM,
		OutputFormat: "text_split",
		OutputFields: []string{"quote", "author", "note"},
	}
	fallback := domain.Record{"note": "fallback note"}

	rec := parseTextSplit(` “静水流深” | 老子 `, spec, fallback)
	if rec["quote"] != "静水流深" {
		t.Fatalf("quote = %q, want quotes trimmed", rec["quote"])
	}
	if rec["author"] != "老子" {
		t.Fatalf("author = %q", rec["author"])
	}
	// The third part is absent: fallback fills it in.
	if rec["note"] != "fallback note" {
		t.Fatalf("note = %q, want fallback", rec["note"])
	}
}

func TestParseTextSplit_CustomSeparatorAndMissingFallback(t *testing.T) {
	spec := &modes.ContentSpec{
		Type:            modes.ContentLLM,
		OutputFormat:    "text_split",
		OutputFields:    []string{"a", "b"},
		OutputSeparator: "##",
	}
	rec := parseTextSplit("first ## second", spec, nil)
	if rec["a"] != "first" || rec["b"] != "second" {
		t.Fatalf("rec = %v", rec)
	}

	rec = parseTextSplit("only one part", spec, nil)
	if rec["a"] != "only one part" {
		t.Fatalf("a = %q", rec["a"])
	}
	if rec["b"] != "" {
		t.Fatalf("b = %q, want empty when no fallback covers it", rec["b"])
	}
}

func TestParseJSONFields(t *testing.T) {
	spec := &modes.ContentSpec{
		Type:         modes.ContentLLM,
		OutputFormat: "json",
		OutputFields: []string{"title", "body", "extra"},
	}
	fallback := domain.Record{"extra": "fb"}

	rec := parseJSONFields("```json\n{\"title\": \"t\", \"body\": \"b\", \"noise\": 1}\n```", spec, fallback)
	if rec["title"] != "t" || rec["body"] != "b" {
		t.Fatalf("rec = %v", rec)
	}
	if rec["extra"] != "fb" {
		t.Fatalf("extra = %q, want fallback", rec["extra"])
	}
	if _, ok := rec["noise"]; ok {
		t.Fatalf("undeclared field leaked through: %v", rec)
	}
}

func TestParseJSONFields_InvalidJSONFallsBack(t *testing.T) {
	spec := &modes.ContentSpec{
		Type:         modes.ContentLLM,
		OutputFormat: "json",
		OutputFields: []string{"title"},
	}
	fallback := domain.Record{"title": "safe"}
	rec := parseJSONFields("not json at all", spec, fallback)
	if rec["title"] != "safe" {
		t.Fatalf("rec = %v, want fallback clone", rec)
	}
	// The fallback itself must not be aliased.
	rec["title"] = "mutated"
	if fallback["title"] != "safe" {
		t.Fatalf("fallback mutated through returned record")
	}
}

func TestParseJSONFields_NoDeclaredFieldsReturnsWholeObject(t *testing.T) {
	spec := &modes.ContentSpec{Type: modes.ContentLLM, OutputFormat: "json"}
	rec := parseJSONFields(`{"x": 1, "y": "z"}`, spec, nil)
	if rec["y"] != "z" {
		t.Fatalf("rec = %v", rec)
	}
}

func TestParseSchemaOutput(t *testing.T) {
	spec := &modes.ContentSpec{
		Type: modes.ContentLLMJSON,
		OutputSchema: map[string]modes.SchemaField{
			"name":     {Type: "string"},
			"duration": {Type: "string", Default: "20分钟"},
			"tip":      {Type: "string"},
		},
	}
	rec := parseSchemaOutput(`{"name": "晨跑"}`, spec, nil)
	if rec["name"] != "晨跑" {
		t.Fatalf("name = %v", rec["name"])
	}
	if rec["duration"] != "20分钟" {
		t.Fatalf("duration = %v, want schema default", rec["duration"])
	}
	if rec["tip"] != "" {
		t.Fatalf("tip = %v, want empty without default", rec["tip"])
	}
}

func TestParseSchemaOutput_InvalidJSONFallsBack(t *testing.T) {
	spec := &modes.ContentSpec{
		Type:         modes.ContentLLMJSON,
		OutputSchema: map[string]modes.SchemaField{"name": {Type: "string"}},
	}
	fallback := domain.Record{"name": "默认计划"}
	rec := parseSchemaOutput("oops", spec, fallback)
	if rec["name"] != "默认计划" {
		t.Fatalf("rec = %v", rec)
	}
}

func TestCleanJSONResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose wrapped", `好的，结果如下：{"a": 1} 希望有帮助`, `{"a": 1}`},
		{"no object", "plain text", "plain text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cleanJSONResponse(tc.in); got != tc.want {
				t.Fatalf("cleanJSONResponse(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
