package content

import (
	"testing"
	"time"

	"github.com/inksight/inksight-backend/internal/domain"
)

func fixedGenerator(t *testing.T, day string) *Generator {
	t.Helper()
	now, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	return &Generator{now: func() time.Time { return now }}
}

func TestCountdownContent_SortsAndSkipsPastCountdowns(t *testing.T) {
	g := fixedGenerator(t, "2026-08-01")
	rc := domain.RuntimeContext{Config: domain.DeviceConfig{CustomFields: map[string]any{
		"countdownEvents": []any{
			map[string]any{"name": "过期", "date": "2026-07-01"},
			map[string]any{"name": "发布", "date": "2026-08-11"},
			map[string]any{"name": "纪念日", "date": "2026-07-22", "type": "countup"},
			map[string]any{"name": "演出", "date": "2026-08-06", "type": "countdown"},
			map[string]any{"name": "没有日期"},
			"not a map",
		},
	}}}

	rec := g.countdownContent(rc)
	events, ok := rec["events"].([]map[string]any)
	if !ok {
		t.Fatalf("events = %T", rec["events"])
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	// Countdowns nearest-first, then countups.
	if events[0]["name"] != "演出" || events[0]["days"] != 5 {
		t.Fatalf("events[0] = %v", events[0])
	}
	if events[1]["name"] != "发布" || events[1]["days"] != 10 {
		t.Fatalf("events[1] = %v", events[1])
	}
	if events[2]["name"] != "纪念日" || events[2]["days"] != 10 {
		t.Fatalf("events[2] = %v", events[2])
	}
}

func TestCountdownContent_DefaultsToNewYear(t *testing.T) {
	g := fixedGenerator(t, "2026-08-01")
	rec := g.countdownContent(domain.RuntimeContext{})
	events, _ := rec["events"].([]map[string]any)
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
	if events[0]["name"] != "元旦" || events[0]["date"] != "2027-01-01" {
		t.Fatalf("events[0] = %v", events[0])
	}
	if events[0]["days"] != 153 {
		t.Fatalf("days = %v, want 153", events[0]["days"])
	}
}

func TestLifebarContent(t *testing.T) {
	g := fixedGenerator(t, "2026-08-01") // Saturday
	rc := domain.RuntimeContext{
		Day: domain.DayContext{DayOfYear: 100, DaysInYear: 365},
		Config: domain.DeviceConfig{CustomFields: map[string]any{
			"birth_year":  float64(2000),
			"life_expect": float64(100),
		}},
	}
	rec := g.lifebarContent(rc)

	if rec["year_pct"] != 27.4 {
		t.Fatalf("year_pct = %v", rec["year_pct"])
	}
	if rec["month_pct"] != 3.2 {
		t.Fatalf("month_pct = %v", rec["month_pct"])
	}
	if rec["weekday_num"] != 6 || rec["week_pct"] != 85.7 {
		t.Fatalf("week = %v / %v", rec["weekday_num"], rec["week_pct"])
	}
	if rec["age"] != 26 || rec["life_pct"] != 26.0 {
		t.Fatalf("life = %v / %v", rec["age"], rec["life_pct"])
	}
	if rec["year_label"] != "2026 年已过" {
		t.Fatalf("year_label = %v", rec["year_label"])
	}
	if rec["days_in_month"] != 31 {
		t.Fatalf("days_in_month = %v", rec["days_in_month"])
	}
}

func TestLifebarContent_CapsLifePercent(t *testing.T) {
	g := fixedGenerator(t, "2026-08-01")
	rc := domain.RuntimeContext{Config: domain.DeviceConfig{CustomFields: map[string]any{
		"birth_year":  float64(1900),
		"life_expect": float64(80),
	}}}
	rec := g.lifebarContent(rc)
	if rec["life_pct"] != 100.0 {
		t.Fatalf("life_pct = %v, want capped at 100", rec["life_pct"])
	}
}

func TestMemoContent_Precedence(t *testing.T) {
	cfg := domain.DeviceConfig{CustomFields: map[string]any{"memo_text": "买牛奶"}}
	rec := memoContent(domain.Record{"memo_text": "fb"}, cfg)
	if rec["memo_text"] != "买牛奶" {
		t.Fatalf("memo = %v, want config value", rec["memo_text"])
	}

	rec = memoContent(domain.Record{"memo_text": "fb"}, domain.DeviceConfig{})
	if rec["memo_text"] != "fb" {
		t.Fatalf("memo = %v, want fallback", rec["memo_text"])
	}

	rec = memoContent(nil, domain.DeviceConfig{})
	if rec["memo_text"] != "在配置页面设置你的便签内容" {
		t.Fatalf("memo = %v, want setup hint", rec["memo_text"])
	}
}

func TestHabitContent(t *testing.T) {
	fallback := domain.Record{"summary": "none"}
	cfg := domain.DeviceConfig{CustomFields: map[string]any{"habits": []any{
		map[string]any{"name": "早起", "status": "✓"},
		map[string]any{"name": "阅读", "status": ""},
		map[string]any{"name": "锻炼", "status": "✓"},
		"garbage entry",
	}}}

	rec := habitContent(fallback, cfg)
	if rec["week_progress"] != 2 || rec["week_total"] != 3 {
		t.Fatalf("progress = %v/%v", rec["week_progress"], rec["week_total"])
	}
	if rec["summary"] != "本周已完成 2/3 项习惯" {
		t.Fatalf("summary = %v", rec["summary"])
	}

	if rec := habitContent(fallback, domain.DeviceConfig{}); rec["summary"] != "none" {
		t.Fatalf("expected fallback without habits, got %v", rec)
	}
}

func TestDailyMetaContent_MergesDayFields(t *testing.T) {
	fallback := domain.Record{"quote": "q", "author": "a"}
	day := domain.DayContext{
		Year: 2026, Day: 1, MonthCN: "八月", WeekdayCN: "周六",
		DayOfYear: 213, DaysInYear: 365,
	}
	rec := dailyMetaContent(fallback, day)
	if rec["quote"] != "q" || rec["author"] != "a" {
		t.Fatalf("fallback fields lost: %v", rec)
	}
	if rec["month_cn"] != "八月" || rec["weekday_cn"] != "周六" || rec["day_of_year"] != 213 {
		t.Fatalf("day fields missing: %v", rec)
	}
	if _, ok := fallback["month_cn"]; ok {
		t.Fatalf("fallback record mutated")
	}
}

func TestRound1(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.24, 1.2},
		{1.25, 1.3},
		{-1.25, -1.3},
		{0, 0},
		{58.356, 58.4},
	}
	for _, tc := range cases {
		if got := round1(tc.in); got != tc.want {
			t.Fatalf("round1(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIntField(t *testing.T) {
	fields := map[string]any{
		"int":      5,
		"float":    float64(7),
		"str":      "42",
		"badstr":   "abc",
		"negative": -3,
	}
	cases := []struct {
		key  string
		want int
	}{
		{"int", 5},
		{"float", 7},
		{"str", 42},
		{"badstr", 9},
		{"negative", 9},
		{"absent", 9},
	}
	for _, tc := range cases {
		if got := intField(fields, tc.key, 9); got != tc.want {
			t.Fatalf("intField(%s) = %d, want %d", tc.key, got, tc.want)
		}
	}
}
