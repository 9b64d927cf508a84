package content

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/modes"
)

// generateComputed handles providers that derive content from config and
// calendar data without touching the network.
func (g *Generator) generateComputed(ctx context.Context, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	switch spec.Provider {
	case "countdown":
		return g.countdownContent(rc)
	case "daily_meta":
		return dailyMetaContent(fallback, rc.Day)
	case "lifebar":
		return g.lifebarContent(rc)
	case "memo":
		return memoContent(fallback, rc.Config)
	case "habit":
		return habitContent(fallback, rc.Config)
	}
	return fallback
}

type countdownEvent struct {
	Name string
	Date string
	Type string
	Days int
}

func (g *Generator) countdownContent(rc domain.RuntimeContext) domain.Record {
	today := truncateToDay(g.now())

	var events []countdownEvent
	for _, raw := range toAnySlice(rc.Config.CustomFields["countdownEvents"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		dateStr, _ := m["date"].(string)
		evtType, _ := m["type"].(string)
		if evtType == "" {
			evtType = "countdown"
		}
		if name == "" || dateStr == "" {
			continue
		}
		target, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		delta := int(target.Sub(today).Hours() / 24)
		if evtType == "countdown" && delta < 0 {
			continue
		}
		days := delta
		if days < 0 {
			days = -days
		}
		events = append(events, countdownEvent{Name: name, Date: dateStr, Type: evtType, Days: days})
	}

	// Countdown events nearest-first, then countup.
	sort.SliceStable(events, func(i, j int) bool {
		oi, oj := orderOf(events[i].Type), orderOf(events[j].Type)
		if oi != oj {
			return oi < oj
		}
		return events[i].Days < events[j].Days
	})

	if len(events) == 0 {
		newYear := time.Date(today.Year()+1, time.January, 1, 0, 0, 0, 0, today.Location())
		events = append(events, countdownEvent{
			Name: "元旦",
			Date: newYear.Format("2006-01-02"),
			Type: "countdown",
			Days: int(newYear.Sub(today).Hours() / 24),
		})
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"name": e.Name, "date": e.Date, "type": e.Type, "days": e.Days,
		})
	}
	return domain.Record{"events": out}
}

func orderOf(evtType string) int {
	if evtType == "countdown" {
		return 0
	}
	return 1
}

func dailyMetaContent(fallback domain.Record, day domain.DayContext) domain.Record {
	rec := cloneRecord(fallback)
	rec["year"] = day.Year
	rec["day"] = day.Day
	rec["month_cn"] = day.MonthCN
	rec["weekday_cn"] = day.WeekdayCN
	rec["day_of_year"] = day.DayOfYear
	rec["days_in_year"] = day.DaysInYear
	return rec
}

func (g *Generator) lifebarContent(rc domain.RuntimeContext) domain.Record {
	now := g.now()
	day := rc.Day

	dayOfYear := day.DayOfYear
	if dayOfYear == 0 {
		dayOfYear = now.YearDay()
	}
	daysInYear := day.DaysInYear
	if daysInYear == 0 {
		daysInYear = 365
	}
	yearPct := round1(float64(dayOfYear) / float64(daysInYear) * 100)

	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	monthPct := round1(float64(now.Day()) / float64(daysInMonth) * 100)

	weekdayNum := int(now.Weekday()+6)%7 + 1
	weekPct := round1(float64(weekdayNum) / 7 * 100)

	birthYear := intField(rc.Config.CustomFields, "birth_year", 1995)
	lifeExpect := intField(rc.Config.CustomFields, "life_expect", 80)
	age := now.Year() - birthYear
	lifePct := round1(float64(age) / float64(lifeExpect) * 100)
	if lifePct > 100 {
		lifePct = 100
	}

	return domain.Record{
		"year_pct": yearPct, "year_label": fmt.Sprintf("%d 年已过", now.Year()),
		"month_pct": monthPct, "month_label": fmt.Sprintf("%d月", int(now.Month())),
		"week_pct": weekPct, "week_label": "本周",
		"life_pct": lifePct, "life_label": "人生",
		"day_of_year": dayOfYear, "days_in_year": daysInYear,
		"day": now.Day(), "days_in_month": daysInMonth,
		"weekday_num": weekdayNum, "week_total": 7,
		"age": age, "life_expect": lifeExpect,
	}
}

func memoContent(fallback domain.Record, cfg domain.DeviceConfig) domain.Record {
	memo, _ := cfg.CustomFields["memo_text"].(string)
	if memo == "" {
		if fb, ok := fallback["memo_text"].(string); ok && fb != "" {
			memo = fb
		} else {
			memo = "在配置页面设置你的便签内容"
		}
	}
	return domain.Record{"memo_text": memo}
}

func habitContent(fallback domain.Record, cfg domain.DeviceConfig) domain.Record {
	raw := toAnySlice(cfg.CustomFields["habits"])
	if len(raw) == 0 {
		return fallback
	}
	habits := make([]map[string]any, 0, len(raw))
	completed := 0
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		habits = append(habits, m)
		if status, _ := m["status"].(string); status == "✓" {
			completed++
		}
	}
	total := len(habits)
	if total == 0 {
		return fallback
	}
	return domain.Record{
		"habits":        habits,
		"summary":       fmt.Sprintf("本周已完成 %d/%d 项习惯", completed, total),
		"week_progress": completed,
		"week_total":    total,
	}
}

// ── Helpers ──────────────────────────────────────────────────

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func toAnySlice(v any) []any {
	switch items := v.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out
	}
	return nil
}

func intField(fields map[string]any, key string, def int) int {
	switch v := fields[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
