package content

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/inksight/inksight-backend/internal/domain"
)

// buildContextString summarizes the day for prompt interpolation.
func buildContextString(day domain.DayContext, weatherStr string) string {
	parts := []string{
		"日期: " + day.DateStr,
		"天气: " + weatherStr,
	}
	if day.Festival != "" {
		parts = append(parts, "节日: "+day.Festival)
	}
	if day.UpcomingHoliday != "" && day.DaysUntilHoliday > 0 {
		parts = append(parts, fmt.Sprintf("%d天后是%s", day.DaysUntilHoliday, day.UpcomingHoliday))
	}
	if day.DailyWord != "" {
		parts = append(parts, "每日一词: "+day.DailyWord)
	}
	return strings.Join(parts, ", ")
}

var languageNames = map[string]string{
	"zh": "中文", "en": "英文", "mixed": "中英混合",
}

var toneNames = map[string]string{
	"positive": "积极鼓励、温暖向上",
	"neutral":  "中性克制、理性平和",
	"deep":     "深沉内省、富有哲理",
	"humor":    "轻松幽默、诙谐有趣",
}

// buildStyleInstructions renders the per-device voice configuration as a
// prompt suffix. Overlong or multi-line tones are dropped, they are user
// input and could smuggle instructions.
func buildStyleInstructions(characterTones []string, language, contentTone string) string {
	var parts []string

	var safeTones []string
	for _, t := range characterTones {
		if len([]rune(t)) <= 20 && !strings.Contains(t, "\n") {
			safeTones = append(safeTones, t)
		}
	}
	if len(safeTones) > 0 {
		parts = append(parts, fmt.Sprintf("请模仿「%s」的说话风格和语气来表达", strings.Join(safeTones, "、")))
	}

	if language != "" && language != "zh" {
		name, ok := languageNames[language]
		if !ok {
			name = "中文"
		}
		parts = append(parts, "请使用"+name+"为主要语言")
	}

	if contentTone != "" && contentTone != "neutral" {
		name, ok := toneNames[contentTone]
		if !ok {
			name = toneNames["neutral"]
		}
		parts = append(parts, "整体调性要"+name)
	}

	if len(parts) == 0 {
		return ""
	}
	return "\n额外风格要求：" + strings.Join(parts, "；") + "。"
}

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// cleanJSONResponse strips markdown fences and extracts the JSON object
// from a model response that wrapped it in prose.
func cleanJSONResponse(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx != -1 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx != -1 {
			cleaned = cleaned[:idx]
		}
	}
	if match := jsonObjectRe.FindString(cleaned); match != "" {
		cleaned = match
	}
	return strings.TrimSpace(cleaned)
}

// contentHash fingerprints a record for the dedup window: md5 of the
// key-sorted JSON rendering, truncated to 12 hex chars.
func contentHash(rec domain.Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(rec[k])
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:12]
}

// Hash is the exported fingerprint used when persisting history rows.
func Hash(rec domain.Record) string {
	return contentHash(rec)
}

// summaryFields are probed in order when condensing a record to one line.
var summaryFields = []string{"quote", "question", "body", "word", "event_title", "challenge", "name_cn", "text", "title", "artwork_title"}

// Summarize condenses a record to a short line for the dedup avoid-hint.
func Summarize(rec domain.Record) string {
	for _, key := range summaryFields {
		s, ok := rec[key].(string)
		if !ok || s == "" {
			continue
		}
		runes := []rune(s)
		if len(runes) > 50 {
			return string(runes[:50])
		}
		return s
	}
	return ""
}

// importantFields must be non-empty when present for a record to pass the
// quality gate.
var importantFields = map[string]bool{
	"quote": true, "question": true, "body": true, "word": true,
	"event_title": true, "challenge": true, "name_cn": true, "text": true,
}

// validateQuality rejects empty records, overlong string fields and blank
// important fields.
func validateQuality(rec domain.Record) bool {
	if len(rec) == 0 {
		return false
	}
	for _, val := range rec {
		if s, ok := val.(string); ok && len([]rune(s)) > 500 {
			return false
		}
	}
	for key := range rec {
		if !importantFields[key] {
			continue
		}
		switch v := rec[key].(type) {
		case nil:
			return false
		case string:
			if v == "" {
				return false
			}
		}
	}
	return true
}

var quoteCutset = "\"“”「」"

// applyPostProcess runs the definition's per-field cleanup rules.
func applyPostProcess(rec domain.Record, rules map[string]string) domain.Record {
	for fieldName, rule := range rules {
		val, ok := rec[fieldName].(string)
		if !ok {
			continue
		}
		switch rule {
		case "first_char":
			runes := []rune(val)
			if len(runes) > 0 {
				rec[fieldName] = string(runes[0])
			} else {
				rec[fieldName] = ""
			}
		case "strip_quotes":
			rec[fieldName] = strings.Trim(val, quoteCutset)
		}
	}
	return rec
}
