package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/inksight/inksight-backend/internal/clients/llm"
	"github.com/inksight/inksight-backend/internal/clients/news"
	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/modes"
)

const insightFallback = "今日科技圈依然精彩，开发者们在不断探索新的可能性。"

func (g *Generator) generateExternal(ctx context.Context, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	switch spec.Provider {
	case "briefing":
		return g.briefingContent(ctx, spec, fallback, rc)
	case "weather_forecast":
		return g.forecastContent(ctx, spec, fallback, rc)
	}
	return fallback
}

// briefingContent fans out to the three tech feeds, condenses long titles
// through one batched LLM call and closes with a one-line insight.
func (g *Generator) briefingContent(ctx context.Context, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	hnLimit := paramInt(spec.Params, "hn_limit", 2)
	v2exLimit := paramInt(spec.Params, "v2ex_limit", 1)

	var (
		stories []news.Story
		product news.Product
		topics  []news.Topic
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s, err := g.news.HackerNewsTop(egCtx, hnLimit)
		if err != nil {
			g.log.Warn("HN fetch failed", "error", err)
			return nil
		}
		stories = s
		return nil
	})
	eg.Go(func() error {
		p, err := g.news.ProductHuntTop(egCtx)
		if err != nil {
			g.log.Warn("PH fetch failed", "error", err)
			return nil
		}
		product = p
		return nil
	})
	eg.Go(func() error {
		t, err := g.news.V2EXHot(egCtx, v2exLimit)
		if err != nil {
			g.log.Warn("V2EX fetch failed", "error", err)
			return nil
		}
		topics = t
		return nil
	})
	_ = eg.Wait()

	if len(stories) == 0 && product.Name == "" && len(topics) == 0 {
		g.log.Warn("All briefing feeds empty, using fallback")
		return fallback
	}

	client, err := g.llmClient(rc)
	if err == nil {
		g.summarizeBriefing(ctx, client, stories, &product)
	}

	hnItems := make([]map[string]any, 0, len(stories))
	for _, s := range stories {
		title := s.Summary
		if title == "" {
			title = s.Title
		}
		hnItems = append(hnItems, map[string]any{
			"title": title, "score": s.Score,
		})
	}
	v2exItems := make([]map[string]any, 0, len(topics))
	for _, t := range topics {
		v2exItems = append(v2exItems, map[string]any{
			"title": t.Title, "node": t.Node,
		})
	}

	rec := domain.Record{
		"hn_items":   hnItems,
		"v2ex_items": v2exItems,
		"ph_name":    product.Name,
		"ph_tagline": product.Tagline,
		"insight":    insightFallback,
	}
	if product.Name != "" {
		rec["ph_item"] = map[string]any{"name": product.Name, "tagline": product.Tagline}
	}

	if err == nil {
		rec["insight"] = g.briefingInsight(ctx, client, stories, product)
	}
	return rec
}

// summarizeBriefing condenses overlong titles into short Chinese lines with
// a single batched call. Failures leave the originals in place.
func (g *Generator) summarizeBriefing(ctx context.Context, client llm.Client, stories []news.Story, product *news.Product) {
	var longTitles []string
	for _, s := range stories {
		if len([]rune(s.Title)) >= 20 {
			longTitles = append(longTitles, s.Title)
		}
	}
	needPH := len([]rune(product.Tagline)) > 30

	if len(longTitles) == 0 && !needPH {
		return
	}

	var sb strings.Builder
	sb.WriteString("请将以下科技资讯标题压缩为简短中文，每条不超过15字，保留关键信息。\n")
	if len(longTitles) > 0 {
		sb.WriteString("HN标题：\n")
		for i, t := range longTitles {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
		}
	}
	if needPH {
		fmt.Fprintf(&sb, "PH产品简介：%s\n", product.Tagline)
	}
	sb.WriteString(`只输出JSON，格式：{"hn_summaries": ["...", "..."], "ph_summary": "..."}`)

	text, err := client.Generate(ctx, sb.String(), 0.5)
	if err != nil {
		g.log.Warn("Briefing summarize failed", "error", err)
		return
	}
	var out struct {
		HNSummaries []string `json:"hn_summaries"`
		PHSummary   string   `json:"ph_summary"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &out); err != nil {
		g.log.Warn("Briefing summary parse failed", "error", err)
		return
	}

	si := 0
	for i := range stories {
		if len([]rune(stories[i].Title)) < 20 {
			continue
		}
		if si < len(out.HNSummaries) && out.HNSummaries[si] != "" {
			stories[i].Summary = out.HNSummaries[si]
		}
		si++
	}
	if needPH && out.PHSummary != "" {
		product.Tagline = out.PHSummary
	}
}

func (g *Generator) briefingInsight(ctx context.Context, client llm.Client, stories []news.Story, product news.Product) string {
	var sb strings.Builder
	sb.WriteString("根据今天的科技资讯，写一句30字以内的犀利观察或趋势点评，不要套话：\n")
	for _, s := range stories {
		sb.WriteString("- " + s.Title + "\n")
	}
	if product.Name != "" {
		fmt.Fprintf(&sb, "- 今日新品：%s（%s）\n", product.Name, product.Tagline)
	}

	text, err := client.Generate(ctx, sb.String(), 0.7)
	if err != nil {
		g.log.Warn("Briefing insight failed", "error", err)
		return insightFallback
	}
	insight := strings.Trim(strings.TrimSpace(text), quoteCutset)
	if insight == "" || len([]rune(insight)) > 60 {
		return insightFallback
	}
	return insight
}

func (g *Generator) forecastContent(ctx context.Context, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	days := paramInt(spec.Params, "days", 3)
	rec, err := g.weather.Forecast(ctx, rc.Config.City, days)
	if err != nil {
		g.log.Warn("Forecast fetch failed, using fallback", "error", err)
		return fallback
	}
	if temp, _ := rec["today_temp"].(string); temp == "--" {
		return fallback
	}
	out := cloneRecord(fallback)
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// generateImage runs the art wall provider: an LLM-composed title and image
// prompt, then a text-to-image call. Without an image client the record
// still carries the title so the layout can render its placeholder frame.
func (g *Generator) generateImage(ctx context.Context, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	contextStr := buildContextString(rc.Day, rc.Weather.Str)

	title := "墨韵天成"
	if client, err := g.llmClient(rc); err == nil {
		prompt := fmt.Sprintf("当前情境：%s。请为一幅黑白版画起一个8字以内的诗意标题，只输出标题本身。", contextStr)
		if text, err := client.Generate(ctx, prompt, 0.9); err == nil {
			cleaned := strings.Trim(strings.TrimSpace(text), quoteCutset)
			if cleaned != "" && len([]rune(cleaned)) <= 12 {
				title = cleaned
			}
		}
	}

	imagePrompt := fmt.Sprintf(
		"黑白线条版画风格，主题「%s」，%s。高对比度，粗犷线条，适合1-bit墨水屏显示，无文字。",
		title, contextStr)
	negativePrompt := "彩色, 照片, 渐变, 模糊, 文字, 水印"

	rec := domain.Record{
		"artwork_title": title,
		"description":   fmt.Sprintf("基于「%s」创作的黑白版画", rc.Day.DateStr),
		"prompt":        imagePrompt,
	}

	if g.imagegen == nil {
		g.log.Info("Image generation disabled, rendering placeholder", "title", title)
		return rec
	}

	model := paramString(spec.Params, "model", "")
	if model != "" {
		rec["model_name"] = model
	}
	url, pngBytes, err := g.imagegen.Generate(ctx, imagePrompt, negativePrompt)
	if err != nil {
		g.log.Error("Image generation failed, rendering placeholder", "error", err)
		return rec
	}
	rec["image_url"] = url
	if len(pngBytes) > 0 {
		rec["image_b64"] = base64.StdEncoding.EncodeToString(pngBytes)
	}
	return rec
}

// llmClient resolves the device's configured provider and model.
func (g *Generator) llmClient(rc domain.RuntimeContext) (llm.Client, error) {
	provider := rc.Config.LLMProvider
	if provider == "" {
		provider = config.DefaultLLMProvider
	}
	model := rc.Config.LLMModel
	if model == "" {
		model = config.DefaultLLMModel
	}
	return g.llm.Client(provider, model)
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
