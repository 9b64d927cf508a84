// Package content produces the flat field->value record each persona's
// layout renders. Declarative content specs dispatch to static data,
// computed providers, external feeds, image generation, LLM calls, or a
// composite of those; every failure path degrades to the definition's
// fallback so a record always comes back.
package content

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/inksight/inksight-backend/internal/clients/imagegen"
	"github.com/inksight/inksight-backend/internal/clients/llm"
	"github.com/inksight/inksight-backend/internal/clients/news"
	"github.com/inksight/inksight-backend/internal/clients/weather"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
)

const (
	// dedupWindow is how many recent content hashes we compare against.
	dedupWindow = 20
	// dedupSummaryHints is how many recent summaries feed the avoid-hint.
	dedupSummaryHints = 3
	// dedupMaxRetries is how many extra generations a hash collision buys.
	dedupMaxRetries = 2

	defaultTemperature = 0.8
)

// HistoryStore exposes the recent-output window used for deduplication.
type HistoryStore interface {
	RecentHashes(ctx context.Context, mac, modeID string, limit int) ([]string, error)
	RecentSummaries(ctx context.Context, mac, modeID string, limit int) ([]string, error)
}

// LLMFactory hands out generation clients per provider/model pair.
type LLMFactory interface {
	Client(provider, model string) (llm.Client, error)
}

type Generator struct {
	log      *logger.Logger
	llm      LLMFactory
	weather  weather.Client
	news     news.Client
	imagegen imagegen.Client
	history  HistoryStore
	now      func() time.Time
}

// NewGenerator wires the content dispatcher. The image generation client
// and history store are optional; everything else is required.
func NewGenerator(
	log *logger.Logger,
	llmFactory LLMFactory,
	weatherClient weather.Client,
	newsClient news.Client,
	imagegenClient imagegen.Client,
	history HistoryStore,
) (*Generator, error) {
	if llmFactory == nil {
		return nil, errRequired("llm factory")
	}
	if weatherClient == nil {
		return nil, errRequired("weather client")
	}
	if newsClient == nil {
		return nil, errRequired("news client")
	}
	return &Generator{
		log:      log.With("service", "ContentGenerator"),
		llm:      llmFactory,
		weather:  weatherClient,
		news:     newsClient,
		imagegen: imagegenClient,
		history:  history,
		now:      time.Now,
	}, nil
}

// Generate produces the content record for one declarative mode.
func (g *Generator) Generate(ctx context.Context, def *modes.Definition, rc domain.RuntimeContext) domain.Record {
	return g.generateSpec(ctx, def.ID, &def.Content, rc)
}

func (g *Generator) generateSpec(ctx context.Context, modeID string, spec *modes.ContentSpec, rc domain.RuntimeContext) domain.Record {
	fallback := pickFallback(spec)

	switch spec.Type {
	case modes.ContentStatic:
		if len(spec.StaticData) > 0 {
			return cloneRecord(spec.StaticData)
		}
		return fallback
	case modes.ContentComputed:
		return g.generateComputed(ctx, spec, fallback, rc)
	case modes.ContentExternalData:
		return g.generateExternal(ctx, spec, fallback, rc)
	case modes.ContentImageGen:
		return g.generateImage(ctx, spec, fallback, rc)
	case modes.ContentComposite:
		return g.generateComposite(ctx, modeID, spec, fallback, rc)
	}

	return g.generateLLM(ctx, modeID, spec, fallback, rc)
}

func (g *Generator) generateLLM(ctx context.Context, modeID string, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	temperature := spec.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	client, err := g.llmClient(rc)
	if err != nil {
		g.log.Error("LLM client unavailable, using fallback", "mode", modeID, "error", err)
		return applyPostProcess(fallback, spec.PostProcess)
	}

	contextStr := buildContextString(rc.Day, rc.Weather.Str)
	basePrompt := interpolateContext(spec.PromptTemplate, contextStr)
	basePrompt += buildStyleInstructions(rc.Config.CharacterTones, rc.Config.Language, rc.Config.ContentTone)

	g.log.Info("Generating content", "mode", modeID)

	var recentHashes []string
	dedupHint := ""
	if rc.MAC != "" && g.history != nil {
		if hashes, err := g.history.RecentHashes(ctx, rc.MAC, modeID, dedupWindow); err == nil {
			recentHashes = hashes
		}
		if summaries, err := g.history.RecentSummaries(ctx, rc.MAC, modeID, dedupSummaryHints); err == nil && len(summaries) > 0 {
			dedupHint = "\n请避免与以下近期内容重复：" + joinSummaries(summaries)
		}
	}

	for attempt := 0; attempt <= dedupMaxRetries; attempt++ {
		prompt := basePrompt
		if attempt > 0 && dedupHint != "" {
			prompt += dedupHint
		}

		text, err := client.Generate(ctx, prompt, temperature)
		if err != nil {
			g.log.Error("LLM call failed, using fallback", "mode", modeID, "error", err)
			return applyPostProcess(fallback, spec.PostProcess)
		}

		var rec domain.Record
		if spec.Type == modes.ContentLLMJSON {
			rec = parseSchemaOutput(text, spec, fallback)
		} else {
			rec = parseLLMOutput(text, spec, fallback)
		}

		if !validateQuality(rec) {
			g.log.Warn("Quality check failed, using fallback", "mode", modeID)
			return applyPostProcess(fallback, spec.PostProcess)
		}

		if !containsHash(recentHashes, contentHash(rec)) {
			return applyPostProcess(rec, spec.PostProcess)
		}
		g.log.Info("Dedup retry after hash collision", "mode", modeID, "attempt", attempt+1)
	}

	// Every attempt collided with recent history; the fallback is the only
	// output guaranteed not to repeat a stale record.
	g.log.Warn("Dedup retries exhausted, using fallback", "mode", modeID)
	return applyPostProcess(fallback, spec.PostProcess)
}

func (g *Generator) generateComposite(ctx context.Context, modeID string, spec *modes.ContentSpec, fallback domain.Record, rc domain.RuntimeContext) domain.Record {
	merged := domain.Record{}
	for i := range spec.Steps {
		part := g.generateSpec(ctx, modeID, &spec.Steps[i], rc)
		for k, v := range part {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return fallback
	}
	out := cloneRecord(fallback)
	for k, v := range merged {
		out[k] = v
	}
	return out
}

// pickFallback resolves the spec's degraded record, sampling the pool when
// one is declared.
func pickFallback(spec *modes.ContentSpec) domain.Record {
	if len(spec.FallbackPool) > 0 {
		pick := spec.FallbackPool[rand.Intn(len(spec.FallbackPool))]
		return cloneRecord(pick)
	}
	return cloneRecord(spec.Fallback)
}

func interpolateContext(template, contextStr string) string {
	return strings.ReplaceAll(template, "{context}", contextStr)
}

func errRequired(name string) error {
	return fmt.Errorf("%s is required", name)
}

func containsHash(hashes []string, h string) bool {
	for _, v := range hashes {
		if v == h {
			return true
		}
	}
	return false
}

func joinSummaries(summaries []string) string {
	out := ""
	for i, s := range summaries {
		if i > 0 {
			out += "；"
		}
		out += s
	}
	return out
}
