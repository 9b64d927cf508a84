package modes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/logger"
)

// Registry is the process-wide mode catalog. It is populated once at
// startup in a fixed order (native, builtin declarative, custom
// declarative) so later loads can never shadow earlier ones; the only
// mutation after startup is replacing or removing custom modes.
type Registry struct {
	log *logger.Logger

	mu     sync.RWMutex
	native map[string]*NativeMode
	defs   map[string]*Definition
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:    log.With("service", "ModeRegistry"),
		native: make(map[string]*NativeMode),
		defs:   make(map[string]*Definition),
	}
}

// RegisterNative registers a hard-coded mode. No validation beyond a
// non-empty id; native modes always win over declarative ones.
func (r *Registry) RegisterNative(id string, contentFn ContentFn, renderFn RenderFn, info Info) error {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("register native: %w: empty id", apperr.ErrValidation)
	}
	info.ID = id
	if info.DisplayName == "" {
		info.DisplayName = id
	}
	if info.Icon == "" {
		info.Icon = "star"
	}
	info.Source = SourceNative

	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[id] = &NativeMode{Info: info, Content: contentFn, Render: renderFn}
	r.log.Debug("Registered native mode", "mode", id)
	return nil
}

// LoadDefinition parses and validates one declarative definition. Raw
// bytes may be JSON or YAML. On any validation failure the mode is
// rejected (logged, not registered) and an error is returned so bulk
// loaders can count failures without aborting.
func (r *Registry) LoadDefinition(raw []byte, source Source) (string, error) {
	def, err := ParseDefinition(raw)
	if err != nil {
		r.log.Error("Rejected mode definition", "source", source, "error", err)
		return "", err
	}
	def.Source = source
	if def.Cacheable == false && !rawHasCacheableFalse(raw) {
		// absent flag defaults to cacheable
		def.Cacheable = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.native[def.ID]; exists {
		r.log.Warn("Declarative mode shadows native mode, skipped", "mode", def.ID)
		return "", fmt.Errorf("load %s: %w: shadows native mode", def.ID, apperr.ErrValidation)
	}
	r.defs[def.ID] = def
	r.log.Info("Loaded mode definition", "mode", def.ID, "source", source)
	return def.ID, nil
}

// LoadDirectory bulk-loads every .json/.yaml/.yml file in dir, sorted by
// name. Partial failures do not abort the batch; the ids actually
// registered are returned.
func (r *Registry) LoadDirectory(dir string, source Source) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	loaded := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			r.log.Error("Failed to read mode file", "file", name, "error", err)
			continue
		}
		id, err := r.LoadDefinition(raw, source)
		if err != nil {
			continue
		}
		loaded = append(loaded, id)
	}
	return loaded
}

// RemoveCustom removes a user-uploaded mode. Native and builtin modes are
// permanent for the process lifetime.
func (r *Registry) RemoveCustom(id string) bool {
	id = strings.ToUpper(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok || def.Source != SourceCustom {
		return false
	}
	delete(r.defs, id)
	r.log.Info("Removed custom mode", "mode", id)
	return true
}

// ── Queries ──────────────────────────────────────────────────

func (r *Registry) IsSupported(id string) bool {
	id = strings.ToUpper(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, n := r.native[id]
	_, d := r.defs[id]
	return n || d
}

func (r *Registry) SupportedIDs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]bool, len(r.native)+len(r.defs))
	for id := range r.native {
		ids[id] = true
	}
	for id := range r.defs {
		ids[id] = true
	}
	return ids
}

// CacheableIDs returns every registered mode whose cacheable flag is set.
func (r *Registry) CacheableIDs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]bool)
	for id, nm := range r.native {
		if nm.Info.Cacheable {
			ids[id] = true
		}
	}
	for id, def := range r.defs {
		if def.Cacheable {
			ids[id] = true
		}
	}
	return ids
}

func (r *Registry) Info(id string) (Info, bool) {
	id = strings.ToUpper(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if nm, ok := r.native[id]; ok {
		return nm.Info, true
	}
	if def, ok := r.defs[id]; ok {
		return def.Info, true
	}
	return Info{}, false
}

func (r *Registry) Native(id string) (*NativeMode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nm, ok := r.native[strings.ToUpper(id)]
	return nm, ok
}

func (r *Registry) Definition(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[strings.ToUpper(id)]
	return def, ok
}

func (r *Registry) IsNative(id string) bool {
	_, ok := r.Native(id)
	return ok
}

// List returns metadata for every registered mode, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.native)+len(r.defs))
	for _, nm := range r.native {
		infos = append(infos, nm.Info)
	}
	for _, def := range r.defs {
		infos = append(infos, def.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// IconMap returns mode id -> footer icon name for every registered mode.
func (r *Registry) IconMap() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[string]string, len(r.native)+len(r.defs))
	for id, nm := range r.native {
		m[id] = nm.Info.Icon
	}
	for id, def := range r.defs {
		m[id] = def.Icon
	}
	return m
}

// ── Parsing & validation ─────────────────────────────────────

// ParseDefinition decodes raw JSON or YAML into a typed definition and
// validates it. Validation happens here, at load time, never at render
// time: unknown tags are load-time rejections.
func ParseDefinition(raw []byte) (*Definition, error) {
	jsonRaw := raw
	if !looksLikeJSON(raw) {
		var node map[string]any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
		converted, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
		jsonRaw = converted
	}

	var def Definition
	if err := json.Unmarshal(jsonRaw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	def.ID = strings.ToUpper(strings.TrimSpace(def.ID))
	if def.ID == "" {
		return nil, fmt.Errorf("%w: missing mode_id", apperr.ErrValidation)
	}
	if def.DisplayName == "" {
		def.DisplayName = def.ID
	}
	if def.Icon == "" {
		def.Icon = "star"
	}
	if err := validateContent(&def.Content); err != nil {
		return nil, fmt.Errorf("mode %s: %w", def.ID, err)
	}
	if len(def.Layout.Body) == 0 {
		return nil, fmt.Errorf("mode %s: %w: empty layout body", def.ID, apperr.ErrValidation)
	}
	if err := validateBlocks(def.Layout.Body); err != nil {
		return nil, fmt.Errorf("mode %s: %w", def.ID, err)
	}
	for key, ov := range def.LayoutOverrides {
		if len(ov.Body) > 0 {
			if err := validateBlocks(ov.Body); err != nil {
				return nil, fmt.Errorf("mode %s override %s: %w", def.ID, key, err)
			}
		}
	}
	return &def, nil
}

func validateContent(cs *ContentSpec) error {
	if cs.Type == "" {
		cs.Type = ContentStatic
	}
	if !contentTypes[cs.Type] {
		return fmt.Errorf("%w: unknown content type %q", apperr.ErrValidation, cs.Type)
	}
	switch cs.Type {
	case ContentLLM, ContentLLMJSON:
		if strings.TrimSpace(cs.PromptTemplate) == "" {
			return fmt.Errorf("%w: %s content missing prompt_template", apperr.ErrValidation, cs.Type)
		}
		if len(cs.Fallback) == 0 && len(cs.FallbackPool) == 0 {
			return fmt.Errorf("%w: %s content missing fallback", apperr.ErrValidation, cs.Type)
		}
		// The fallback must cover every declared output field so quality
		// failures always degrade to a complete record.
		if cs.Type == ContentLLMJSON {
			for field := range cs.OutputSchema {
				if !fallbackCovers(cs, field) {
					return fmt.Errorf("%w: fallback missing schema field %q", apperr.ErrValidation, field)
				}
			}
		} else {
			for _, field := range cs.OutputFields {
				if !fallbackCovers(cs, field) {
					return fmt.Errorf("%w: fallback missing output field %q", apperr.ErrValidation, field)
				}
			}
		}
	case ContentComposite:
		if len(cs.Steps) == 0 {
			return fmt.Errorf("%w: composite content has no steps", apperr.ErrValidation)
		}
		for i := range cs.Steps {
			if err := validateContent(&cs.Steps[i]); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

func fallbackCovers(cs *ContentSpec, field string) bool {
	if _, ok := cs.Fallback[field]; ok {
		return true
	}
	for _, fb := range cs.FallbackPool {
		if _, ok := fb[field]; ok {
			return true
		}
	}
	return len(cs.Fallback) == 0 && len(cs.FallbackPool) == 0
}

func validateBlocks(blocks []Block) error {
	for i := range blocks {
		b := &blocks[i]
		if !blockTypes[b.Type] {
			return fmt.Errorf("%w: unknown block type %q", apperr.ErrValidation, b.Type)
		}
		for _, children := range [][]Block{b.Children, b.Left, b.Right, b.FallbackChildren} {
			if err := validateBlocks(children); err != nil {
				return err
			}
		}
		for _, cond := range b.Conditions {
			if err := validateBlocks(cond.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

func looksLikeJSON(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// rawHasCacheableFalse reports whether the source explicitly set
// cacheable=false, so we can distinguish it from the zero value.
func rawHasCacheableFalse(raw []byte) bool {
	var probe struct {
		Cacheable *bool `json:"cacheable" yaml:"cacheable"`
	}
	if looksLikeJSON(raw) {
		if err := json.Unmarshal(raw, &probe); err != nil {
			return false
		}
	} else if err := yaml.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Cacheable != nil && !*probe.Cacheable
}
