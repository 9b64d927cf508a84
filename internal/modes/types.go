// Package modes is the catalog of display personas. A mode is either
// native (hard-coded Go content/render functions) or declarative (a JSON
// or YAML definition interpreted by the content generator and the layout
// renderer). Definitions are parsed into a typed tree and validated once
// at load time; nothing downstream ever sees raw maps.
package modes

import (
	"context"
	"image"

	"github.com/inksight/inksight-backend/internal/domain"
)

// Source tags where a mode came from. Native and builtin modes are
// permanent for the process lifetime; only custom modes can be removed.
type Source string

const (
	SourceNative  Source = "native"
	SourceBuiltin Source = "builtin"
	SourceCustom  Source = "custom"
)

// ContentType is the closed tag set for content generation strategies.
type ContentType string

const (
	ContentStatic       ContentType = "static"
	ContentComputed     ContentType = "computed"
	ContentExternalData ContentType = "external_data"
	ContentImageGen     ContentType = "image_gen"
	ContentLLM          ContentType = "llm"
	ContentLLMJSON      ContentType = "llm_json"
	ContentComposite    ContentType = "composite"
)

var contentTypes = map[ContentType]bool{
	ContentStatic: true, ContentComputed: true, ContentExternalData: true,
	ContentImageGen: true, ContentLLM: true, ContentLLMJSON: true,
	ContentComposite: true,
}

// BlockType is the closed tag set for layout primitives.
type BlockType string

const (
	BlockCenteredText  BlockType = "centered_text"
	BlockText          BlockType = "text"
	BlockBigNumber     BlockType = "big_number"
	BlockKeyValue      BlockType = "key_value"
	BlockIconText      BlockType = "icon_text"
	BlockSeparator     BlockType = "separator"
	BlockSpacer        BlockType = "spacer"
	BlockSection       BlockType = "section"
	BlockGroup         BlockType = "group"
	BlockVerticalStack BlockType = "vertical_stack"
	BlockTwoColumn     BlockType = "two_column"
	BlockConditional   BlockType = "conditional"
	BlockList          BlockType = "list"
	BlockIconList      BlockType = "icon_list"
	BlockProgressBar   BlockType = "progress_bar"
	BlockTempChart     BlockType = "temp_chart"
	BlockWeatherIcon   BlockType = "weather_icon"
	BlockImage         BlockType = "image"
)

var blockTypes = map[BlockType]bool{
	BlockCenteredText: true, BlockText: true, BlockBigNumber: true,
	BlockKeyValue: true, BlockIconText: true, BlockSeparator: true,
	BlockSpacer: true, BlockSection: true, BlockGroup: true,
	BlockVerticalStack: true, BlockTwoColumn: true, BlockConditional: true,
	BlockList: true, BlockIconList: true, BlockProgressBar: true,
	BlockTempChart: true, BlockWeatherIcon: true, BlockImage: true,
}

// SchemaField declares one llm_json output field with its default value.
type SchemaField struct {
	Type    string `json:"type"`
	Default any    `json:"default"`
}

// ContentSpec describes how a mode's content record is produced.
type ContentSpec struct {
	Type ContentType `json:"type"`

	// static
	StaticData map[string]any `json:"static_data,omitempty"`

	// computed / external_data / image_gen
	Provider string         `json:"provider,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// llm / llm_json
	PromptTemplate  string                 `json:"prompt_template,omitempty"`
	Temperature     float64                `json:"temperature,omitempty"`
	OutputFormat    string                 `json:"output_format,omitempty"` // raw | text_split | json
	OutputFields    []string               `json:"output_fields,omitempty"`
	OutputSeparator string                 `json:"output_separator,omitempty"`
	OutputSchema    map[string]SchemaField `json:"output_schema,omitempty"`

	Fallback     map[string]any    `json:"fallback,omitempty"`
	FallbackPool []map[string]any  `json:"fallback_pool,omitempty"`
	PostProcess  map[string]string `json:"post_process,omitempty"` // field -> first_char|strip_quotes

	// composite
	Steps []ContentSpec `json:"steps,omitempty"`
}

// Condition is one branch of a conditional block.
type Condition struct {
	Op       string  `json:"op"` // exists|eq|gt|lt|gte|lte|len_eq|len_gt
	Value    any     `json:"value,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// Block is one declarative layout primitive. The field set is the union
// across all block types; renderers read only what their tag defines.
type Block struct {
	Type BlockType `json:"type"`

	Field    string `json:"field,omitempty"`
	Template string `json:"template,omitempty"`
	Text     string `json:"text,omitempty"`

	Font        string  `json:"font,omitempty"`
	FontName    string  `json:"font_name,omitempty"`
	FontSize    float64 `json:"font_size,omitempty"`
	Align       string  `json:"align,omitempty"` // left|center|right
	MarginX     float64 `json:"margin_x,omitempty"`
	MaxLines    int     `json:"max_lines,omitempty"`
	LineSpacing float64 `json:"line_spacing,omitempty"`

	// centered_text
	MaxWidthRatio  float64 `json:"max_width_ratio,omitempty"`
	VerticalCenter *bool   `json:"vertical_center,omitempty"`

	// separator
	Style     string  `json:"style,omitempty"` // solid|dashed|short
	Width     float64 `json:"width,omitempty"`
	LineWidth int     `json:"line_width,omitempty"`

	// spacer / progress_bar
	Height float64 `json:"height,omitempty"`

	// section / group
	Title         string  `json:"title,omitempty"`
	TitleFont     string  `json:"title_font,omitempty"`
	TitleFontSize float64 `json:"title_font_size,omitempty"`
	Children      []Block `json:"children,omitempty"`

	// icon_text / icon_list / weather_icon
	Icon     string  `json:"icon,omitempty"`
	IconSize float64 `json:"icon_size,omitempty"`

	// key_value
	Label string `json:"label,omitempty"`

	// list / icon_list
	MaxItems     int     `json:"max_items,omitempty"`
	ItemTemplate string  `json:"item_template,omitempty"`
	RightField   string  `json:"right_field,omitempty"`
	IconField    string  `json:"icon_field,omitempty"`
	Numbered     bool    `json:"numbered,omitempty"`
	ItemSpacing  float64 `json:"item_spacing,omitempty"`

	// vertical_stack
	Spacing float64 `json:"spacing,omitempty"`

	// two_column
	Left      []Block `json:"left,omitempty"`
	Right     []Block `json:"right,omitempty"`
	LeftWidth float64 `json:"left_width,omitempty"`
	Gap       float64 `json:"gap,omitempty"`

	// conditional
	Conditions       []Condition `json:"conditions,omitempty"`
	FallbackChildren []Block     `json:"fallback_children,omitempty"`

	// progress_bar
	MaxValue   float64 `json:"max_value,omitempty"`
	ShowLabel  bool    `json:"show_label,omitempty"`
	BarWidth   float64 `json:"bar_width,omitempty"`

	// temp_chart
	Days int `json:"days,omitempty"`

	// image
	URLField  string  `json:"url_field,omitempty"`
	ImgWidth  float64 `json:"img_width,omitempty"`
	ImgHeight float64 `json:"img_height,omitempty"`
}

// StatusBarSpec styles the top status strip.
type StatusBarSpec struct {
	LineWidth int  `json:"line_width,omitempty"`
	Dashed    bool `json:"dashed,omitempty"`
}

// FooterSpec styles the bottom band: mode label left, attribution right.
type FooterSpec struct {
	Label               string  `json:"label,omitempty"`
	AttributionTemplate string  `json:"attribution_template,omitempty"`
	FontSize            float64 `json:"font_size,omitempty"`
	LineWidth           int     `json:"line_width,omitempty"`
	Dashed              bool    `json:"dashed,omitempty"`
}

// LayoutSpec is one full declarative layout. VerticalCenter centers the
// whole body stack in the band instead of flowing it top-down.
type LayoutSpec struct {
	StatusBar      StatusBarSpec `json:"status_bar,omitempty"`
	Body           []Block       `json:"body"`
	VerticalCenter bool          `json:"vertical_center,omitempty"`
	Footer         FooterSpec    `json:"footer,omitempty"`
}

// LayoutOverride is a partial layout shallow-merged over the base layout
// when the target resolution matches its "WxH" key.
type LayoutOverride struct {
	StatusBar      *StatusBarSpec `json:"status_bar,omitempty"`
	Body           []Block        `json:"body,omitempty"`
	VerticalCenter *bool          `json:"vertical_center,omitempty"`
	Footer         *FooterSpec    `json:"footer,omitempty"`
}

// Info is the metadata surfaced by registry queries.
type Info struct {
	ID          string `json:"mode_id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Cacheable   bool   `json:"cacheable"`
	Description string `json:"description"`
	Source      Source `json:"source"`
}

// Definition is one declarative mode.
type Definition struct {
	Info
	Content         ContentSpec               `json:"content"`
	Layout          LayoutSpec                `json:"layout"`
	LayoutOverrides map[string]LayoutOverride `json:"layout_overrides,omitempty"`
}

// ResolveLayout returns the layout for a target resolution, applying the
// matching "WxH" override if one exists.
func (d *Definition) ResolveLayout(key string) LayoutSpec {
	layout := d.Layout
	ov, ok := d.LayoutOverrides[key]
	if !ok {
		return layout
	}
	if ov.StatusBar != nil {
		layout.StatusBar = *ov.StatusBar
	}
	if len(ov.Body) > 0 {
		layout.Body = ov.Body
	}
	if ov.VerticalCenter != nil {
		layout.VerticalCenter = *ov.VerticalCenter
	}
	if ov.Footer != nil {
		layout.Footer = *ov.Footer
	}
	return layout
}

// ContentFn produces a content record for a native mode.
type ContentFn func(ctx context.Context, rc domain.RuntimeContext) (domain.Record, error)

// RenderFn renders a native mode to an exact-size 1-bit image.
type RenderFn func(rec domain.Record, sp domain.StatusParams, width, height int) (image.Image, error)

// NativeMode pairs hard-coded content and render functions with metadata.
type NativeMode struct {
	Info     Info
	Content  ContentFn
	Render   RenderFn
}
