// Package render turns a mode definition plus a content record into an
// exact-size 1-bit frame for the e-ink panel. Layouts are authored against
// the 400x300 reference screen; every fixed-pixel parameter is scaled to
// the target resolution before drawing.
package render

import (
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"

	"github.com/inksight/inksight-backend/internal/assets"
	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
)

// Heights below this the body is too cramped for side-by-side columns and
// two_column degrades to vertical stacking.
const compactHeightThreshold = 200

// minCenteredFontSize is the floor of the shrink-to-fit search for the
// single vertically-centered text body.
const minCenteredFontSize = 12

type Renderer struct {
	log *logger.Logger
	lib *assets.Library
}

func NewRenderer(log *logger.Logger, lib *assets.Library) (*Renderer, error) {
	if lib == nil {
		return nil, fmt.Errorf("asset library is required")
	}
	return &Renderer{log: log.With("service", "LayoutRenderer"), lib: lib}, nil
}

// Render draws one declarative mode. Width and height default to the
// reference screen when zero.
func (r *Renderer) Render(def *modes.Definition, content domain.Record, sp domain.StatusParams, width, height int) (*Bitmap, error) {
	if width <= 0 {
		width = config.ScreenWidth
	}
	if height <= 0 {
		height = config.ScreenHeight
	}
	layout := def.ResolveLayout(fmt.Sprintf("%dx%d", width, height))

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	c := newCanvas(dc, r.lib, content, width, height)

	r.drawStatusBar(c, layout.StatusBar, sp)

	body := layout.Body
	switch {
	case len(body) == 1 && body[0].Type == modes.BlockCenteredText && vcenterEnabled(&body[0]):
		r.renderCenteredText(c, &body[0], true)
	case layout.VerticalCenter:
		r.renderCenteredBody(c, body)
	default:
		for i := range body {
			if c.y >= c.footerTop-10*c.sy {
				break
			}
			r.renderBlock(c, &body[i])
		}
	}

	label := layout.Footer.Label
	if label == "" {
		label = def.ID
	}
	attribution := ""
	if layout.Footer.AttributionTemplate != "" {
		attribution = c.resolve(layout.Footer.AttributionTemplate)
	}
	r.drawFooter(c, layout.Footer, def.Icon, label, attribution)

	return Binarize(dc.Image()), nil
}

// renderCenteredBody measures the body on a throwaway context first, then
// replays it on the real canvas with the cursor offset so the whole block
// stack sits vertically centered in the body band.
func (r *Renderer) renderCenteredBody(c *canvas, body []modes.Block) {
	probe := *c
	probe.dc = gg.NewContext(c.w, c.h)
	probe.dc.SetRGB(0, 0, 0)
	for i := range body {
		if probe.y >= probe.footerTop-10*probe.sy {
			break
		}
		r.renderBlock(&probe, &body[i])
	}

	consumed := probe.y - c.statusBtm
	if pad := (c.footerTop - c.statusBtm - consumed) / 2; pad > 0 {
		c.y += pad
	}
	for i := range body {
		if c.y >= c.footerTop-10*c.sy {
			break
		}
		r.renderBlock(c, &body[i])
	}
}

// ── Canvas ───────────────────────────────────────────────────

// canvas carries the drawing cursor through the block tree. Column
// renderers copy it to get independent sub-cursors sharing one context.
type canvas struct {
	dc      *gg.Context
	lib     *assets.Library
	content domain.Record

	w, h       int
	sx, sy, s  float64
	y          float64
	xOff       float64
	availW     float64
	footerTop  float64
	statusBtm  float64
}

func newCanvas(dc *gg.Context, lib *assets.Library, content domain.Record, w, h int) *canvas {
	sx := float64(w) / float64(config.ScreenWidth)
	sy := float64(h) / float64(config.ScreenHeight)
	s := sx
	if sy < s {
		s = sy
	}
	// 36*sy puts the status band at 12% of height; short screens drop to
	// 10% to leave the body room.
	statusBtm := 36 * sy
	if h < compactHeightThreshold {
		statusBtm = 0.10 * float64(h)
	}
	c := &canvas{
		dc: dc, lib: lib, content: content,
		w: w, h: h, sx: sx, sy: sy, s: s,
		availW:    float64(w),
		footerTop: float64(h) - 30*s,
		statusBtm: statusBtm,
	}
	c.y = c.statusBtm
	return c
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// resolve expands {field} placeholders against the content record.
func (c *canvas) resolve(template string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		val, ok := c.content[key]
		if !ok {
			return ""
		}
		if items, ok := val.([]any); ok {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				parts = append(parts, fmt.Sprint(it))
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprint(val)
	})
}

func (c *canvas) field(name string) any {
	return c.content[name]
}

func (c *canvas) fieldString(name string) string {
	val, ok := c.content[name]
	if !ok || val == nil {
		return ""
	}
	return fmt.Sprint(val)
}

// drawText draws a single line with its top edge at (x, y).
func (c *canvas) drawText(face font.Face, text string, x, y float64) {
	c.dc.SetFontFace(face)
	ascent := float64(face.Metrics().Ascent.Round())
	c.dc.DrawString(text, x, y+ascent)
}

func (c *canvas) measure(face font.Face, text string) float64 {
	c.dc.SetFontFace(face)
	w, _ := c.dc.MeasureString(text)
	return w
}

// wrapText breaks text per rune so CJK paragraphs wrap cleanly.
func (c *canvas) wrapText(face font.Face, text string, maxW float64) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		current := ""
		for _, r := range paragraph {
			test := current + string(r)
			if c.measure(face, test) > maxW {
				if current != "" {
					lines = append(lines, current)
				}
				current = string(r)
			} else {
				current = test
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

func (c *canvas) line(x0, y0, x1, y1 float64, width int, dashed bool) {
	if width <= 0 {
		width = 1
	}
	c.dc.SetLineWidth(float64(width) * c.s)
	if dashed {
		c.dc.SetDash(4*c.s, 4*c.s)
	}
	c.dc.DrawLine(x0, y0, x1, y1)
	c.dc.Stroke()
	if dashed {
		c.dc.SetDash()
	}
}

func (c *canvas) pasteIcon(icon image.Image, x, y float64) {
	if icon == nil {
		return
	}
	c.dc.DrawImage(icon, int(x), int(y))
}

// ── Status strip & footer ────────────────────────────────────

func (r *Renderer) drawStatusBar(c *canvas, sb modes.StatusBarSpec, sp domain.StatusParams) {
	faceCN := c.lib.Face("noto_serif_extralight", 15*c.s)
	faceEN := c.lib.Face("inter_medium", 12*c.s)

	y := 10 * c.sy
	x := 12 * c.sx
	if sp.TimeStr != "" {
		c.drawText(faceCN, sp.TimeStr, x, y)
		x += c.measure(faceCN, sp.TimeStr) + 8*c.sx
	}
	c.drawText(faceCN, sp.DateStr, x, y)

	// Compact screens drop the weather segment to keep the strip legible.
	if sp.WeatherStr != "" && c.h >= compactHeightThreshold {
		wx := float64(c.w)/2 - 28*c.sx
		if icon := c.lib.WeatherIcon(sp.WeatherCode, int(16*c.s)); sp.WeatherCode >= 0 && icon != nil {
			c.pasteIcon(icon, wx, y-1*c.sy)
			c.drawText(faceCN, sp.WeatherStr, wx+18*c.sx, y)
		} else {
			c.drawText(faceCN, sp.WeatherStr, wx, y)
		}
	}

	battText := fmt.Sprintf("%d%%", sp.BatteryPct)
	battW := c.measure(faceEN, battText)
	bx := float64(c.w) - 12*c.sx - battW - 6*c.sx - 26*c.s
	by := y + 1*c.sy

	c.dc.SetLineWidth(1)
	c.dc.DrawRectangle(bx, by, 22*c.s, 11*c.s)
	c.dc.Stroke()
	c.dc.DrawRectangle(bx+22*c.s, by+3*c.s, 3*c.s, 6*c.s)
	c.dc.Fill()
	fillW := 18 * c.s * float64(sp.BatteryPct) / 100
	if fillW > 0 {
		c.dc.DrawRectangle(bx+2*c.s, by+2*c.s, fillW, 8*c.s)
		c.dc.Fill()
	}
	c.drawText(faceEN, battText, bx+28*c.s, y)

	lineY := c.statusBtm - 4*c.sy
	c.line(0, lineY, float64(c.w), lineY, sb.LineWidth, sb.Dashed)
}

func (r *Renderer) drawFooter(c *canvas, ft modes.FooterSpec, icon, label, attribution string) {
	yLine := c.footerTop
	c.line(0, yLine, float64(c.w), yLine, ft.LineWidth, ft.Dashed)

	faceLabel := c.lib.Face("inter_medium", 10*c.s)
	attrSize := ft.FontSize
	if attrSize == 0 {
		attrSize = 12
	}
	var faceAttr font.Face
	if attribution != "" && assets.HasCJK(attribution) {
		faceAttr = c.lib.Face("noto_serif_light", attrSize*c.s)
	} else {
		faceAttr = c.lib.Face("lora_regular", attrSize*c.s)
	}

	iconX := 12 * c.sx
	labelX := iconX
	if img := c.lib.Icon(icon, int(12*c.s)); img != nil {
		c.pasteIcon(img, iconX, yLine+9*c.s)
		labelX += 15 * c.s
	}
	c.drawText(faceLabel, strings.ToUpper(label), labelX, yLine+9*c.s)

	if attribution != "" {
		aw := c.measure(faceAttr, attribution)
		c.drawText(faceAttr, attribution, float64(c.w)-12*c.sx-aw, yLine+9*c.s)
	}
}

func vcenterEnabled(b *modes.Block) bool {
	return b.VerticalCenter == nil || *b.VerticalCenter
}
