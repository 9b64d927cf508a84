package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/inksight/inksight-backend/internal/assets"
	"github.com/inksight/inksight-backend/internal/modes"
)

func (r *Renderer) renderBlock(c *canvas, b *modes.Block) {
	switch b.Type {
	case modes.BlockCenteredText:
		r.renderCenteredText(c, b, false)
	case modes.BlockText:
		r.renderText(c, b)
	case modes.BlockBigNumber:
		r.renderBigNumber(c, b)
	case modes.BlockKeyValue:
		r.renderKeyValue(c, b)
	case modes.BlockIconText:
		r.renderIconText(c, b)
	case modes.BlockSeparator:
		r.renderSeparator(c, b)
	case modes.BlockSpacer:
		c.y += defFloat(b.Height, 12) * c.sy
	case modes.BlockSection:
		r.renderSection(c, b)
	case modes.BlockGroup, modes.BlockVerticalStack:
		r.renderStack(c, b)
	case modes.BlockTwoColumn:
		r.renderTwoColumn(c, b)
	case modes.BlockConditional:
		r.renderConditional(c, b)
	case modes.BlockList:
		r.renderList(c, b)
	case modes.BlockIconList:
		r.renderIconList(c, b)
	case modes.BlockProgressBar:
		r.renderProgressBar(c, b)
	case modes.BlockTempChart:
		r.renderTempChart(c, b)
	case modes.BlockWeatherIcon:
		r.renderWeatherIcon(c, b)
	case modes.BlockImage:
		r.renderImage(c, b)
	default:
		// Unknown tags are rejected at load time; this is unreachable for
		// registered definitions.
		r.log.Warn("Skipping unknown block type", "type", b.Type)
	}
}

func (r *Renderer) renderChildren(c *canvas, children []modes.Block) {
	for i := range children {
		if c.y >= c.footerTop-10*c.sy {
			return
		}
		r.renderBlock(c, &children[i])
	}
}

// ── Text blocks ──────────────────────────────────────────────

func (r *Renderer) renderCenteredText(c *canvas, b *modes.Block, useFullBody bool) {
	fieldName := b.Field
	if fieldName == "" {
		fieldName = "text"
	}
	text := c.fieldString(fieldName)
	if text == "" {
		return
	}

	fontSize := defFloat(b.FontSize, 16)
	lineSpacing := defFloat(b.LineSpacing, 8)
	maxRatio := defFloat(b.MaxWidthRatio, 0.88)
	maxW := c.availW * maxRatio

	face := r.faceFor(c, b, text, "noto_serif_light", fontSize)
	lines := c.wrapText(face, text, maxW)
	lineH := (fontSize + lineSpacing) * c.s
	totalH := float64(len(lines)) * lineH

	yStart := c.y
	if useFullBody && vcenterEnabled(b) {
		bodyH := c.footerTop - c.statusBtm

		// Shrink the font until the wrapped paragraph fits the band.
		for size := fontSize; totalH > bodyH && size > minCenteredFontSize; {
			size -= 2
			if size < minCenteredFontSize {
				size = minCenteredFontSize
			}
			face = r.faceFor(c, b, text, "noto_serif_light", size)
			lines = c.wrapText(face, text, maxW)
			lineH = (size + lineSpacing) * c.s
			totalH = float64(len(lines)) * lineH
		}

		yStart = c.statusBtm + (bodyH-totalH)/2
		if yStart < c.statusBtm {
			yStart = c.statusBtm
		}
	}

	for i, line := range lines {
		top := yStart + float64(i)*lineH
		if top+lineH > c.footerTop {
			break
		}
		lw := c.measure(face, line)
		x := c.xOff + (c.availW-lw)/2
		c.drawText(face, line, x, top)
	}
	c.y = yStart + totalH + 4*c.sy
}

func (r *Renderer) renderText(c *canvas, b *modes.Block) {
	var text string
	switch {
	case b.Field != "":
		text = c.fieldString(b.Field)
	case b.Template != "":
		text = c.resolve(b.Template)
	default:
		return
	}
	if text == "" {
		return
	}

	fontSize := defFloat(b.FontSize, 14)
	face := r.faceFor(c, b, text, "noto_serif_regular", fontSize)
	marginX := defFloat(b.MarginX, 24) * c.sx
	maxLines := b.MaxLines
	if maxLines == 0 {
		maxLines = 3
	}
	maxW := c.availW - marginX*2
	lines := c.wrapText(face, text, maxW)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}

	for _, line := range lines {
		if c.y >= c.footerTop-10*c.sy {
			break
		}
		lw := c.measure(face, line)
		var x float64
		switch b.Align {
		case "left":
			x = c.xOff + marginX
		case "right":
			x = c.xOff + c.availW - marginX - lw
		default:
			x = c.xOff + (c.availW-lw)/2
		}
		c.drawText(face, line, x, c.y)
		c.y += (fontSize + 6) * c.s
	}
}

func (r *Renderer) renderBigNumber(c *canvas, b *modes.Block) {
	text := c.fieldString(b.Field)
	if text == "" {
		return
	}
	fontSize := defFloat(b.FontSize, 48)
	face := r.faceFor(c, b, text, "noto_serif_bold", fontSize)
	lw := c.measure(face, text)
	c.drawText(face, text, c.xOff+(c.availW-lw)/2, c.y)
	c.y += (fontSize + 4) * c.s

	if b.Label != "" {
		label := c.resolve(b.Label)
		labelFace := c.lib.FaceForText("noto_serif_light", label, 12*c.s)
		llw := c.measure(labelFace, label)
		c.drawText(labelFace, label, c.xOff+(c.availW-llw)/2, c.y)
		c.y += 18 * c.s
	}
}

func (r *Renderer) renderKeyValue(c *canvas, b *modes.Block) {
	label := c.resolve(b.Label)
	value := c.fieldString(b.Field)
	if label == "" && value == "" {
		return
	}
	fontSize := defFloat(b.FontSize, 13)
	marginX := defFloat(b.MarginX, 24) * c.sx
	labelFace := c.lib.FaceForText(defString(b.Font, "noto_serif_regular"), label, fontSize*c.s)
	valueFace := c.lib.FaceForText(defString(b.Font, "noto_serif_regular"), value, fontSize*c.s)

	c.drawText(labelFace, label, c.xOff+marginX, c.y)
	vw := c.measure(valueFace, value)
	c.drawText(valueFace, value, c.xOff+c.availW-marginX-vw, c.y)
	c.y += (fontSize + 8) * c.s
}

func (r *Renderer) renderIconText(c *canvas, b *modes.Block) {
	var text string
	if b.Field != "" {
		text = c.fieldString(b.Field)
	} else {
		text = c.resolve(b.Text)
	}
	if text == "" {
		return
	}

	fontSize := defFloat(b.FontSize, 14)
	iconSize := defFloat(b.IconSize, 12)
	marginX := defFloat(b.MarginX, 24) * c.sx
	face := r.faceFor(c, b, text, "noto_serif_regular", fontSize)

	x := c.xOff + marginX
	if b.Icon != "" {
		if icon := c.lib.Icon(b.Icon, int(iconSize*c.s)); icon != nil {
			c.pasteIcon(icon, x, c.y)
			x += (iconSize + 4) * c.s
		}
	}
	c.drawText(face, text, x, c.y)
	c.y += (fontSize + 6) * c.s
}

// ── Structure blocks ─────────────────────────────────────────

func (r *Renderer) renderSeparator(c *canvas, b *modes.Block) {
	marginX := defFloat(b.MarginX, 24) * c.sx
	switch b.Style {
	case "short":
		w := defFloat(b.Width, 60) * c.sx
		x0 := c.xOff + (c.availW-w)/2
		c.line(x0, c.y, x0+w, c.y, b.LineWidth, false)
	case "dashed":
		c.line(c.xOff+marginX, c.y, c.xOff+c.availW-marginX, c.y, b.LineWidth, true)
	default:
		c.line(c.xOff+marginX, c.y, c.xOff+c.availW-marginX, c.y, b.LineWidth, false)
	}
	c.y += 8*c.sy + float64(maxInt(b.LineWidth, 1))
}

func (r *Renderer) renderSection(c *canvas, b *modes.Block) {
	title := c.resolve(b.Title)
	titleSize := defFloat(b.TitleFontSize, 14)
	face := c.lib.FaceForText(defString(b.TitleFont, "noto_serif_regular"), title, titleSize*c.s)

	x := c.xOff + 24*c.sx
	if b.Icon != "" {
		if icon := c.lib.Icon(b.Icon, int(12*c.s)); icon != nil {
			c.pasteIcon(icon, x, c.y)
			x += 16 * c.s
		}
	}
	c.drawText(face, title, x, c.y)
	c.y += (titleSize + 6) * c.s

	r.renderChildren(c, b.Children)
}

func (r *Renderer) renderStack(c *canvas, b *modes.Block) {
	spacing := b.Spacing * c.sy
	for i := range b.Children {
		if c.y >= c.footerTop-10*c.sy {
			return
		}
		r.renderBlock(c, &b.Children[i])
		c.y += spacing
	}
}

func (r *Renderer) renderTwoColumn(c *canvas, b *modes.Block) {
	if c.h < compactHeightThreshold {
		r.renderChildren(c, b.Left)
		r.renderChildren(c, b.Right)
		return
	}

	leftRatio := defFloat(b.LeftWidth, 0.5)
	gap := defFloat(b.Gap, 12) * c.sx
	leftW := c.availW*leftRatio - gap/2
	rightW := c.availW - leftW - gap

	left := *c
	left.availW = leftW
	r.renderChildren(&left, b.Left)

	right := *c
	right.xOff = c.xOff + leftW + gap
	right.availW = rightW
	r.renderChildren(&right, b.Right)

	c.y = left.y
	if right.y > c.y {
		c.y = right.y
	}
}

func (r *Renderer) renderConditional(c *canvas, b *modes.Block) {
	value := c.field(b.Field)
	for i := range b.Conditions {
		cond := &b.Conditions[i]
		if matchCondition(cond, value) {
			r.renderChildren(c, cond.Children)
			return
		}
	}
	r.renderChildren(c, b.FallbackChildren)
}

func matchCondition(cond *modes.Condition, value any) bool {
	switch cond.Op {
	case "", "exists":
		return truthy(value)
	case "eq":
		if toFloat(value) == toFloat(cond.Value) && isNumeric(value) && isNumeric(cond.Value) {
			return true
		}
		return fmt.Sprint(value) == fmt.Sprint(cond.Value)
	case "gt":
		return toFloat(value) > toFloat(cond.Value)
	case "lt":
		return toFloat(value) < toFloat(cond.Value)
	case "gte":
		return toFloat(value) >= toFloat(cond.Value)
	case "lte":
		return toFloat(value) <= toFloat(cond.Value)
	case "len_eq":
		n, ok := lengthOf(value)
		return ok && float64(n) == toFloat(cond.Value)
	case "len_gt":
		n, ok := lengthOf(value)
		return ok && float64(n) > toFloat(cond.Value)
	}
	return false
}

// ── List blocks ──────────────────────────────────────────────

func (r *Renderer) renderList(c *canvas, b *modes.Block) {
	items := toList(c.field(b.Field))
	if items == nil {
		return
	}

	maxItems := b.MaxItems
	if maxItems == 0 {
		maxItems = 8
	}
	template := defString(b.ItemTemplate, "{name}")
	fontSize := defFloat(b.FontSize, 13)
	spacing := defFloat(b.ItemSpacing, 16) * c.sy
	marginX := defFloat(b.MarginX, 32) * c.sx
	face := c.lib.Face(assets.PickCJKFont(defString(b.Font, "noto_serif_regular")), fontSize*c.s)

	shown := items
	if len(shown) > maxItems {
		shown = shown[:maxItems]
	}
	for i, item := range shown {
		if c.y >= c.footerTop-10*c.sy {
			return
		}
		text := renderItemText(item, template, i, b.Numbered)

		maxTextW := c.availW - marginX*2
		if b.RightField != "" {
			maxTextW = c.availW - marginX - 80*c.sx
		}
		lines := c.wrapText(face, text, maxTextW)
		if len(lines) > 0 {
			if b.Align == "center" {
				lw := c.measure(face, lines[0])
				c.drawText(face, lines[0], c.xOff+(c.availW-lw)/2, c.y)
			} else {
				c.drawText(face, lines[0], c.xOff+marginX, c.y)
			}
		}

		if b.RightField != "" {
			if m, ok := toMap(item); ok {
				if rv := fmt.Sprint(m[b.RightField]); rv != "" && m[b.RightField] != nil {
					c.drawText(face, rv, c.xOff+c.availW-80*c.sx, c.y)
				}
			}
		}
		c.y += spacing
	}

	if rest := len(items) - maxItems; rest > 0 && c.y < c.footerTop-10*c.sy {
		more := fmt.Sprintf("+%d more", rest)
		moreFace := c.lib.Face("lora_regular", (fontSize-2)*c.s)
		c.drawText(moreFace, more, c.xOff+marginX, c.y)
		c.y += spacing
	}
}

func (r *Renderer) renderIconList(c *canvas, b *modes.Block) {
	items := toList(c.field(b.Field))
	if items == nil {
		return
	}
	maxItems := b.MaxItems
	if maxItems == 0 {
		maxItems = 6
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	fontSize := defFloat(b.FontSize, 13)
	iconSize := defFloat(b.IconSize, 12)
	spacing := defFloat(b.ItemSpacing, 18) * c.sy
	marginX := defFloat(b.MarginX, 28) * c.sx
	template := defString(b.ItemTemplate, "{name}")
	iconField := defString(b.IconField, "icon")
	face := c.lib.Face(assets.PickCJKFont(defString(b.Font, "noto_serif_regular")), fontSize*c.s)

	for i, item := range items {
		if c.y >= c.footerTop-10*c.sy {
			return
		}
		x := c.xOff + marginX
		if m, ok := toMap(item); ok {
			if iconName := fmt.Sprint(m[iconField]); m[iconField] != nil && iconName != "" {
				if icon := c.lib.Icon(iconName, int(iconSize*c.s)); icon != nil {
					c.pasteIcon(icon, x, c.y)
				}
			}
		}
		x += (iconSize + 6) * c.s
		text := renderItemText(item, template, i, false)
		c.drawText(face, text, x, c.y)
		c.y += spacing
	}
}

// ── Data blocks ──────────────────────────────────────────────

func (r *Renderer) renderProgressBar(c *canvas, b *modes.Block) {
	value := toFloat(c.field(b.Field))
	maxVal := defFloat(b.MaxValue, 100)
	if maxVal <= 0 {
		maxVal = 100
	}
	pct := value / maxVal
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}

	marginX := defFloat(b.MarginX, 28) * c.sx
	barH := defFloat(b.Height, 10) * c.sy
	barW := c.availW - marginX*2
	if b.BarWidth > 0 && b.BarWidth <= 1 {
		barW = c.availW * b.BarWidth
	}

	if b.ShowLabel && b.Label != "" {
		label := c.resolve(b.Label)
		face := c.lib.FaceForText("noto_serif_regular", label, 12*c.s)
		c.drawText(face, label, c.xOff+marginX, c.y)
		pctText := fmt.Sprintf("%.1f%%", pct*100)
		pctFace := c.lib.Face("inter_medium", 11*c.s)
		pw := c.measure(pctFace, pctText)
		c.drawText(pctFace, pctText, c.xOff+c.availW-marginX-pw, c.y)
		c.y += 17 * c.s
	}

	x := c.xOff + marginX
	c.dc.SetLineWidth(1)
	c.dc.DrawRectangle(x, c.y, barW, barH)
	c.dc.Stroke()
	if fill := (barW - 2) * pct; fill > 0 {
		c.dc.DrawRectangle(x+1, c.y+1, fill, barH-2)
		c.dc.Fill()
	}
	c.y += barH + 8*c.sy
}

func (r *Renderer) renderTempChart(c *canvas, b *modes.Block) {
	fieldName := defString(b.Field, "forecast")
	items := toList(c.field(fieldName))
	if len(items) == 0 {
		return
	}
	days := b.Days
	if days == 0 {
		days = 3
	}
	if len(items) > days {
		items = items[:days]
	}

	face := c.lib.Face("noto_serif_regular", 12*c.s)
	faceSmall := c.lib.Face("inter_medium", 11*c.s)
	colW := (c.availW - 48*c.sx) / float64(len(items))
	x0 := c.xOff + 24*c.sx

	chartH := 56 * c.sy
	minT, maxT := chartRange(items)
	span := maxT - minT
	if span < 1 {
		span = 1
	}
	plotTop := c.y + 18*c.s

	type pt struct{ x, yMax, yMin float64 }
	pts := make([]pt, 0, len(items))
	for i, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		cx := x0 + colW*float64(i) + colW/2
		hi := toFloat(m["temp_max"])
		lo := toFloat(m["temp_min"])
		pts = append(pts, pt{
			x:    cx,
			yMax: plotTop + (maxT-hi)/span*chartH,
			yMin: plotTop + (maxT-lo)/span*chartH,
		})

		day := fmt.Sprint(m["day"])
		dw := c.measure(face, day)
		c.drawText(face, day, cx-dw/2, c.y)

		rangeText := fmt.Sprintf("%v/%v°", m["temp_min"], m["temp_max"])
		rw := c.measure(faceSmall, rangeText)
		c.drawText(faceSmall, rangeText, cx-rw/2, plotTop+chartH+6*c.sy)
	}

	c.dc.SetLineWidth(1.5 * c.s)
	for i := 1; i < len(pts); i++ {
		c.dc.DrawLine(pts[i-1].x, pts[i-1].yMax, pts[i].x, pts[i].yMax)
		c.dc.Stroke()
		c.dc.DrawLine(pts[i-1].x, pts[i-1].yMin, pts[i].x, pts[i].yMin)
		c.dc.Stroke()
	}
	for _, p := range pts {
		c.dc.DrawCircle(p.x, p.yMax, 2*c.s)
		c.dc.Fill()
		c.dc.DrawCircle(p.x, p.yMin, 2*c.s)
		c.dc.Stroke()
	}

	c.y = plotTop + chartH + 24*c.sy
}

func (r *Renderer) renderWeatherIcon(c *canvas, b *modes.Block) {
	fieldName := defString(b.Field, "today_code")
	code := int(toFloat(c.field(fieldName)))
	size := defFloat(b.IconSize, 48)
	icon := c.lib.WeatherIcon(code, int(size*c.s))
	if icon == nil {
		return
	}
	c.pasteIcon(icon, c.xOff+(c.availW-size*c.s)/2, c.y)
	c.y += (size + 8) * c.s
}

func (r *Renderer) renderImage(c *canvas, b *modes.Block) {
	imgW := defFloat(b.ImgWidth, 240) * c.s
	imgH := defFloat(b.ImgHeight, 180) * c.s
	x := c.xOff + (c.availW-imgW)/2

	fieldName := defString(b.Field, "image_b64")
	if img := decodeContentImage(c.fieldString(fieldName)); img != nil {
		scaled := scaleToFit(img, int(imgW), int(imgH))
		mono := Binarize(scaled)
		drawBitmap(c, mono, int(x), int(c.y))
		c.y += imgH + 8*c.sy
		return
	}

	// Placeholder: bordered frame with the title above a centered
	// unavailable caption.
	c.dc.SetLineWidth(1)
	c.dc.DrawRectangle(x, c.y, imgW, imgH)
	c.dc.Stroke()
	title := c.fieldString(defString(b.URLField, "artwork_title"))
	if title == "" {
		title = c.fieldString("artwork_title")
	}
	if title != "" {
		face := c.lib.FaceForText("noto_serif_light", title, 16*c.s)
		tw := c.measure(face, title)
		c.drawText(face, title, x+(imgW-tw)/2, c.y+imgH/2-24*c.s)
	}
	caption := "UNAVAILABLE"
	capFace := c.lib.Face("inter_medium", 11*c.s)
	cw := c.measure(capFace, caption)
	c.drawText(capFace, caption, x+(imgW-cw)/2, c.y+imgH/2)
	c.y += imgH + 8*c.sy
}

// ── Helpers ──────────────────────────────────────────────────

func (r *Renderer) faceFor(c *canvas, b *modes.Block, text, defaultKey string, size float64) font.Face {
	if b.FontName != "" {
		name := b.FontName
		if assets.HasCJK(text) && !strings.Contains(name, "Noto") {
			name = "NotoSerifSC-Light.ttf"
		}
		return c.lib.FaceByName(name, size*c.s)
	}
	return c.lib.FaceForText(defString(b.Font, defaultKey), text, size*c.s)
}

func scaleToFit(src image.Image, w, h int) image.Image {
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, xdraw.Over, nil)
	return dst
}

func decodeContentImage(b64 string) image.Image {
	if b64 == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	return img
}

func drawBitmap(c *canvas, bm *Bitmap, ox, oy int) {
	for y := 0; y < bm.H; y++ {
		for x := 0; x < bm.W; x++ {
			if bm.IsInk(x, y) {
				c.dc.SetPixel(ox+x, oy+y)
			}
		}
	}
}

func renderItemText(item any, template string, index int, numbered bool) string {
	var text string
	if m, ok := toMap(item); ok {
		text = template
		for k, v := range m {
			text = strings.ReplaceAll(text, "{"+k+"}", fmt.Sprint(v))
		}
		text = strings.ReplaceAll(text, "{_value}", fmt.Sprint(item))
	} else {
		text = fmt.Sprint(item)
		if strings.Contains(template, "{_value}") {
			text = strings.ReplaceAll(template, "{_value}", fmt.Sprint(item))
		}
	}
	if numbered {
		text = fmt.Sprintf("%d. %s", index+1, text)
	}
	return strings.ReplaceAll(text, "{index}", strconv.Itoa(index+1))
}

func chartRange(items []any) (minT, maxT float64) {
	minT, maxT = 1e9, -1e9
	for _, item := range items {
		if m, ok := toMap(item); ok {
			if lo := toFloat(m["temp_min"]); lo < minT {
				minT = lo
			}
			if hi := toFloat(m["temp_max"]); hi > maxT {
				maxT = hi
			}
		}
	}
	if minT > maxT {
		minT, maxT = 0, 1
	}
	return minT, maxT
}

func toList(v any) []any {
	switch items := v.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out
	case []string:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out
	}
	return nil
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	return true
}

func lengthOf(v any) (int, bool) {
	switch val := v.(type) {
	case string:
		return len([]rune(val)), true
	case []any:
		return len(val), true
	case []map[string]any:
		return len(val), true
	}
	return 0, false
}

func defFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func defString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
