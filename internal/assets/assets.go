// Package assets loads the TTF fonts and monochrome PNG icons used by the
// layout renderer. Parsed fonts and sized faces are cached; a missing font
// degrades to the basicfont fallback with a single warning per key.
package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/logger"
)

type faceKey struct {
	name string
	size float64
}

type Library struct {
	log      *logger.Logger
	fontsDir string
	iconsDir string

	mu     sync.Mutex
	fonts  map[string]*truetype.Font
	faces  map[faceKey]font.Face
	icons  map[string]image.Image
	warned map[string]bool
}

func NewLibrary(log *logger.Logger, fontsDir string) *Library {
	return &Library{
		log:      log.With("service", "AssetLibrary"),
		fontsDir: fontsDir,
		iconsDir: filepath.Join(fontsDir, "icons"),
		fonts:    make(map[string]*truetype.Font),
		faces:    make(map[faceKey]font.Face),
		icons:    make(map[string]image.Image),
		warned:   make(map[string]bool),
	}
}

// Face resolves a logical font key to a sized face. Unknown keys and
// missing files fall back to the builtin bitmap face.
func (l *Library) Face(key string, size float64) font.Face {
	name, ok := config.Fonts[key]
	if !ok {
		return basicfont.Face7x13
	}
	return l.FaceByName(name, size)
}

// FaceByName loads a face directly by TTF file name.
func (l *Library) FaceByName(name string, size float64) font.Face {
	l.mu.Lock()
	defer l.mu.Unlock()

	fk := faceKey{name: name, size: size}
	if face, ok := l.faces[fk]; ok {
		return face
	}

	tf, ok := l.fonts[name]
	if !ok {
		raw, err := os.ReadFile(filepath.Join(l.fontsDir, name))
		if err != nil {
			l.warnOnce(name)
			return basicfont.Face7x13
		}
		tf, err = truetype.Parse(raw)
		if err != nil {
			l.warnOnce(name)
			return basicfont.Face7x13
		}
		l.fonts[name] = tf
	}

	face := truetype.NewFace(tf, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	l.faces[fk] = face
	return face
}

// FaceForText picks a face for the given text, swapping Latin-only fonts
// for a CJK-capable serif when the text contains CJK characters.
func (l *Library) FaceForText(key, text string, size float64) font.Face {
	if HasCJK(text) {
		key = PickCJKFont(key)
	}
	return l.Face(key, size)
}

func (l *Library) warnOnce(name string) {
	if l.warned[name] {
		return
	}
	l.warned[name] = true
	l.log.Warn("Font file missing, using fallback face", "font", name)
}

// Icon loads a PNG icon converted to an opaque-black-on-transparent mask,
// resized to size x size pixels. Returns nil when the icon is absent.
func (l *Library) Icon(name string, size int) image.Image {
	l.mu.Lock()
	defer l.mu.Unlock()

	cacheKey := name + "@" + strconv.Itoa(size)
	if img, ok := l.icons[cacheKey]; ok {
		return img
	}

	f, err := os.Open(filepath.Join(l.iconsDir, name+".png"))
	if err != nil {
		return nil
	}
	defer f.Close()
	src, err := png.Decode(f)
	if err != nil {
		return nil
	}

	mask := toMonoMask(src, size)
	l.icons[cacheKey] = mask
	return mask
}

// WeatherIcon resolves a WMO weather code to its icon image.
func (l *Library) WeatherIcon(code, size int) image.Image {
	name, ok := config.WeatherIconMap[code]
	if !ok {
		name = "cloud"
	}
	return l.Icon(name, size)
}

func toMonoMask(src image.Image, size int) image.Image {
	if size > 0 && (src.Bounds().Dx() != size || src.Bounds().Dy() != size) {
		dst := image.NewNRGBA(image.Rect(0, 0, size, size))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
		src = dst
	}
	b := src.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := src.At(x, y).RGBA()
			if a > 0x8000 {
				out.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return out
}

// HasCJK reports whether text contains CJK ideographs.
func HasCJK(text string) bool {
	for _, r := range text {
		if (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF) {
			return true
		}
	}
	return false
}

// PickCJKFont maps Latin-only font keys to a CJK-capable serif variant.
func PickCJKFont(key string) string {
	switch key {
	case "lora_regular", "lora_bold", "inter_medium":
		return "noto_serif_light"
	}
	return key
}
