package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// Bitmap is a packed 1-bit-per-pixel frame. Bit set means white, matching
// the e-ink panel convention where the background is 1 and ink is 0.
type Bitmap struct {
	W, H   int
	stride int
	bits   []byte
}

func NewBitmap(w, h int) *Bitmap {
	stride := (w + 7) / 8
	b := &Bitmap{W: w, H: h, stride: stride, bits: make([]byte, stride*h)}
	for i := range b.bits {
		b.bits[i] = 0xFF
	}
	return b
}

func (b *Bitmap) ColorModel() color.Model { return color.GrayModel }

func (b *Bitmap) Bounds() image.Rectangle { return image.Rect(0, 0, b.W, b.H) }

func (b *Bitmap) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return color.Gray{Y: 255}
	}
	if b.bits[y*b.stride+x/8]&(0x80>>uint(x%8)) != 0 {
		return color.Gray{Y: 255}
	}
	return color.Gray{Y: 0}
}

// SetInk paints or clears one pixel. Out-of-bounds writes are dropped.
func (b *Bitmap) SetInk(x, y int, ink bool) {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return
	}
	mask := byte(0x80) >> uint(x%8)
	if ink {
		b.bits[y*b.stride+x/8] &^= mask
	} else {
		b.bits[y*b.stride+x/8] |= mask
	}
}

// IsInk reports whether the pixel at (x, y) is black.
func (b *Bitmap) IsInk(x, y int) bool {
	return b.bits[y*b.stride+x/8]&(0x80>>uint(x%8)) == 0
}

// Packed returns the raw row-major 1bpp framebuffer bytes.
func (b *Bitmap) Packed() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// EncodeBMP writes the frame as a 1bpp BMP, the format the device firmware
// consumes directly. Rows are bottom-up and padded to 4-byte boundaries.
func (b *Bitmap) EncodeBMP(w io.Writer) error {
	rowSize := ((b.W + 31) / 32) * 4
	imageSize := rowSize * b.H
	const headerSize = 14 + 40 + 8 // file + info + 2-color palette
	fileSize := headerSize + imageSize

	header := make([]byte, headerSize)
	header[0], header[1] = 'B', 'M'
	putU32(header[2:], uint32(fileSize))
	putU32(header[10:], headerSize)
	putU32(header[14:], 40)
	putU32(header[18:], uint32(b.W))
	putU32(header[22:], uint32(b.H))
	header[26] = 1 // planes
	header[28] = 1 // bits per pixel
	putU32(header[34:], uint32(imageSize))
	// palette: index 0 black, index 1 white
	header[58], header[59], header[60] = 0xFF, 0xFF, 0xFF

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("encode bitmap bmp: %w", err)
	}
	row := make([]byte, rowSize)
	for y := b.H - 1; y >= 0; y-- {
		copy(row, b.bits[y*b.stride:y*b.stride+b.stride])
		for i := b.stride; i < rowSize; i++ {
			row[i] = 0
		}
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("encode bitmap bmp: %w", err)
		}
	}
	return nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Binarize converts any image to a 1-bit frame with a fixed luminance
// threshold at mid-gray.
func Binarize(src image.Image) *Bitmap {
	bounds := src.Bounds()
	out := NewBitmap(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(src.At(x, y)).(color.Gray)
			if g.Y < 128 {
				out.SetInk(x-bounds.Min.X, y-bounds.Min.Y, true)
			}
		}
	}
	return out
}

// EncodePNG writes the frame as a PNG for the persistent cache.
func (b *Bitmap) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, b); err != nil {
		return fmt.Errorf("encode bitmap png: %w", err)
	}
	return nil
}

// DecodePNG reads a cached PNG frame back into a bitmap.
func DecodePNG(r io.Reader) (*Bitmap, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode bitmap png: %w", err)
	}
	return Binarize(img), nil
}
