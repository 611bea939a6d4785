package sink

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/Skryldev/image-stream/config"
	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

// alphaCutoff is the alpha below which a pixel counts as transparent in the
// types that mark transparency with a reserved colour.
const alphaCutoff = 127

// Framebuffer stores the image in a display's native layout.
//
// Types without an alpha channel reserve one value for transparency when
// UseTransparency is set: RGB565 1, RGB24 (0,0,1), GRAYSCALE 1.  Real pixels
// with that value are nudged to the neighbouring black.  BINARY rows are
// padded to a multiple of eight pixels, most significant bit first, and a set
// bit is a dark pixel; with transparency, fully transparent pixels stay unset.
type Framebuffer struct {
	typ         config.ImageType
	transparent bool
	maxPixels   int

	width, height int
	stride        int
	buf           []byte
}

// NewFramebuffer validates d and returns an empty framebuffer.
func NewFramebuffer(d config.DisplayConfig, maxPixels int) (*Framebuffer, error) {
	if err := config.ValidateDisplay(d); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "framebuffer", err)
	}
	typ := config.ImageType(strings.ToUpper(string(d.ImageType)))
	return &Framebuffer{
		typ:         typ,
		transparent: d.UseTransparency || typ.Transparent(),
		maxPixels:   maxPixels,
	}, nil
}

var _ core.Sink = (*Framebuffer)(nil)

func (f *Framebuffer) SetSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return apperrors.New(apperrors.CategorySink, "framebuffer.size", apperrors.ErrInvalidDimensions)
	}
	if f.maxPixels > 0 && int64(width)*int64(height) > int64(f.maxPixels) {
		return apperrors.New(apperrors.CategorySink, "framebuffer.size",
			fmt.Errorf("%w: %dx%d > %d", apperrors.ErrCanvasTooLarge, width, height, f.maxPixels))
	}
	f.width, f.height = width, height
	f.stride = Stride(f.typ, width)
	f.buf = make([]byte, f.stride*height)
	if f.transparent && f.typ != config.ImageBinary && f.typ != config.ImageTransparentBinary {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.set(x, y, color.NRGBA{})
			}
		}
	}
	return nil
}

// Stride returns the bytes per row of a framebuffer of the given type.
func Stride(typ config.ImageType, width int) int {
	switch typ {
	case config.ImageBinary, config.ImageTransparentBinary:
		return (width + 7) / 8
	case config.ImageGrayscale:
		return width
	case config.ImageRGB565:
		return 2 * width
	case config.ImageRGB24:
		return 3 * width
	}
	return 4 * width
}

func (f *Framebuffer) Paint(r core.Rect) {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, f.width), min(r.Y+r.H, f.height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			f.set(x, y, r.Color)
		}
	}
}

func (f *Framebuffer) set(x, y int, c color.NRGBA) {
	row := f.buf[y*f.stride : (y+1)*f.stride]
	switch f.typ {
	case config.ImageBinary, config.ImageTransparentBinary:
		mask := byte(0x80) >> (x % 8)
		on := luma(c) < 128
		if f.transparent && c.A == 0 {
			on = false
		}
		if on {
			row[x/8] |= mask
		} else {
			row[x/8] &^= mask
		}
	case config.ImageGrayscale:
		g := luma(c)
		if f.transparent {
			if g == 1 {
				g = 0
			}
			if c.A < alphaCutoff {
				g = 1
			}
		}
		row[x] = g
	case config.ImageRGB565:
		v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
		if f.transparent {
			if v == 1 {
				v = 0
			}
			if c.A < alphaCutoff {
				v = 1
			}
		}
		row[2*x] = byte(v >> 8)
		row[2*x+1] = byte(v)
	case config.ImageRGB24:
		rr, gg, bb := c.R, c.G, c.B
		if f.transparent {
			if rr == 0 && gg == 0 && bb == 1 {
				bb = 0
			}
			if c.A < alphaCutoff {
				rr, gg, bb = 0, 0, 1
			}
		}
		row[3*x], row[3*x+1], row[3*x+2] = rr, gg, bb
	default:
		row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = c.R, c.G, c.B, c.A
	}
}

// At reads a pixel back, mapping reserved transparent values to a zero
// colour.  Channels lost to the layout come back quantised.
func (f *Framebuffer) At(x, y int) color.NRGBA {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return color.NRGBA{}
	}
	row := f.buf[y*f.stride : (y+1)*f.stride]
	switch f.typ {
	case config.ImageBinary, config.ImageTransparentBinary:
		if row[x/8]&(0x80>>(x%8)) != 0 {
			return color.NRGBA{A: 0xff}
		}
		if f.transparent {
			return color.NRGBA{}
		}
		return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	case config.ImageGrayscale:
		g := row[x]
		if f.transparent && g == 1 {
			return color.NRGBA{}
		}
		return color.NRGBA{R: g, G: g, B: g, A: 0xff}
	case config.ImageRGB565:
		v := uint16(row[2*x])<<8 | uint16(row[2*x+1])
		if f.transparent && v == 1 {
			return color.NRGBA{}
		}
		return color.NRGBA{
			R: uint8(v>>11) << 3,
			G: uint8(v>>5&0x3f) << 2,
			B: uint8(v&0x1f) << 3,
			A: 0xff,
		}
	case config.ImageRGB24:
		rr, gg, bb := row[3*x], row[3*x+1], row[3*x+2]
		if f.transparent && rr == 0 && gg == 0 && bb == 1 {
			return color.NRGBA{}
		}
		return color.NRGBA{R: rr, G: gg, B: bb, A: 0xff}
	}
	return color.NRGBA{R: row[4*x], G: row[4*x+1], B: row[4*x+2], A: row[4*x+3]}
}

// Bytes returns the raw framebuffer, rows of Stride bytes.
func (f *Framebuffer) Bytes() []byte { return f.buf }

// Size returns the framebuffer dimensions, zero before SetSize.
func (f *Framebuffer) Size() (int, int) { return f.width, f.height }

// Type returns the pixel layout.
func (f *Framebuffer) Type() config.ImageType { return f.typ }

// luma is the ITU-R 601 luminance the display conversion uses.
func luma(c color.NRGBA) uint8 {
	return uint8((int(c.R)*299 + int(c.G)*587 + int(c.B)*114) / 1000)
}
