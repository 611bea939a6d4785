// Package sink provides core.Sink implementations: an in-memory canvas, a
// display framebuffer, and a scaling adapter in front of either.
package sink

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// Canvas paints decoded regions into an *image.NRGBA.  Pixels not painted yet
// stay fully transparent.
type Canvas struct {
	img       *image.NRGBA
	maxPixels int
	painted   int64
}

// NewCanvas returns a canvas that refuses images above maxPixels (0 = no
// limit).
func NewCanvas(maxPixels int) *Canvas {
	return &Canvas{maxPixels: maxPixels}
}

var _ core.Sink = (*Canvas)(nil)

func (c *Canvas) SetSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return apperrors.New(apperrors.CategorySink, "canvas.size", apperrors.ErrInvalidDimensions)
	}
	if c.maxPixels > 0 && int64(width)*int64(height) > int64(c.maxPixels) {
		return apperrors.New(apperrors.CategorySink, "canvas.size",
			fmt.Errorf("%w: %dx%d > %d", apperrors.ErrCanvasTooLarge, width, height, c.maxPixels))
	}
	c.img = image.NewNRGBA(image.Rect(0, 0, width, height))
	c.painted = 0
	return nil
}

// Paint fills r with its colour.  The NRGBA value is stored as is, without
// the premultiplied round trip image/draw would make.
func (c *Canvas) Paint(r core.Rect) {
	if c.img == nil {
		return
	}
	b := r.Bounds().Intersect(c.img.Bounds())
	if b.Empty() {
		return
	}
	px := [4]uint8{r.Color.R, r.Color.G, r.Color.B, r.Color.A}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := c.img.Pix[c.img.PixOffset(b.Min.X, y):c.img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			copy(row[i:i+4], px[:])
		}
	}
	c.painted += int64(b.Dx() * b.Dy())
}

// Image returns the canvas, nil before the size is known.
func (c *Canvas) Image() *image.NRGBA { return c.img }

// Painted returns how many pixel writes have been made, counting overdraw.
func (c *Canvas) Painted() int64 { return c.painted }

// Resized returns a bilinear-scaled copy of the canvas.  Pass 0 for either
// axis to keep the aspect ratio.
func (c *Canvas) Resized(width, height int) (*image.NRGBA, error) {
	if c.img == nil {
		return nil, apperrors.New(apperrors.CategorySink, "canvas.resize", apperrors.ErrEmptyInput)
	}
	srcB := c.img.Bounds()
	dstW, dstH := utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), width, height)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategorySink, "canvas.resize", apperrors.ErrInvalidDimensions)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), c.img, srcB, xdraw.Src, nil)
	return dst, nil
}
