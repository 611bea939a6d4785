package sink

import (
	"github.com/Skryldev/image-stream/core"
	"github.com/Skryldev/image-stream/utils"
)

// Scaled fits the image into a box before it reaches the wrapped sink, using
// nearest-neighbour sampling: every target pixel takes the colour of the
// source pixel it samples, so the decoder's regions map straight through.
type Scaled struct {
	dst        core.Sink
	maxW, maxH int

	srcW, srcH int
	w, h       int
}

// NewScaled wraps dst.  A zero bound leaves that axis free; both zero passes
// the image through unscaled.
func NewScaled(dst core.Sink, maxW, maxH int) *Scaled {
	return &Scaled{dst: dst, maxW: maxW, maxH: maxH}
}

var _ core.Sink = (*Scaled)(nil)

func (s *Scaled) SetSize(width, height int) error {
	s.srcW, s.srcH = width, height
	s.w, s.h = utils.FitDimensions(width, height, s.maxW, s.maxH)
	return s.dst.SetSize(s.w, s.h)
}

// Size returns the target size, zero before SetSize.
func (s *Scaled) Size() (int, int) { return s.w, s.h }

func (s *Scaled) Paint(r core.Rect) {
	if s.srcW == 0 || s.srcH == 0 {
		return
	}
	// Target pixel t samples source pixel t*src/target, so the source span
	// [a, b) is sampled by targets [ceil(a*t/src), ceil(b*t/src)).
	x0 := ceilDiv(r.X*s.w, s.srcW)
	x1 := ceilDiv((r.X+r.W)*s.w, s.srcW)
	y0 := ceilDiv(r.Y*s.h, s.srcH)
	y1 := ceilDiv((r.Y+r.H)*s.h, s.srcH)
	if x1 <= x0 || y1 <= y0 {
		return
	}
	s.dst.Paint(core.Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0, Color: r.Color})
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
