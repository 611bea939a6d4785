// Package decoder provides incremental image decoding engines.  Every engine
// is fed arbitrary slices of the encoded stream and reports pixels to a
// core.Handler as rectangles.
package decoder

import (
	"image/color"

	"github.com/Skryldev/image-stream/core"
)

// spanWriter merges horizontally adjacent pixels of one colour into a single
// rectangle before handing it to the handler.
type spanWriter struct {
	h    core.Handler
	x, y int
	n    int
	c    color.NRGBA
}

func (s *spanWriter) put(x, y int, c color.NRGBA) error {
	if s.n > 0 && y == s.y && x == s.x+s.n && c == s.c {
		s.n++
		return nil
	}
	if err := s.flush(); err != nil {
		return err
	}
	s.x, s.y, s.n, s.c = x, y, 1, c
	return nil
}

func (s *spanWriter) flush() error {
	if s.n == 0 {
		return nil
	}
	r := core.Rect{X: s.x, Y: s.y, W: s.n, H: 1, Color: s.c}
	s.n = 0
	return s.h.OnRegion(r)
}
