package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

// PNG colour types.
const (
	ctGray      = 0
	ctRGB       = 2
	ctPaletted  = 3
	ctGrayAlpha = 4
	ctRGBA      = 6
)

// pngMaxRowBytes bounds the two scanline buffers a decode holds.
const pngMaxRowBytes = 1 << 20

type pngHeader struct {
	width, height int
	depth         uint8
	colorType     uint8
	interlace     uint8
}

func (h pngHeader) channels() int {
	switch h.colorType {
	case ctRGB:
		return 3
	case ctGrayAlpha:
		return 2
	case ctRGBA:
		return 4
	}
	return 1
}

func (h pngHeader) bitsPerPixel() int { return h.channels() * int(h.depth) }

func (h pngHeader) rowBytes(width int) int { return (width*h.bitsPerPixel() + 7) / 8 }

func (h pngHeader) validate() error {
	ok := false
	switch h.colorType {
	case ctGray:
		ok = h.depth == 1 || h.depth == 2 || h.depth == 4 || h.depth == 8 || h.depth == 16
	case ctPaletted:
		ok = h.depth == 1 || h.depth == 2 || h.depth == 4 || h.depth == 8
	case ctRGB, ctGrayAlpha, ctRGBA:
		ok = h.depth == 8 || h.depth == 16
	}
	if !ok {
		return formatError("png.ihdr",
			fmt.Sprintf("unsupported colour type %d at bit depth %d", h.colorType, h.depth))
	}
	if int64(h.width)*int64(h.bitsPerPixel())/8 > pngMaxRowBytes {
		return apperrors.New(apperrors.CategoryDecode, "png.ihdr",
			fmt.Errorf("%w: scanline wider than %d bytes", apperrors.ErrInvalidDimensions, pngMaxRowBytes))
	}
	return nil
}

// adam7 describes one interlace pass: first pixel, step between pixels, and
// the block each pixel fills while the later passes are still missing.
type adam7 struct {
	x, y, dx, dy int
	bw, bh       int
}

var adam7Passes = [7]adam7{
	{0, 0, 8, 8, 8, 8},
	{4, 0, 8, 8, 4, 8},
	{0, 4, 4, 8, 4, 4},
	{2, 0, 4, 4, 2, 4},
	{0, 2, 2, 4, 2, 2},
	{1, 0, 2, 2, 1, 2},
	{0, 1, 1, 2, 1, 1},
}

// scanReader turns the inflated byte stream into unfiltered scanlines and
// reports their pixels.  It keeps only the current and previous line.
type scanReader struct {
	hdr     pngHeader
	h       core.Handler
	spans   spanWriter
	palette []color.NRGBA
	key     [3]uint16
	hasKey  bool

	bpp  int // bytes per complete pixel, at least 1
	cur  []byte
	prev []byte

	pass         int // index into adam7Passes, or -1 when not interlaced
	passW, passH int
	lineLen      int // filter byte + row bytes for the current pass
	row, fill    int
	finished     bool
}

func newScanReader(hdr pngHeader, h core.Handler) (*scanReader, error) {
	lineLen := 1 + hdr.rowBytes(hdr.width)
	s := &scanReader{
		hdr:   hdr,
		h:     h,
		spans: spanWriter{h: h},
		bpp:   max(1, hdr.bitsPerPixel()/8),
		cur:   make([]byte, lineLen),
		prev:  make([]byte, lineLen),
		pass:  -1,
	}
	if hdr.interlace == 1 {
		s.pass = 0
	}
	s.startPass()
	return s, nil
}

func (s *scanReader) complete() bool { return s.finished }

// startPass sets up the current pass, skipping passes with no pixels.
func (s *scanReader) startPass() {
	if s.pass < 0 {
		s.passW, s.passH = s.hdr.width, s.hdr.height
	} else {
		for ; s.pass < len(adam7Passes); s.pass++ {
			p := adam7Passes[s.pass]
			s.passW = (s.hdr.width - p.x + p.dx - 1) / p.dx
			s.passH = (s.hdr.height - p.y + p.dy - 1) / p.dy
			if s.passW > 0 && s.passH > 0 {
				break
			}
		}
		if s.pass == len(adam7Passes) {
			s.finished = true
			return
		}
	}
	s.lineLen = 1 + s.hdr.rowBytes(s.passW)
	s.row, s.fill = 0, 0
	clear(s.prev[:s.lineLen])
}

// write accepts inflated bytes.  It runs on the inflater goroutine.
func (s *scanReader) write(p []byte) error {
	for len(p) > 0 {
		if s.finished {
			return formatError("png.idat", "too much pixel data")
		}
		n := copy(s.cur[s.fill:s.lineLen], p)
		s.fill += n
		p = p[n:]
		if s.fill == s.lineLen {
			if err := s.emitRow(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scanReader) emitRow() error {
	if err := s.unfilter(); err != nil {
		return err
	}
	line := s.cur[1:s.lineLen]
	if s.pass < 0 {
		for x := 0; x < s.passW; x++ {
			if err := s.spans.put(x, s.row, s.pixel(line, x)); err != nil {
				return err
			}
		}
		if err := s.spans.flush(); err != nil {
			return err
		}
	} else {
		p := adam7Passes[s.pass]
		by := p.y + s.row*p.dy
		for x := 0; x < s.passW; x++ {
			bx := p.x + x*p.dx
			r := core.Rect{
				X: bx, Y: by,
				W:     min(p.bw, s.hdr.width-bx),
				H:     min(p.bh, s.hdr.height-by),
				Color: s.pixel(line, x),
			}
			if err := s.h.OnRegion(r); err != nil {
				return err
			}
		}
	}

	s.cur, s.prev = s.prev, s.cur
	s.fill = 0
	s.row++
	if s.row == s.passH {
		if s.pass < 0 {
			s.finished = true
		} else {
			s.pass++
			s.startPass()
		}
	}
	return nil
}

func (s *scanReader) unfilter() error {
	cdat := s.cur[1:s.lineLen]
	pdat := s.prev[1:s.lineLen]
	bpp := s.bpp
	switch s.cur[0] {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += cdat[i-bpp]
		}
	case 2: // Up
		for i, p := range pdat {
			cdat[i] += p
		}
	case 3: // Average
		for i := 0; i < bpp && i < len(cdat); i++ {
			cdat[i] += pdat[i] / 2
		}
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += uint8((int(cdat[i-bpp]) + int(pdat[i])) / 2)
		}
	case 4: // Paeth
		for i := range cdat {
			var a, c uint8
			if i >= bpp {
				a, c = cdat[i-bpp], pdat[i-bpp]
			}
			cdat[i] += paeth(a, pdat[i], c)
		}
	default:
		return apperrors.New(apperrors.CategoryDecode, "png.filter",
			errors.New("bad filter type"))
	}
	return nil
}

func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// pixel returns the colour of pixel x of an unfiltered line.  16-bit samples
// are reduced to their high byte; colour keys compare the full sample.
func (s *scanReader) pixel(line []byte, x int) color.NRGBA {
	depth := s.hdr.depth
	switch s.hdr.colorType {
	case ctGray:
		var v uint16
		var g uint8
		switch depth {
		case 16:
			v = binary.BigEndian.Uint16(line[2*x:])
			g = uint8(v >> 8)
		case 8:
			v = uint16(line[x])
			g = line[x]
		default:
			v = uint16(sample(line, x, depth))
			g = uint8(int(v) * 255 / (1<<depth - 1))
		}
		c := color.NRGBA{R: g, G: g, B: g, A: 0xff}
		if s.hasKey && v == s.key[0] {
			c.A = 0
		}
		return c
	case ctRGB:
		var r, g, b uint16
		var c color.NRGBA
		if depth == 16 {
			o := 6 * x
			r = binary.BigEndian.Uint16(line[o:])
			g = binary.BigEndian.Uint16(line[o+2:])
			b = binary.BigEndian.Uint16(line[o+4:])
			c = color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
		} else {
			o := 3 * x
			r, g, b = uint16(line[o]), uint16(line[o+1]), uint16(line[o+2])
			c = color.NRGBA{R: line[o], G: line[o+1], B: line[o+2], A: 0xff}
		}
		if s.hasKey && r == s.key[0] && g == s.key[1] && b == s.key[2] {
			c.A = 0
		}
		return c
	case ctPaletted:
		var idx uint8
		if depth == 8 {
			idx = line[x]
		} else {
			idx = sample(line, x, depth)
		}
		return s.palette[idx]
	case ctGrayAlpha:
		if depth == 16 {
			o := 4 * x
			return color.NRGBA{R: line[o], G: line[o], B: line[o], A: line[o+2]}
		}
		o := 2 * x
		return color.NRGBA{R: line[o], G: line[o], B: line[o], A: line[o+1]}
	default: // ctRGBA
		if depth == 16 {
			o := 8 * x
			return color.NRGBA{R: line[o], G: line[o+2], B: line[o+4], A: line[o+6]}
		}
		o := 4 * x
		return color.NRGBA{R: line[o], G: line[o+1], B: line[o+2], A: line[o+3]}
	}
}

// sample extracts a sub-byte sample; pixels are packed from the high bit.
func sample(line []byte, x int, depth uint8) uint8 {
	bit := x * int(depth)
	shift := 8 - int(depth) - bit%8
	return (line[bit/8] >> shift) & (1<<depth - 1)
}
