package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

const (
	qoiMagic      = "qoif"
	qoiHeaderSize = 14
	qoiMaxPixels  = 400_000_000

	qoiOpIndex uint8 = 0b00000000
	qoiOpDiff  uint8 = 0b01000000
	qoiOpLuma  uint8 = 0b10000000
	qoiOpRun   uint8 = 0b11000000
	qoiOpRGB   uint8 = 0b11111110
	qoiOpRGBA  uint8 = 0b11111111
	qoiMask2   uint8 = 0b11000000
)

// QOIEndMarker terminates every QOI stream.
var QOIEndMarker = []byte{0, 0, 0, 0, 0, 0, 0, 1}

type qoiState int

const (
	qoiHeader qoiState = iota
	qoiPixels
	qoiEnd
	qoiDone
)

// QOI decodes the Quite OK Image format.  Every op is consumed only once all
// of its bytes are present, so at most four bytes are ever left unconsumed.
type QOI struct {
	spans spanWriter
	state qoiState
	err   error

	width, height int
	channels      uint8
	total, pos    int

	px    color.NRGBA
	index [64]color.NRGBA
}

// NewQOI returns a decoder reporting to h.
func NewQOI(h core.Handler) *QOI {
	return &QOI{
		spans: spanWriter{h: h},
		px:    color.NRGBA{A: 255},
	}
}

// QOIFactory registers the engine with a core.Registry.
func QOIFactory() core.DecoderFactory {
	return func(h core.Handler) core.Decoder { return NewQOI(h) }
}

// Done reports whether the end marker has been read.
func (d *QOI) Done() bool { return d.state == qoiDone }

// Channels returns the channel count from the header, 0 before it is read.
func (d *QOI) Channels() int { return int(d.channels) }

func (d *QOI) Feed(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	i := 0
	if d.state == qoiHeader {
		if len(p) < qoiHeaderSize {
			return 0, nil
		}
		if err := d.readHeader(p[:qoiHeaderSize]); err != nil {
			return d.fail(err)
		}
		i = qoiHeaderSize
		d.state = qoiPixels
	}

	for d.state == qoiPixels && i < len(p) {
		n, run, ok := d.op(p[i:])
		if !ok {
			break
		}
		// A run past the last pixel is clipped to the image.
		for run = min(run, d.total-d.pos); run > 0; run-- {
			if err := d.spans.put(d.pos%d.width, d.pos/d.width, d.px); err != nil {
				return d.fail(err)
			}
			d.pos++
		}
		i += n
		if d.pos == d.total {
			d.state = qoiEnd
		}
	}
	if err := d.spans.flush(); err != nil {
		return d.fail(err)
	}

	if d.state == qoiEnd {
		if len(p)-i < len(QOIEndMarker) {
			return i, nil
		}
		if !bytes.Equal(p[i:i+len(QOIEndMarker)], QOIEndMarker) {
			return d.fail(apperrors.New(apperrors.CategoryDecode, "qoi.decode",
				errors.New("missing end marker")))
		}
		i += len(QOIEndMarker)
		d.state = qoiDone
	}
	if d.state == qoiDone {
		// Trailing bytes after the end marker are ignored.
		i = len(p)
	}
	return i, nil
}

func (d *QOI) readHeader(h []byte) error {
	if string(h[:4]) != qoiMagic {
		return apperrors.New(apperrors.CategoryDecode, "qoi.header", errors.New("bad magic"))
	}
	w := binary.BigEndian.Uint32(h[4:8])
	ht := binary.BigEndian.Uint32(h[8:12])
	d.channels = h[12]
	if d.channels != 3 && d.channels != 4 {
		return apperrors.New(apperrors.CategoryDecode, "qoi.header",
			fmt.Errorf("unsupported channel count %d", d.channels))
	}
	if h[13] > 1 {
		return apperrors.New(apperrors.CategoryDecode, "qoi.header",
			fmt.Errorf("unsupported colorspace %d", h[13]))
	}
	if w == 0 || ht == 0 || uint64(w)*uint64(ht) > qoiMaxPixels {
		return apperrors.New(apperrors.CategoryDecode, "qoi.header",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, w, ht))
	}
	d.width, d.height = int(w), int(ht)
	d.total = d.width * d.height
	return d.spans.h.OnSize(d.width, d.height)
}

// op decodes the op at the front of p.  It reports how many bytes it used and
// how many pixels of d.px it produced, or ok=false when the op is incomplete.
func (d *QOI) op(p []byte) (n, run int, ok bool) {
	b := p[0]
	run = 1
	switch {
	case b == qoiOpRGB:
		if len(p) < 4 {
			return 0, 0, false
		}
		d.px.R, d.px.G, d.px.B = p[1], p[2], p[3]
		n = 4
	case b == qoiOpRGBA:
		if len(p) < 5 {
			return 0, 0, false
		}
		d.px = color.NRGBA{R: p[1], G: p[2], B: p[3], A: p[4]}
		n = 5
	case b&qoiMask2 == qoiOpIndex:
		d.px = d.index[b]
		n = 1
	case b&qoiMask2 == qoiOpDiff:
		d.px.R += (b>>4)&0x03 - 2
		d.px.G += (b>>2)&0x03 - 2
		d.px.B += b&0x03 - 2
		n = 1
	case b&qoiMask2 == qoiOpLuma:
		if len(p) < 2 {
			return 0, 0, false
		}
		dg := b&0x3f - 32
		d.px.R += dg + (p[1]>>4)&0x0f - 8
		d.px.G += dg
		d.px.B += dg + p[1]&0x0f - 8
		n = 2
	default: // qoiOpRun
		run = int(b&0x3f) + 1
		n = 1
	}
	d.index[qoiHash(d.px)] = d.px
	return n, run, true
}

func (d *QOI) fail(err error) (int, error) {
	d.err = err
	return 0, err
}

func qoiHash(c color.NRGBA) int {
	return (int(c.R)*3 + int(c.G)*5 + int(c.B)*7 + int(c.A)*11) % 64
}
