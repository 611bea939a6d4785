package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"image/color"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

const (
	pngSigSize     = 8
	pngHeaderSize  = 8 // chunk length + type
	pngCRCSize     = 4
	pngIHDRSize    = 13
	pngMaxChunkLen = 1<<31 - 1
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

type pngState int

const (
	pngStateSignature pngState = iota
	pngStateChunkHeader
	pngStateChunkData
	pngStateChunkCRC
	pngStateDone
)

// PNG decodes PNG streams chunk by chunk.  The signature, chunk headers, CRCs
// and IHDR are atomic and are left unconsumed until complete; palette entries
// are consumed three bytes at a time; everything else byte-wise.  Pixel data
// is inflated as it arrives and delivered row by row.
type PNG struct {
	h     core.Handler
	state pngState
	err   error

	chunkType [4]byte
	chunkLeft uint32
	crc       hash.Hash32
	chunks    int

	hdr        pngHeader
	palette    [256]color.NRGBA
	paletteLen int
	trns       [6]byte
	trnsLen    int

	scan *scanReader
	zr   *inflater
}

// NewPNG returns a decoder reporting to h.
func NewPNG(h core.Handler) *PNG {
	d := &PNG{h: h, crc: crc32.NewIEEE()}
	for i := range d.palette {
		d.palette[i] = color.NRGBA{A: 0xff}
	}
	return d
}

// PNGFactory registers the engine with a core.Registry.
func PNGFactory() core.DecoderFactory {
	return func(h core.Handler) core.Decoder { return NewPNG(h) }
}

// Done reports whether IEND has been read and every pixel was delivered.
func (d *PNG) Done() bool { return d.state == pngStateDone }

// Interlaced reports whether the image uses Adam7 interlacing.
func (d *PNG) Interlaced() bool { return d.hdr.interlace == 1 }

// Close stops the inflater if the stream ended early.
func (d *PNG) Close() error {
	if d.zr == nil {
		return nil
	}
	return d.zr.Close()
}

func (d *PNG) Feed(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	i := 0
	for i < len(p) {
		var (
			n   int
			err error
		)
		switch d.state {
		case pngStateSignature:
			if len(p)-i < pngSigSize {
				return i, nil
			}
			if !bytes.Equal(p[i:i+pngSigSize], pngSignature) {
				err = formatError("png.signature", "not a PNG stream")
			}
			n = pngSigSize
			d.state = pngStateChunkHeader
		case pngStateChunkHeader:
			if len(p)-i < pngHeaderSize {
				return i, nil
			}
			err = d.startChunk(p[i : i+pngHeaderSize])
			n = pngHeaderSize
		case pngStateChunkData:
			n, err = d.chunkData(p[i:])
			if n == 0 && err == nil {
				return i, nil
			}
		case pngStateChunkCRC:
			if len(p)-i < pngCRCSize {
				return i, nil
			}
			err = d.endChunk(p[i : i+pngCRCSize])
			n = pngCRCSize
		case pngStateDone:
			// Anything after IEND is ignored.
			return len(p), nil
		}
		if err != nil {
			return d.fail(err)
		}
		i += n
	}
	return i, nil
}

func (d *PNG) startChunk(b []byte) error {
	length := binary.BigEndian.Uint32(b[:4])
	copy(d.chunkType[:], b[4:8])
	if length > pngMaxChunkLen {
		return formatError("png.chunk", "chunk length overflow")
	}
	typ := string(d.chunkType[:])
	if d.chunks == 0 && typ != "IHDR" {
		return formatError("png.chunk", "missing IHDR")
	}
	d.chunks++

	switch typ {
	case "IHDR":
		if d.chunks != 1 || length != pngIHDRSize {
			return formatError("png.ihdr", "bad IHDR")
		}
	case "PLTE":
		if length%3 != 0 || length > 256*3 {
			return formatError("png.plte", "bad palette length")
		}
		d.paletteLen = 0
	case "tRNS":
		if err := d.checkTRNS(length); err != nil {
			return err
		}
		d.trnsLen = 0
	case "IDAT":
		if err := d.startIDAT(); err != nil {
			return err
		}
	}

	d.crc.Reset()
	d.crc.Write(d.chunkType[:])
	d.chunkLeft = length
	if length == 0 {
		d.state = pngStateChunkCRC
	} else {
		d.state = pngStateChunkData
	}
	return nil
}

// chunkData consumes the body of the current chunk.  It returns 0, nil when
// the next atomic unit is not complete yet.
func (d *PNG) chunkData(p []byte) (int, error) {
	n := min(len(p), int(d.chunkLeft))
	switch string(d.chunkType[:]) {
	case "IHDR":
		if n < pngIHDRSize {
			return 0, nil
		}
		if err := d.readIHDR(p[:pngIHDRSize]); err != nil {
			return 0, err
		}
	case "PLTE":
		n -= n % 3
		for j := 0; j < n; j += 3 {
			d.palette[d.paletteLen] = color.NRGBA{R: p[j], G: p[j+1], B: p[j+2], A: 0xff}
			d.paletteLen++
		}
	case "tRNS":
		d.readTRNS(p[:n])
	case "IDAT":
		d.crc.Write(p[:n])
		d.chunkLeft -= uint32(n)
		if err := d.zr.Write(p[:n]); err != nil {
			return 0, pixelError(err)
		}
		if d.chunkLeft == 0 {
			d.state = pngStateChunkCRC
		}
		return n, nil
	}
	if n == 0 {
		return 0, nil
	}
	d.crc.Write(p[:n])
	d.chunkLeft -= uint32(n)
	if d.chunkLeft == 0 {
		d.state = pngStateChunkCRC
	}
	return n, nil
}

func (d *PNG) endChunk(b []byte) error {
	if binary.BigEndian.Uint32(b) != d.crc.Sum32() {
		return formatError("png.crc", fmt.Sprintf("checksum mismatch in %s", d.chunkType[:]))
	}
	d.state = pngStateChunkHeader
	if string(d.chunkType[:]) == "IEND" {
		return d.finish()
	}
	return nil
}

func (d *PNG) readIHDR(b []byte) error {
	w := binary.BigEndian.Uint32(b[0:4])
	h := binary.BigEndian.Uint32(b[4:8])
	d.hdr = pngHeader{
		width:     int(w),
		height:    int(h),
		depth:     b[8],
		colorType: b[9],
		interlace: b[12],
	}
	if w == 0 || h == 0 || w > pngMaxChunkLen || h > pngMaxChunkLen {
		return apperrors.New(apperrors.CategoryDecode, "png.ihdr",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, w, h))
	}
	if b[10] != 0 || b[11] != 0 || b[12] > 1 {
		return formatError("png.ihdr", "unsupported compression, filter or interlace method")
	}
	if err := d.hdr.validate(); err != nil {
		return err
	}
	return d.h.OnSize(d.hdr.width, d.hdr.height)
}

func (d *PNG) checkTRNS(length uint32) error {
	switch d.hdr.colorType {
	case ctPaletted:
		if int(length) > d.paletteLen {
			return formatError("png.trns", "more alpha values than palette entries")
		}
	case ctGray:
		if length != 2 {
			return formatError("png.trns", "bad gray key length")
		}
	case ctRGB:
		if length != 6 {
			return formatError("png.trns", "bad RGB key length")
		}
	default:
		return formatError("png.trns", "tRNS not allowed with an alpha channel")
	}
	return nil
}

func (d *PNG) readTRNS(b []byte) {
	for _, v := range b {
		if d.hdr.colorType == ctPaletted {
			d.palette[d.trnsLen].A = v
		} else {
			d.trns[d.trnsLen] = v
		}
		d.trnsLen++
	}
}

func (d *PNG) startIDAT() error {
	if d.scan != nil {
		return nil
	}
	if d.hdr.colorType == ctPaletted && d.paletteLen == 0 {
		return formatError("png.idat", "missing palette")
	}
	scan, err := newScanReader(d.hdr, d.h)
	if err != nil {
		return err
	}
	scan.palette = d.palette[:]
	switch {
	case d.hdr.colorType == ctGray && d.trnsLen == 2:
		scan.key = [3]uint16{binary.BigEndian.Uint16(d.trns[0:2])}
		scan.hasKey = true
	case d.hdr.colorType == ctRGB && d.trnsLen == 6:
		scan.key = [3]uint16{
			binary.BigEndian.Uint16(d.trns[0:2]),
			binary.BigEndian.Uint16(d.trns[2:4]),
			binary.BigEndian.Uint16(d.trns[4:6]),
		}
		scan.hasKey = true
	}
	d.scan = scan
	d.zr = newInflater(scan.write)
	return nil
}

func (d *PNG) finish() error {
	if d.zr == nil {
		return formatError("png.iend", "no image data")
	}
	if err := d.zr.Close(); err != nil {
		return pixelError(err)
	}
	if !d.scan.complete() {
		return apperrors.New(apperrors.CategoryDecode, "png.iend", apperrors.ErrTruncated)
	}
	d.state = pngStateDone
	return nil
}

func (d *PNG) fail(err error) (int, error) {
	d.err = err
	if d.zr != nil {
		_ = d.zr.Close()
	}
	return 0, err
}

func formatError(op, msg string) error {
	return apperrors.New(apperrors.CategoryDecode, op, errors.New(msg))
}

// pixelError keeps handler errors as they are and files inflate failures
// under decode.
func pixelError(err error) error {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return apperrors.New(apperrors.CategoryDecode, "png.idat", err)
}
