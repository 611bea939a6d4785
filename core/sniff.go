package core

import (
	"fmt"
	"io"

	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// sniffLen is how many leading bytes are needed to recognise a format.
const sniffLen = 8

// SniffingDecoder picks an engine from the registry once enough of the stream
// has arrived to recognise its format.  Until then Feed consumes nothing, so
// the read loop keeps the leading bytes in its buffer.
type SniffingDecoder struct {
	reg     Registry
	handler Handler
	hint    Format
	format  Format
	engine  Decoder
}

// Sniffing returns a factory for decoders that choose their engine from the
// first bytes of the stream.  A known hint skips detection.
func Sniffing(reg Registry, hint Format) DecoderFactory {
	return func(h Handler) Decoder {
		return &SniffingDecoder{reg: reg, handler: h, hint: hint}
	}
}

// Format returns the chosen format, or FormatUnknown before the choice.
func (d *SniffingDecoder) Format() Format {
	if d.engine == nil {
		return FormatUnknown
	}
	return d.format
}

func (d *SniffingDecoder) Feed(p []byte) (int, error) {
	if d.engine == nil {
		format := d.hint
		if format == "" || format == FormatUnknown {
			if len(p) < sniffLen {
				return 0, nil
			}
			format = Format(utils.DetectFormat(p))
		}
		factory, ok := d.reg.DecoderFor(format)
		if !ok {
			return 0, apperrors.New(apperrors.CategoryDecode, "sniff",
				fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
		}
		d.format = format
		d.engine = factory(d.handler)
	}
	return d.engine.Feed(p)
}

// Done reports whether the chosen engine has finished the image.
func (d *SniffingDecoder) Done() bool {
	if d.engine == nil {
		return false
	}
	if fin, ok := d.engine.(Finisher); ok {
		return fin.Done()
	}
	return true
}

// Close releases the engine, if it holds anything.
func (d *SniffingDecoder) Close() error {
	if c, ok := d.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
