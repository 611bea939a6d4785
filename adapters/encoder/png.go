package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"

	apperrors "github.com/Skryldev/image-stream/errors"
)

// PNG encodes images to PNG format.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) Format() string { return "png" }

func (p *PNG) Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error) {
	if err := checkImage(ctx, "png.encode", img); err != nil {
		return nil, err
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "png.encode", err)
	}
	return buf.Bytes(), nil
}
