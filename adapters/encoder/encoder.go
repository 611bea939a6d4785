// Package encoder exports finished images in common formats.
package encoder

import (
	"context"
	"fmt"
	"image"
	"path"
	"strings"

	apperrors "github.com/Skryldev/image-stream/errors"
)

// Options tunes an encode.  Encoders ignore fields that do not apply.
type Options struct {
	Quality  int  // JPEG quality 1-100; 0 uses the encoder default
	Lossless bool // PNG: best compression instead of default
}

// Encoder writes an image in one format.
type Encoder interface {
	Format() string
	Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error)
}

// ForName picks an encoder from a file name's extension.
func ForName(name string) (Encoder, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return NewPNG(), nil
	case ".jpg", ".jpeg":
		return NewJPEG(0), nil
	case ".qoi":
		return NewQOI(), nil
	}
	return nil, apperrors.New(apperrors.CategoryInput, "encoder.for_name",
		fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, path.Ext(name)))
}

func checkImage(ctx context.Context, op string, img image.Image) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategorySink, op, err)
	}
	if img == nil || img.Bounds().Empty() {
		return apperrors.New(apperrors.CategorySink, op, apperrors.ErrEmptyInput)
	}
	return nil
}
