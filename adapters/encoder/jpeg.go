package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	apperrors "github.com/Skryldev/image-stream/errors"
)

// JPEG encodes images to JPEG format.  Alpha is dropped.
type JPEG struct {
	DefaultQuality int // used when Options.Quality == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) Format() string { return "jpeg" }

func (j *JPEG) Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error) {
	if err := checkImage(ctx, "jpeg.encode", img); err != nil {
		return nil, err
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "jpeg.encode", err)
	}
	return buf.Bytes(), nil
}
