//go:build vips

// Package vips exports decoded canvases through libvips.  It is compiled only
// with the vips build tag, since it needs cgo and libvips installed.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-stream/adapters/encoder"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// ExporterConfig configures the libvips backend.
type ExporterConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool

	// Optional target size; 0 on an axis derives it from the other.
	ResizeWidth, ResizeHeight int
}

// Exporter encodes images with libvips.  Safe for concurrent use.
type Exporter struct {
	cfg ExporterConfig
}

// NewExporter initialises libvips.  Call Shutdown when the process exits.
func NewExporter(cfg ExporterConfig) *Exporter {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Exporter{cfg: cfg}
}

// Shutdown releases all libvips resources.  Call once at process exit.
func (e *Exporter) Shutdown() {
	govips.Shutdown()
}

// Encoder returns an encoder.Encoder for format ("jpeg", "png" or "webp").
func (e *Exporter) Encoder(format string) (encoder.Encoder, error) {
	switch format {
	case "jpeg", "png", "webp":
		return &vipsEncoder{e: e, format: format}, nil
	}
	return nil, apperrors.New(apperrors.CategoryInput, "vips.encoder",
		fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
}

// Export encodes img as format, resizing it with Lanczos3 first when the
// config asks for a target size.
func (e *Exporter) Export(ctx context.Context, img image.Image, format string, opts encoder.Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "vips.export", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CategorySink, "vips.export", apperrors.ErrEmptyInput)
	}

	// Hand the pixels over losslessly.
	var raw bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&raw, img); err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "vips.export.load", err)
	}
	ref, err := govips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "vips.export.load", err)
	}
	defer ref.Close()

	if e.cfg.ResizeWidth > 0 || e.cfg.ResizeHeight > 0 {
		w, h := ref.Width(), ref.Height()
		dstW, _ := utils.ScaleDimensions(w, h, e.cfg.ResizeWidth, e.cfg.ResizeHeight)
		if dstW > 0 && dstW != w {
			if err := ref.Resize(float64(dstW)/float64(w), govips.KernelLanczos3); err != nil {
				return nil, apperrors.Wrap(apperrors.CategorySink, "vips.export.resize", err)
			}
		}
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = e.cfg.DefaultQuality
	}

	var out []byte
	switch format {
	case "jpeg":
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		out, _, err = ref.ExportJpeg(ep)
	case "png":
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		out, _, err = ref.ExportPng(ep)
	case "webp":
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = true
		out, _, err = ref.ExportWebp(ep)
	default:
		return nil, apperrors.New(apperrors.CategoryInput, "vips.export",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySink, "vips.export."+format, err)
	}
	return out, nil
}

type vipsEncoder struct {
	e      *Exporter
	format string
}

func (v *vipsEncoder) Format() string { return v.format }

func (v *vipsEncoder) Encode(ctx context.Context, img image.Image, opts encoder.Options) ([]byte, error) {
	return v.e.Export(ctx, img, v.format, opts)
}

var _ encoder.Encoder = (*vipsEncoder)(nil)
