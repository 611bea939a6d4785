//go:build vips

package vips_test

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/Skryldev/image-stream/adapters/encoder"
	"github.com/Skryldev/image-stream/adapters/vips"
)

func makeCanvas(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestExporter_WebP(t *testing.T) {
	e := vips.NewExporter(vips.ExporterConfig{ResizeWidth: 32})
	enc, err := e.Encoder("webp")
	if err != nil {
		t.Fatal(err)
	}
	out, err := enc.Encode(context.Background(), makeCanvas(64, 48), encoder.Options{Quality: 80})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out) < 12 || string(out[:4]) != "RIFF" || string(out[8:12]) != "WEBP" {
		t.Errorf("output is not a WebP file")
	}
}

func TestExporter_UnknownFormat(t *testing.T) {
	e := vips.NewExporter(vips.ExporterConfig{})
	if _, err := e.Encoder("bmp"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

// ─── Export ───────────────────────────────────────────────────────────────────

func benchmarkExport(b *testing.B, format string) {
	img := makeCanvas(1920, 1080)
	e := vips.NewExporter(vips.ExporterConfig{DefaultQuality: 85})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Export(context.Background(), img, format, encoder.Options{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExport_Vips_JPEG_1920x1080(b *testing.B) { benchmarkExport(b, "jpeg") }
func BenchmarkExport_Vips_WebP_1920x1080(b *testing.B) { benchmarkExport(b, "webp") }

func BenchmarkExport_Stdlib_JPEG_1920x1080(b *testing.B) {
	img := makeCanvas(1920, 1080)
	enc := encoder.NewJPEG(85)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encode(context.Background(), img, encoder.Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
