package decoder_test

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/Skryldev/image-stream/adapters/decoder"
	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

// Atomic units (IHDR body, chunk header, CRC) are at most this long.
const maxPNGLeftover = 13

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte, chunk int) (*paintHandler, *decoder.PNG) {
	t.Helper()
	h := &paintHandler{}
	dec := decoder.NewPNG(h)
	left, err := feed(dec, data, chunk)
	if err != nil {
		t.Fatalf("chunk %d: %v", chunk, err)
	}
	if !dec.Done() {
		t.Fatalf("chunk %d: decoder not done", chunk)
	}
	if left > maxPNGLeftover {
		t.Errorf("chunk %d: %d bytes left unconsumed", chunk, left)
	}
	if err := dec.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	return h, dec
}

func palette(n int) color.Palette {
	p := make(color.Palette, n)
	for i := range p {
		a := uint8(0xff)
		if i%3 == 1 {
			a = uint8(i * 5)
		}
		p[i] = color.NRGBA{R: uint8(i * 37), G: uint8(255 - i), B: uint8(i * 11), A: a}
	}
	return p
}

func paletted(w, h, n int) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette(n))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8((x*3+y*5)%n))
		}
	}
	return img
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestPNG_StandardEncodings(t *testing.T) {
	nrgba := image.NewNRGBA(image.Rect(0, 0, 13, 9))
	for i := range nrgba.Pix {
		nrgba.Pix[i] = uint8(i * 7)
	}
	rgb := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			rgb.SetRGBA(x, y, color.RGBA{R: uint8(x * 25), G: uint8(y * 25), B: uint8(x ^ y), A: 0xff})
		}
	}
	gray := image.NewGray(image.Rect(0, 0, 17, 5))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 3)
	}
	gray16 := image.NewGray16(image.Rect(0, 0, 6, 6))
	for i := 0; i < len(gray16.Pix); i += 2 {
		gray16.Pix[i], gray16.Pix[i+1] = uint8(i*9), uint8(i)
	}
	rgb64 := image.NewNRGBA64(image.Rect(0, 0, 7, 4))
	for i := range rgb64.Pix {
		rgb64.Pix[i] = uint8(i * 13)
		if i%8 >= 6 {
			rgb64.Pix[i] = 0xff
		}
	}

	fromNRGBA := func(img *image.NRGBA) func(x, y int) color.NRGBA {
		return func(x, y int) color.NRGBA { return img.NRGBAAt(x, y) }
	}
	fromPaletted := func(img *image.Paletted) func(x, y int) color.NRGBA {
		return func(x, y int) color.NRGBA { return img.Palette[img.ColorIndexAt(x, y)].(color.NRGBA) }
	}

	type pngCase struct {
		name string
		img  image.Image
		want func(x, y int) color.NRGBA
	}
	cases := []pngCase{
		{"rgba8", nrgba, fromNRGBA(nrgba)},
		{"rgb8", rgb, func(x, y int) color.NRGBA {
			c := rgb.RGBAAt(x, y)
			return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
		}},
		{"gray8", gray, func(x, y int) color.NRGBA {
			g := gray.GrayAt(x, y).Y
			return color.NRGBA{R: g, G: g, B: g, A: 0xff}
		}},
		{"gray16", gray16, func(x, y int) color.NRGBA {
			g := uint8(gray16.Gray16At(x, y).Y >> 8)
			return color.NRGBA{R: g, G: g, B: g, A: 0xff}
		}},
		{"rgb16", rgb64, func(x, y int) color.NRGBA {
			c := rgb64.NRGBA64At(x, y)
			return color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: 0xff}
		}},
	}
	for _, n := range []int{2, 4, 16, 200} {
		img := paletted(11, 7, n)
		cases = append(cases, pngCase{fmt.Sprintf("paletted%d", n), img, fromPaletted(img)})
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := encodePNG(t, tc.img)
			b := tc.img.Bounds()
			for _, chunk := range []int{1, 7, 64, len(data)} {
				h, dec := decodePNG(t, data, chunk)
				if dec.Interlaced() {
					t.Error("reported interlaced")
				}
				if h.sizeCalls != 1 {
					t.Errorf("OnSize calls: got %d, want 1", h.sizeCalls)
				}
				assertPixels(t, h.img, b.Dx(), b.Dy(), tc.want)
			}
		})
	}
}

func TestPNG_Interlaced(t *testing.T) {
	pix := func(x, y int) color.NRGBA {
		return color.NRGBA{R: uint8(x * 19), G: uint8(y * 23), B: uint8(x*y + 1), A: uint8(255 - x - y)}
	}
	for _, size := range []image.Point{{1, 1}, {3, 2}, {8, 8}, {13, 11}, {33, 5}} {
		data := buildPNG(t, pngLayout{
			w: size.X, h: size.Y, depth: 8, colorType: 6, interlace: 1,
			pixel: func(x, y int) []byte {
				c := pix(x, y)
				return []byte{c.R, c.G, c.B, c.A}
			},
		})
		for _, chunk := range []int{1, 5, len(data)} {
			h, dec := decodePNG(t, data, chunk)
			if !dec.Interlaced() {
				t.Error("not reported interlaced")
			}
			assertPixels(t, h.img, size.X, size.Y, pix)

			// The first pass paints coarse 8x8 blocks, clipped to the image.
			first := h.regions[0]
			want := core.Rect{X: 0, Y: 0, W: min(8, size.X), H: min(8, size.Y), Color: pix(0, 0)}
			if first != want {
				t.Errorf("%v: first region %+v, want %+v", size, first, want)
			}
		}
	}
}

func TestPNG_GrayAlpha(t *testing.T) {
	for _, depth := range []uint8{8, 16} {
		data := buildPNG(t, pngLayout{
			w: 9, h: 6, depth: depth, colorType: 4,
			pixel: func(x, y int) []byte {
				g, a := uint8(x*28), uint8(y*40)
				if depth == 16 {
					return []byte{g, 0x77, a, 0x11}
				}
				return []byte{g, a}
			},
		})
		h, _ := decodePNG(t, data, 3)
		assertPixels(t, h.img, 9, 6, func(x, y int) color.NRGBA {
			g := uint8(x * 28)
			return color.NRGBA{R: g, G: g, B: g, A: uint8(y * 40)}
		})
	}
}

func TestPNG_SixteenBitAlpha(t *testing.T) {
	data := buildPNG(t, pngLayout{
		w: 5, h: 5, depth: 16, colorType: 6, interlace: 1,
		pixel: func(x, y int) []byte {
			return []byte{byte(x * 50), 0xaa, byte(y * 50), 0xbb, 0x80, 0xcc, byte(x + y), 0xdd}
		},
	})
	h, _ := decodePNG(t, data, 9)
	assertPixels(t, h.img, 5, 5, func(x, y int) color.NRGBA {
		return color.NRGBA{R: byte(x * 50), G: byte(y * 50), B: 0x80, A: byte(x + y)}
	})
}

func TestPNG_LowBitDepthGray(t *testing.T) {
	// Five 2-bit pixels per row: 0 1 2 3 0, padded to two bytes.
	row := []byte{0b00011011, 0b00000000}
	data := buildPNG(t, pngLayout{
		w: 5, h: 3, depth: 2, colorType: 0,
		rows: [][]byte{row, row, row},
	})
	h, _ := decodePNG(t, data, 2)
	levels := []uint8{0, 85, 170, 255, 0}
	assertPixels(t, h.img, 5, 3, func(x, _ int) color.NRGBA {
		g := levels[x]
		return color.NRGBA{R: g, G: g, B: g, A: 0xff}
	})
}

func TestPNG_ColorKey(t *testing.T) {
	cases := []struct {
		name   string
		layout pngLayout
		clear  func(x, y int) bool
		want   func(x, y int) color.NRGBA
	}{
		{
			name: "gray8",
			layout: pngLayout{w: 4, h: 4, depth: 8, colorType: 0,
				pre:   [][2]string{{"tRNS", "\x00\x40"}},
				pixel: func(x, y int) []byte { return []byte{uint8(0x40 * x)} }},
			want: func(x, _ int) color.NRGBA {
				g := uint8(0x40 * x)
				return color.NRGBA{R: g, G: g, B: g, A: 0xff}
			},
			clear: func(x, _ int) bool { return x == 1 },
		},
		{
			// Only the exact 16-bit key is transparent, not its high byte.
			name: "gray16",
			layout: pngLayout{w: 2, h: 2, depth: 16, colorType: 0,
				pre:   [][2]string{{"tRNS", "\x12\x34"}},
				pixel: func(x, _ int) []byte { return []byte{0x12, byte(0x34 + x)} }},
			want: func(int, int) color.NRGBA {
				return color.NRGBA{R: 0x12, G: 0x12, B: 0x12, A: 0xff}
			},
			clear: func(x, _ int) bool { return x == 0 },
		},
		{
			name: "rgb8",
			layout: pngLayout{w: 3, h: 3, depth: 8, colorType: 2,
				pre:   [][2]string{{"tRNS", "\x00\x0a\x00\x14\x00\x1e"}},
				pixel: func(x, y int) []byte { return []byte{10, byte(20 * (x + 1)), 30} }},
			want: func(x, _ int) color.NRGBA {
				return color.NRGBA{R: 10, G: byte(20 * (x + 1)), B: 30, A: 0xff}
			},
			clear: func(x, _ int) bool { return x == 0 },
		},
		{
			name: "rgb16",
			layout: pngLayout{w: 2, h: 1, depth: 16, colorType: 2,
				pre: [][2]string{{"tRNS", "\x01\x02\x03\x04\x05\x06"}},
				pixel: func(x, _ int) []byte {
					return []byte{1, 2, 3, 4, 5, byte(6 + x)}
				}},
			want: func(int, int) color.NRGBA {
				return color.NRGBA{R: 1, G: 3, B: 5, A: 0xff}
			},
			clear: func(x, _ int) bool { return x == 0 },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := buildPNG(t, tc.layout)
			h, _ := decodePNG(t, data, 4)
			assertPixels(t, h.img, tc.layout.w, tc.layout.h, func(x, y int) color.NRGBA {
				c := tc.want(x, y)
				if tc.clear(x, y) {
					c.A = 0
				}
				return c
			})
		})
	}
}

func TestPNG_PaletteIndexBeyondEntries(t *testing.T) {
	data := buildPNG(t, pngLayout{
		w: 3, h: 1, depth: 8, colorType: 3,
		pre:  [][2]string{{"PLTE", "\xff\x00\x00\x00\xff\x00"}},
		rows: [][]byte{{0, 1, 9}},
	})
	h, _ := decodePNG(t, data, 1)
	want := []color.NRGBA{{R: 0xff, A: 0xff}, {G: 0xff, A: 0xff}, {A: 0xff}}
	assertPixels(t, h.img, 3, 1, func(x, _ int) color.NRGBA { return want[x] })
}

func TestPNG_SolidRowsMergeIntoSpans(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 3))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{9, 8, 7, 255})
	}
	h, _ := decodePNG(t, encodePNG(t, img), 64)
	if len(h.regions) != 3 {
		t.Fatalf("regions: got %d, want 3", len(h.regions))
	}
	for y, r := range h.regions {
		if r.X != 0 || r.Y != y || r.W != 10 || r.H != 1 {
			t.Errorf("row %d: got %+v", y, r)
		}
	}
}

func TestPNG_TrailingBytesIgnored(t *testing.T) {
	data := append(encodePNG(t, paletted(4, 4, 4)), "trailing garbage"...)
	h := &paintHandler{}
	dec := decoder.NewPNG(h)
	n, err := dec.Feed(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) || !dec.Done() {
		t.Errorf("consumed %d of %d, done=%v", n, len(data), dec.Done())
	}
}

func TestPNG_TruncatedStream(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}
	data := encodePNG(t, img)

	h := &paintHandler{}
	dec := decoder.NewPNG(h)
	if _, err := feed(dec, data[:len(data)/2], 100); err != nil {
		t.Fatal(err)
	}
	if dec.Done() {
		t.Error("done after half the stream")
	}
	if h.img == nil {
		t.Error("size not reported from the first half")
	}
	if err := dec.Close(); err == nil {
		t.Error("Close: expected an error for a cut-off pixel stream")
	}
}

func TestPNG_Errors(t *testing.T) {
	rgba := func(x, y int) []byte { return []byte{byte(x), byte(y), 0, 0xff} }
	valid := buildPNG(t, pngLayout{w: 4, h: 4, depth: 8, colorType: 6, pixel: rgba})

	badCRC := bytes.Clone(valid)
	badCRC[8+8+13] ^= 0xff // first byte of the IHDR CRC

	noIHDR := bytes.Clone(valid)
	copy(noIHDR[12:16], "gAMA")

	var short bytes.Buffer
	pngChunk(&short, "IEND", nil)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"signature", append([]byte("\x89PNX\r\n\x1a\n"), valid[8:]...), nil},
		{"ihdr crc", badCRC, nil},
		{"missing ihdr", noIHDR, nil},
		{"bad filter", buildPNG(t, pngLayout{w: 4, h: 4, depth: 8, colorType: 6, pixel: rgba,
			filter: func(int) byte { return 7 }}), nil},
		{"bad depth", buildPNG(t, pngLayout{w: 4, h: 4, depth: 4, colorType: 2, rows: [][]byte{{0}}}), nil},
		{"zero width", buildPNG(t, pngLayout{w: 0, h: 4, depth: 8, colorType: 0, rows: [][]byte{{0}}}),
			apperrors.ErrInvalidDimensions},
		{"trns with alpha", buildPNG(t, pngLayout{w: 4, h: 4, depth: 8, colorType: 6, pixel: rgba,
			pre: [][2]string{{"tRNS", "\x00\x00"}}}), nil},
		{"missing palette", buildPNG(t, pngLayout{w: 2, h: 1, depth: 8, colorType: 3, rows: [][]byte{{0, 0}}}), nil},
		{"no image data", append(bytes.Clone(valid[:8+8+13+4]), short.Bytes()...), nil},
		{"short pixel data", buildPNG(t, pngLayout{w: 4, h: 4, depth: 8, colorType: 6,
			rows: [][]byte{make([]byte, 16)}}), apperrors.ErrTruncated},
		{"too much pixel data", buildPNG(t, pngLayout{w: 1, h: 1, depth: 8, colorType: 0,
			rows: [][]byte{{1}, {2}}}), nil},
		{"corrupt zlib", buildPNG(t, pngLayout{w: 4, h: 4, depth: 8, colorType: 6, pixel: rgba,
			raw: []byte("not a zlib stream")}), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := decoder.NewPNG(&paintHandler{})
			_, err := feed(dec, tc.data, 16)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
				t.Errorf("category: got %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
			if _, again := dec.Feed([]byte{0}); again == nil {
				t.Error("decoder accepted input after failing")
			}
			_ = dec.Close()
		})
	}
}

// feedTracker marks when a Feed call is in progress.
type feedTracker struct {
	core.Decoder
	feeding atomic.Bool
}

func (d *feedTracker) Feed(p []byte) (int, error) {
	d.feeding.Store(true)
	defer d.feeding.Store(false)
	return d.Decoder.Feed(p)
}

// trackedHandler counts callbacks made outside Feed or overlapping another.
type trackedHandler struct {
	paintHandler
	dec      *feedTracker
	active   atomic.Int32
	outside  atomic.Int32
	overlaps atomic.Int32
}

func (h *trackedHandler) check() func() {
	if !h.dec.feeding.Load() {
		h.outside.Add(1)
	}
	if h.active.Add(1) > 1 {
		h.overlaps.Add(1)
	}
	return func() { h.active.Add(-1) }
}

func (h *trackedHandler) OnSize(w, ht int) error {
	defer h.check()()
	return h.paintHandler.OnSize(w, ht)
}

func (h *trackedHandler) OnRegion(r core.Rect) error {
	defer h.check()()
	return h.paintHandler.OnRegion(r)
}

func TestPNG_CallbacksOnlyDuringFeed(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 61, 47))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 13)
	}
	data := encodePNG(t, img)

	h := &trackedHandler{}
	h.dec = &feedTracker{}
	dec := decoder.NewPNG(h)
	h.dec.Decoder = dec
	if _, err := feed(h.dec, data, 11); err != nil {
		t.Fatal(err)
	}
	if err := dec.Close(); err != nil {
		t.Fatal(err)
	}
	if !dec.Done() || len(h.regions) == 0 {
		t.Fatalf("done=%v regions=%d", dec.Done(), len(h.regions))
	}
	if n := h.outside.Load(); n > 0 {
		t.Errorf("%d callbacks ran while no Feed was in progress", n)
	}
	if n := h.overlaps.Load(); n > 0 {
		t.Errorf("%d callbacks overlapped", n)
	}
}

func TestPNG_HandlerErrorPropagates(t *testing.T) {
	data := encodePNG(t, paletted(16, 16, 16))
	h := &paintHandler{failAfter: 5}
	dec := decoder.NewPNG(h)
	_, err := feed(dec, data, 32)
	if !errors.Is(err, errRejected) {
		t.Fatalf("got %v, want the handler's error", err)
	}
	if len(h.regions) != 5 {
		t.Errorf("regions before the failure: got %d, want 5", len(h.regions))
	}
	_ = dec.Close()
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkPNG_Feed(b *testing.B) {
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	data := encodePNG(b, img)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := decoder.NewPNG(&paintHandler{})
		if _, err := feed(dec, data, 4096); err != nil {
			b.Fatal(err)
		}
	}
}
