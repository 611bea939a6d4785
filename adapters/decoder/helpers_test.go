package decoder_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/image-stream/core"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// paintHandler paints regions into an NRGBA image and rejects any region
// outside it.
type paintHandler struct {
	img       *image.NRGBA
	regions   []core.Rect
	sizeCalls int
	failAfter int // reject regions once this many were accepted; 0 disables
}

var errRejected = errors.New("region rejected")

func (h *paintHandler) OnSize(w, ht int) error {
	h.sizeCalls++
	h.img = image.NewNRGBA(image.Rect(0, 0, w, ht))
	return nil
}

func (h *paintHandler) OnRegion(r core.Rect) error {
	if h.img == nil {
		return fmt.Errorf("region %+v before size", r)
	}
	if !r.Bounds().In(h.img.Bounds()) || r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("region %+v outside %v", r, h.img.Bounds())
	}
	if h.failAfter > 0 && len(h.regions) >= h.failAfter {
		return errRejected
	}
	h.regions = append(h.regions, r)
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			h.img.SetNRGBA(x, y, r.Color)
		}
	}
	return nil
}

// feed pushes data through dec in chunks of at most chunk bytes, keeping the
// unconsumed tail in front of the next chunk the way the read loop does.  It
// returns the largest tail ever left over.
func feed(dec core.Decoder, data []byte, chunk int) (maxLeft int, err error) {
	var pending []byte
	for off := 0; off < len(data); off += chunk {
		pending = append(pending, data[off:min(off+chunk, len(data))]...)
		n, err := dec.Feed(pending)
		if err != nil {
			return maxLeft, err
		}
		if n < 0 || n > len(pending) {
			return maxLeft, fmt.Errorf("consumed %d of %d", n, len(pending))
		}
		pending = append(pending[:0], pending[n:]...)
		maxLeft = max(maxLeft, len(pending))
	}
	return maxLeft, nil
}

func assertPixels(t *testing.T, got *image.NRGBA, w, h int, want func(x, y int) color.NRGBA) {
	t.Helper()
	if got == nil {
		t.Fatal("no image")
	}
	if got.Bounds().Dx() != w || got.Bounds().Dy() != h {
		t.Fatalf("size: got %v, want %dx%d", got.Bounds(), w, h)
	}
	bad := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if c, exp := got.NRGBAAt(x, y), want(x, y); c != exp {
				if bad++; bad <= 5 {
					t.Errorf("pixel (%d,%d): got %v, want %v", x, y, c, exp)
				}
			}
		}
	}
	if bad > 5 {
		t.Errorf("... %d mismatched pixels in total", bad)
	}
}

// pngLayout describes a hand-built PNG.  Either pixel (byte-aligned formats) or
// rows (raw scanlines of a non-interlaced image) supplies the data.
type pngLayout struct {
	w, h      int
	depth     uint8
	colorType uint8
	interlace uint8
	pre       [][2]string // chunks between IHDR and IDAT: type, body
	pixel     func(x, y int) []byte
	rows      [][]byte
	filter    func(row int) byte // defaults to cycling through all five
	raw       []byte             // replaces the compressed IDAT payload
}

var adam7 = [7][4]int{
	{0, 0, 8, 8}, {4, 0, 8, 8}, {0, 4, 4, 8}, {2, 0, 4, 4},
	{0, 2, 2, 4}, {1, 0, 2, 2}, {0, 1, 1, 2},
}

func pngChunk(buf *bytes.Buffer, typ string, body []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(body)))
	buf.Write(n[:])
	buf.WriteString(typ)
	buf.Write(body)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(body)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	buf.Write(n[:])
}

func bytesPerPixel(s pngLayout) int {
	ch := map[uint8]int{0: 1, 2: 3, 3: 1, 4: 2, 6: 4}[s.colorType]
	return max(1, ch*int(s.depth)/8)
}

// filterLine applies PNG filter ft to cur given the previous raw line.
func filterLine(ft byte, cur, prev []byte, bpp int) []byte {
	out := make([]byte, 1+len(cur))
	out[0] = ft
	for i := range cur {
		var a, b, c int
		if i >= bpp {
			a, c = int(cur[i-bpp]), int(prev[i-bpp])
		}
		b = int(prev[i])
		var pred int
		switch ft {
		case 1:
			pred = a
		case 2:
			pred = b
		case 3:
			pred = (a + b) / 2
		case 4:
			p := a + b - c
			pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
			switch {
			case pa <= pb && pa <= pc:
				pred = a
			case pb <= pc:
				pred = b
			default:
				pred = c
			}
		}
		out[1+i] = cur[i] - uint8(pred)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func buildPNG(t testing.TB, s pngLayout) []byte {
	t.Helper()
	filter := s.filter
	if filter == nil {
		filter = func(row int) byte { return byte(row % 5) }
	}
	bpp := bytesPerPixel(s)

	var scan bytes.Buffer
	emit := func(lines [][]byte) {
		var prev []byte
		for i, line := range lines {
			if prev == nil {
				prev = make([]byte, len(line))
			}
			scan.Write(filterLine(filter(i), line, prev, bpp))
			prev = line
		}
	}
	switch {
	case s.rows != nil:
		emit(s.rows)
	case s.interlace == 0:
		var lines [][]byte
		for y := 0; y < s.h; y++ {
			var line []byte
			for x := 0; x < s.w; x++ {
				line = append(line, s.pixel(x, y)...)
			}
			lines = append(lines, line)
		}
		emit(lines)
	default:
		for _, p := range adam7 {
			var lines [][]byte
			for y := p[1]; y < s.h; y += p[3] {
				var line []byte
				for x := p[0]; x < s.w; x += p[2] {
					line = append(line, s.pixel(x, y)...)
				}
				if line != nil {
					lines = append(lines, line)
				}
			}
			emit(lines)
		}
	}

	payload := s.raw
	if payload == nil {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(scan.Bytes()); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		payload = z.Bytes()
	}

	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], uint32(s.w))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(s.h))
	ihdr[8], ihdr[9], ihdr[12] = s.depth, s.colorType, s.interlace
	pngChunk(&out, "IHDR", ihdr)
	for _, c := range s.pre {
		pngChunk(&out, c[0], []byte(c[1]))
	}
	// Split the pixel data over two IDAT chunks plus an empty one.
	half := len(payload) / 2
	pngChunk(&out, "IDAT", payload[:half])
	pngChunk(&out, "IDAT", payload[half:])
	pngChunk(&out, "IDAT", nil)
	pngChunk(&out, "IEND", nil)
	return out.Bytes()
}
