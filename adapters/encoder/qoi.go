package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
)

var qoiEndMarker = []byte{0, 0, 0, 0, 0, 0, 0, 1}

// QOI encodes images to the Quite OK Image format, always with four channels.
type QOI struct{}

func NewQOI() *QOI { return &QOI{} }

func (q *QOI) Format() string { return "qoi" }

func (q *QOI) Encode(ctx context.Context, img image.Image, _ Options) ([]byte, error) {
	if err := checkImage(ctx, "qoi.encode", img); err != nil {
		return nil, err
	}
	b := img.Bounds()

	var buf bytes.Buffer
	buf.Grow(14 + b.Dx()*b.Dy() + len(qoiEndMarker))
	buf.WriteString("qoif")
	_ = binary.Write(&buf, binary.BigEndian, uint32(b.Dx()))
	_ = binary.Write(&buf, binary.BigEndian, uint32(b.Dy()))
	buf.WriteByte(4) // channels
	buf.WriteByte(0) // sRGB with linear alpha

	var index [64]color.NRGBA
	prev := color.NRGBA{A: 255}
	run := 0
	flushRun := func() {
		if run > 0 {
			buf.WriteByte(0b11000000 | byte(run-1))
			run = 0
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if px == prev {
				run++
				if run == 62 {
					flushRun()
				}
				continue
			}
			flushRun()

			h := (int(px.R)*3 + int(px.G)*5 + int(px.B)*7 + int(px.A)*11) % 64
			switch {
			case index[h] == px:
				buf.WriteByte(byte(h))
			case px.A != prev.A:
				buf.Write([]byte{0xff, px.R, px.G, px.B, px.A})
			default:
				dr := int8(px.R - prev.R)
				dg := int8(px.G - prev.G)
				db := int8(px.B - prev.B)
				drg, dbg := dr-dg, db-dg
				switch {
				case dr >= -2 && dr <= 1 && dg >= -2 && dg <= 1 && db >= -2 && db <= 1:
					buf.WriteByte(0b01000000 | byte(dr+2)<<4 | byte(dg+2)<<2 | byte(db+2))
				case dg >= -32 && dg <= 31 && drg >= -8 && drg <= 7 && dbg >= -8 && dbg <= 7:
					buf.WriteByte(0b10000000 | byte(dg+32))
					buf.WriteByte(byte(drg+8)<<4 | byte(dbg+8))
				default:
					buf.Write([]byte{0xfe, px.R, px.G, px.B})
				}
			}
			index[h] = px
			prev = px
		}
	}
	flushRun()
	buf.Write(qoiEndMarker)
	return buf.Bytes(), nil
}
