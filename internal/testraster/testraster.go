// Package testraster provides synthetic rasters and tile sources for tests.
package testraster

import (
	"bytes"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/eak1mov/go-rastertiles/pixel"
	"github.com/eak1mov/go-rastertiles/tile"
)

// Pattern returns a distinct opaque color for every pixel of a raster up
// to 4096x4096.
func Pattern(x, y int) uint32 {
	return pixel.Pack(0xFF, uint8(x), uint8(y), uint8(x>>8)<<4|uint8(y>>8)&0x0F)
}

// Decoder is an in-memory raster decoder. Reads sample with nearest
// neighbor from a pixel function.
type Decoder struct {
	W, H  int
	Fmt   pixel.Format
	Pixel func(x, y int) uint32
	Err   error

	Reads  atomic.Int64
	closed atomic.Bool
}

// NewDecoder returns an RGB decoder painted with Pattern.
func NewDecoder(width, height int) *Decoder {
	return &Decoder{W: width, H: height, Fmt: pixel.RGB, Pixel: Pattern}
}

func (d *Decoder) Width() int           { return d.W }
func (d *Decoder) Height() int          { return d.H }
func (d *Decoder) Format() pixel.Format { return d.Fmt }
func (d *Decoder) Closed() bool         { return d.closed.Load() }

func (d *Decoder) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Decoder) Read(x, y, srcW, srcH, dstW, dstH int) ([]byte, error) {
	d.Reads.Add(1)
	if d.Err != nil {
		return nil, d.Err
	}
	stride := d.Fmt.Stride()
	out := make([]byte, 0, dstW*dstH*stride)
	for j := range dstH {
		for i := range dstW {
			sx := x + i*srcW/dstW
			sy := y + j*srcH/dstH
			a, r, g, b := pixel.Unpack(d.Pixel(sx, sy))
			switch d.Fmt {
			case pixel.Monochrome:
				out = append(out, r)
			case pixel.MonochromeAlpha:
				out = append(out, r, a)
			case pixel.RGB:
				out = append(out, r, g, b)
			case pixel.RGBA:
				out = append(out, r, g, b, a)
			case pixel.ARGB:
				out = append(out, a, r, g, b)
			}
		}
	}
	return out, nil
}

// Uniform returns a bitmap filled with a single color.
func Uniform(tileID tile.ID, width, height int, argb uint32) *tile.Bitmap {
	b := tile.NewBitmap(tileID, width, height)
	for i := range b.Pix {
		b.Pix[i] = argb
	}
	return b
}

// Painted returns a bitmap filled with Pattern.
func Painted(tileID tile.ID, width, height int) *tile.Bitmap {
	b := tile.NewBitmap(tileID, width, height)
	for y := range height {
		for x := range width {
			b.Pix[y*width+x] = Pattern(x, y)
		}
	}
	return b
}

// EncodePNG encodes b as PNG.
func EncodePNG(t testing.TB, b *tile.Bitmap) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.NRGBA()); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// DecodePNG decodes data into a bitmap addressed as tileID.
func DecodePNG(t testing.TB, tileID tile.ID, data []byte) *tile.Bitmap {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return tile.FromImage(tileID, img)
}
