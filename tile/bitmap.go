package tile

import (
	"image"
	"image/color"
)

// Bitmap is a decoded tile in canonical format: one packed 0xAARRGGBB
// value per pixel, row-major, non-premultiplied.
//
// A Bitmap is immutable once returned by a Reader.
type Bitmap struct {
	ID ID
	// DataLevel is the level of the source data the pixels were derived
	// from; lower than ID.Level for tiles synthesized by upsampling.
	DataLevel int
	Width     int
	Height    int
	Pix       []uint32
}

// NewBitmap allocates a transparent bitmap whose data level equals the
// tile level.
func NewBitmap(tileID ID, width, height int) *Bitmap {
	return &Bitmap{
		ID:        tileID,
		DataLevel: tileID.Level,
		Width:     width,
		Height:    height,
		Pix:       make([]uint32, width*height),
	}
}

func (b *Bitmap) PixelAt(x, y int) uint32 {
	return b.Pix[y*b.Width+x]
}

func (b *Bitmap) ColorModel() color.Model { return color.NRGBAModel }

func (b *Bitmap) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

func (b *Bitmap) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.NRGBA{}
	}
	p := b.Pix[y*b.Width+x]
	return color.NRGBA{R: uint8(p >> 16), G: uint8(p >> 8), B: uint8(p), A: uint8(p >> 24)}
}

// NRGBA copies the bitmap into a new image for use with image/draw.
func (b *Bitmap) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(b.Bounds())
	for i, p := range b.Pix {
		j := 4 * i
		img.Pix[j] = uint8(p >> 16)
		img.Pix[j+1] = uint8(p >> 8)
		img.Pix[j+2] = uint8(p)
		img.Pix[j+3] = uint8(p >> 24)
	}
	return img
}

// FromNRGBA converts img into a bitmap addressed as tileID.
func FromNRGBA(tileID ID, img *image.NRGBA) *Bitmap {
	r := img.Bounds()
	b := NewBitmap(tileID, r.Dx(), r.Dy())
	for y := range b.Height {
		row := img.Pix[y*img.Stride : y*img.Stride+4*b.Width]
		for x := range b.Width {
			j := 4 * x
			b.Pix[y*b.Width+x] = uint32(row[j+3])<<24 | uint32(row[j])<<16 | uint32(row[j+1])<<8 | uint32(row[j+2])
		}
	}
	return b
}

// FromImage converts any image into a bitmap addressed as tileID.
func FromImage(tileID ID, img image.Image) *Bitmap {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return FromNRGBA(tileID, nrgba)
	}
	r := img.Bounds()
	b := NewBitmap(tileID, r.Dx(), r.Dy())
	for y := range b.Height {
		for x := range b.Width {
			c := color.NRGBAModel.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA)
			b.Pix[y*b.Width+x] = uint32(c.A)<<24 | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
		}
	}
	return b
}
