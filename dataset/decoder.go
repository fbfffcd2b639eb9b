package dataset

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/eak1mov/go-rastertiles/pixel"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnknownDriver = errors.New("rastertiles: unknown raster driver")
	ErrOutOfBounds   = errors.New("rastertiles: read outside raster")
)

// Decoder reads rectangular regions of a raster, optionally resampled.
type Decoder interface {
	Width() int
	Height() int
	Format() pixel.Format
	// Read returns the srcW x srcH region at (x, y) resampled to
	// dstW x dstH, as interleaved bytes in Format().
	Read(x, y, srcW, srcH, dstW, dstH int) ([]byte, error)
	Close() error
}

// Opener opens a raster file as a Decoder.
type Opener func(path string) (Decoder, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// RegisterOpener makes a raster driver available to Open by name.
func RegisterOpener(name string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = open
}

// Open opens path with the named driver.
func Open(driver, path string) (Decoder, error) {
	openersMu.RLock()
	open, ok := openers[driver]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return open(path)
}

func init() {
	RegisterOpener("image", func(path string) (Decoder, error) {
		dec, err := OpenImage(path)
		if err != nil {
			return nil, err
		}
		return dec, nil
	})
	// Palette and classification rasters must not blend neighboring
	// values when read at reduced levels.
	RegisterOpener("image_nearest", func(path string) (Decoder, error) {
		dec, err := OpenImage(path)
		if err != nil {
			return nil, err
		}
		dec.SetScaler(xdraw.NearestNeighbor)
		return dec, nil
	})
}

// ImageDecoder serves an in-memory image as a Decoder. Grayscale images
// are read as Monochrome, everything else as RGBA.
type ImageDecoder struct {
	img    image.Image
	format pixel.Format
	scaler xdraw.Scaler
}

func NewImageDecoder(img image.Image) *ImageDecoder {
	format := pixel.RGBA
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		format = pixel.Monochrome
	}
	return &ImageDecoder{img: img, format: format, scaler: xdraw.ApproxBiLinear}
}

// OpenImage decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func OpenImage(path string) (*ImageDecoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewImageDecoder(img), nil
}

// SetScaler sets the interpolator used for reads that change size.
func (d *ImageDecoder) SetScaler(s xdraw.Scaler) { d.scaler = s }

func (d *ImageDecoder) Width() int           { return d.img.Bounds().Dx() }
func (d *ImageDecoder) Height() int          { return d.img.Bounds().Dy() }
func (d *ImageDecoder) Format() pixel.Format { return d.format }
func (d *ImageDecoder) Close() error         { return nil }

func (d *ImageDecoder) Read(x, y, srcW, srcH, dstW, dstH int) ([]byte, error) {
	bounds := d.img.Bounds()
	sr := image.Rect(x, y, x+srcW, y+srcH).Add(bounds.Min)
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 || !sr.In(bounds) {
		return nil, fmt.Errorf("%w: %v in %v", ErrOutOfBounds, sr, bounds)
	}
	dr := image.Rect(0, 0, dstW, dstH)

	if d.format == pixel.Monochrome {
		dst := image.NewGray(dr)
		d.draw(dst, sr)
		return dst.Pix, nil
	}
	dst := image.NewNRGBA(dr)
	d.draw(dst, sr)
	return dst.Pix, nil
}

func (d *ImageDecoder) draw(dst xdraw.Image, sr image.Rectangle) {
	if sr.Size() == dst.Bounds().Size() {
		xdraw.Copy(dst, image.Point{}, d.img, sr, xdraw.Src, nil)
		return
	}
	d.scaler.Scale(dst, dst.Bounds(), d.img, sr, xdraw.Src, nil)
}
