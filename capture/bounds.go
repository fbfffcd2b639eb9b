package capture

import (
	"image"
	"math"

	"github.com/eak1mov/go-rastertiles/geom"
	"github.com/paulmach/orb"
)

// Bounds is the tile-aligned extent of a capture.
type Bounds struct {
	Level int
	// Tiles is the tile range at Level, max exclusive.
	Tiles image.Rectangle
	// Ground is the projected extent of Tiles, Geo its geodetic extent.
	Ground orb.Bound
	Geo    orb.Bound

	// TileImageWidth and TileImageHeight are the dimensions of the
	// stitched tiles, ImageWidth and ImageHeight those of the output
	// image after fitting.
	TileImageWidth  int
	TileImageHeight int
	ImageWidth      int
	ImageHeight     int

	// TileToPixel maps stitched tile pixels to output image pixels. It is
	// the identity unless the capture is fitted to a quad.
	TileToPixel geom.Matrix
}

// Bounds returns the tile-aligned extent of p.
func (c *Capture) Bounds(p Params) (Bounds, error) {
	if len(p.Points) == 0 {
		return Bounds{}, ErrNoPoints
	}
	level, err := c.checkedLevel(p)
	if err != nil {
		return Bounds{}, err
	}
	pyr := c.Pyramid()

	src := c.forward(p.Points)
	extent := orb.MultiPoint(src).Bound()
	corners := [4]orb.Point{
		{extent.Min[0], extent.Max[1]},
		extent.Max,
		{extent.Max[0], extent.Min[1]},
		extent.Min,
	}

	b := Bounds{Level: level, TileToPixel: geom.Identity}
	var dst [4]orb.Point
	for i, corner := range corners {
		t := c.reader.TilePoint(level, corner)
		if i == 1 || i == 2 {
			t.X++
		}
		if i == 2 || i == 3 {
			t.Y++
		}
		if i == 0 {
			b.Tiles = image.Rectangle{Min: t, Max: t}
		} else {
			b.Tiles = image.Rectangle{
				Min: image.Pt(min(b.Tiles.Min.X, t.X), min(b.Tiles.Min.Y, t.Y)),
				Max: image.Pt(max(b.Tiles.Max.X, t.X), max(b.Tiles.Max.Y, t.Y)),
			}
		}
		dst[i] = c.reader.SourcePoint(level, t.X, t.Y)
	}
	b.Ground = orb.MultiPoint(dst[:]).Bound()
	geo := make([]orb.Point, len(dst))
	for i, d := range dst {
		geo[i] = c.proj.Inverse(d)
	}
	b.Geo = orb.MultiPoint(geo).Bound()

	b.TileImageWidth = b.Tiles.Dx() * pyr.TileWidth
	b.TileImageHeight = b.Tiles.Dy() * pyr.TileHeight
	b.ImageWidth, b.ImageHeight = b.TileImageWidth, b.TileImageHeight

	if !p.FitToQuad || len(src) != 4 {
		return b, nil
	}

	// Image space of the stitched tiles: origin at the upper-left tile
	// corner, y down.
	origin := dst[0]
	toImage := func(g orb.Point) orb.Point { return orb.Point{g[0] - origin[0], origin[1] - g[1]} }
	var quadSrc, quadDst [4]orb.Point
	for i := range 4 {
		quadSrc[i], quadDst[i] = toImage(src[i]), toImage(dst[i])
	}

	mapWidth := math.Abs(quadDst[0][0] - quadDst[1][0])
	mapHeight := math.Abs(quadDst[1][1] - quadDst[2][1])
	sx := float64(b.ImageWidth) / mapWidth
	sy := float64(b.ImageHeight) / mapHeight

	aspect := 1.0
	if p.FitAspect > 0 {
		aspect = p.FitAspect / (float64(b.ImageWidth) / float64(b.ImageHeight))
	}
	b.ImageWidth = int(math.Round(float64(b.ImageWidth) * aspect))

	upscale := 1.0
	if minor := min(b.ImageWidth, b.ImageHeight); minor < p.MinImageSize {
		upscale = float64(p.MinImageSize) / float64(minor)
		b.ImageWidth = int(math.Round(float64(b.ImageWidth) * upscale))
		b.ImageHeight = int(math.Round(float64(b.ImageHeight) * upscale))
	}

	for i := range 4 {
		quadSrc[i] = orb.Point{quadSrc[i][0] * sx, quadSrc[i][1] * sy}
		quadDst[i] = orb.Point{quadDst[i][0] * sx * aspect * upscale, quadDst[i][1] * sy * upscale}
	}
	m, err := geom.PolyToPoly(quadSrc, quadDst)
	if err != nil {
		return Bounds{}, err
	}
	b.TileToPixel = m
	return b, nil
}
