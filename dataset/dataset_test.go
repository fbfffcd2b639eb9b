package dataset_test

import (
	"errors"
	"image"
	"testing"

	"github.com/eak1mov/go-rastertiles/dataset"
	"github.com/eak1mov/go-rastertiles/internal/testraster"
	"github.com/eak1mov/go-rastertiles/pixel"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"
)

// unitSquare registers a raster north-up over lon/lat [0,1]x[0,1].
var unitSquare = [4]orb.Point{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

func TestReader512(t *testing.T) {
	dec := testraster.NewDecoder(512, 512)
	r, err := dataset.New(proj.WGS84, unitSquare, dec)
	require.NoError(t, err)
	defer r.Close()

	p := r.Pyramid()
	require.Equal(t, tile.Pyramid{LevelOffset: 0, MaxLevels: 2, TileWidth: 256, TileHeight: 256}, p)
	require.True(t, r.TileToPixel().IsIdentity())
	require.Equal(t, image.Pt(256, 256), r.Size(0))
	require.Equal(t, image.Pt(512, 512), r.Size(1))

	native := r.ReadTile(tile.ID{Level: 1, Column: 1, Row: 1})
	require.NotNil(t, native)
	require.Equal(t, 1, native.DataLevel)
	for _, pt := range []image.Point{{0, 0}, {17, 200}, {255, 255}} {
		if got, want := native.PixelAt(pt.X, pt.Y), testraster.Pattern(256+pt.X, 256+pt.Y); got != want {
			t.Errorf("native pixel %v = %#08x, want %#08x", pt, got, want)
		}
	}

	overview := r.ReadTile(tile.ID{Level: 0, Column: 0, Row: 0})
	require.NotNil(t, overview)
	for _, pt := range []image.Point{{0, 0}, {100, 3}, {255, 255}} {
		if got, want := overview.PixelAt(pt.X, pt.Y), testraster.Pattern(2*pt.X, 2*pt.Y); got != want {
			t.Errorf("overview pixel %v = %#08x, want %#08x", pt, got, want)
		}
	}

	require.Nil(t, r.ReadTile(tile.ID{Level: 1, Column: 2, Row: 0}))
	require.Nil(t, r.ReadTile(tile.ID{Level: 1, Column: -1, Row: 0}))
	require.Nil(t, r.ReadTile(tile.ID{Level: 2, Column: 0, Row: 0}))
}

func TestReaderPartialTile(t *testing.T) {
	r, err := dataset.New(proj.WGS84, unitSquare, testraster.NewDecoder(300, 200))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.Pyramid().MaxLevels)
	require.Equal(t, image.Pt(150, 100), r.Size(0))

	b, err := r.FetchTile(1, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, 256, b.Width)
	require.Equal(t, testraster.Pattern(256, 0), b.PixelAt(0, 0))
	require.Equal(t, testraster.Pattern(299, 199), b.PixelAt(43, 199))
	require.Zero(t, b.PixelAt(44, 0), "padding must be transparent")
	require.Zero(t, b.PixelAt(0, 200), "padding must be transparent")
}

func TestReaderCoordinates(t *testing.T) {
	r, err := dataset.New(proj.WGS84, unitSquare, testraster.NewDecoder(512, 512))
	require.NoError(t, err)
	defer r.Close()

	ul, lr := r.Bounds()
	require.Equal(t, orb.Point{0, 1}, ul)
	require.Equal(t, orb.Point{1, 0}, lr)

	require.Equal(t, orb.Point{0.5, 0.5}, r.SourcePoint(1, 1, 1))
	require.Equal(t, orb.Point{0, 1}, r.SourcePoint(0, 0, 0))
	require.Equal(t, image.Pt(1, 1), r.TilePoint(1, orb.Point{0.75, 0.25}))
	require.Equal(t, image.Pt(0, 0), r.TilePoint(0, orb.Point{0.75, 0.25}))

	for level := range 2 {
		for column := range 2 {
			ul := r.SourcePoint(level, column, 1)
			lr := r.SourcePoint(level, column+1, 2)
			center := orb.Point{(ul[0] + lr[0]) / 2, (ul[1] + lr[1]) / 2}
			require.Equal(t, image.Pt(column, 1), r.TilePoint(level, center))
		}
	}

	// Levels finer than the native one still address a grid.
	require.Equal(t, image.Pt(3, 3), r.TilePoint(2, orb.Point{0.75, 0.25}))
	require.Equal(t, orb.Point{0.5, 0.5}, r.SourcePoint(2, 2, 2))
	require.Equal(t, image.Pt(1024, 1024), r.Size(2))
	require.Nil(t, r.ReadTile(tile.ID{Level: 2, Column: 3, Row: 3}))
}

func TestReaderFallback(t *testing.T) {
	r, err := dataset.New(proj.WGS84, unitSquare, testraster.NewDecoder(512, 512),
		dataset.WithEmptyFunc(func(b *tile.Bitmap) bool { return b.ID.Level == 1 }))
	require.NoError(t, err)
	defer r.Close()

	b := r.ReadTile(tile.ID{Level: 1, Column: 1, Row: 1})
	require.NotNil(t, b)
	require.Equal(t, tile.ID{Level: 1, Column: 1, Row: 1}, b.ID)
	require.Equal(t, 0, b.DataLevel)
	for _, pt := range []image.Point{{0, 0}, {1, 1}, {10, 31}, {255, 254}} {
		want := testraster.Pattern(2*(128+pt.X/2), 2*(128+pt.Y/2))
		if got := b.PixelAt(pt.X, pt.Y); got != want {
			t.Errorf("pixel %v = %#08x, want %#08x", pt, got, want)
		}
	}
}

func TestReaderRotated(t *testing.T) {
	// The raster's top edge runs along the western side of the bounds.
	corners := [4]orb.Point{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	r, err := dataset.New(proj.WGS84, corners, testraster.NewDecoder(512, 512),
		dataset.WithResampler(xdraw.NearestNeighbor))
	require.NoError(t, err)
	defer r.Close()

	require.False(t, r.TileToPixel().IsIdentity())
	require.True(t, r.TileToPixel().IsAffine())

	b, err := r.FetchTile(1, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, b)
	for _, pt := range []image.Point{{0, 0}, {5, 9}, {255, 255}} {
		if got, want := b.PixelAt(pt.X, pt.Y), testraster.Pattern(511-pt.Y, pt.X); got != want {
			t.Errorf("pixel %v = %#08x, want %#08x", pt, got, want)
		}
	}

	dec := testraster.NewDecoder(512, 512)
	dec.Pixel = func(x, y int) uint32 { return 0xFF204060 }
	bilinear, err := dataset.New(proj.WGS84, corners, dec)
	require.NoError(t, err)
	defer bilinear.Close()

	b, err = bilinear.FetchTile(0, 0, 0)
	require.NoError(t, err)
	for _, pt := range []image.Point{{0, 0}, {128, 128}, {255, 0}} {
		require.Equal(t, uint32(0xFF204060), b.PixelAt(pt.X, pt.Y), "pixel %v", pt)
	}
}

func TestReaderPerspective(t *testing.T) {
	corners := [4]orb.Point{{0, 1}, {1, 1}, {0.75, 0}, {0.25, 0}}
	r, err := dataset.New(proj.WGS84, corners, testraster.NewDecoder(512, 512))
	require.NoError(t, err)
	defer r.Close()

	require.False(t, r.TileToPixel().IsAffine())

	b, err := r.FetchTile(1, 0, 1)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Zero(t, b.PixelAt(0, 255), "outside the raster")
	a, _, _, _ := pixel.Unpack(b.PixelAt(255, 0))
	require.Equal(t, uint8(0xFF), a, "inside the raster")
}

func TestReaderErrors(t *testing.T) {
	dec := testraster.NewDecoder(512, 512)

	_, err := dataset.New(proj.WGS84, unitSquare, dec, dataset.WithTileSize(100))
	require.ErrorIs(t, err, dataset.ErrInvalidTileSize)

	_, err = dataset.New(proj.WGS84, unitSquare, testraster.NewDecoder(0, 10))
	require.ErrorIs(t, err, dataset.ErrInvalidRaster)

	point := orb.Point{1, 1}
	_, err = dataset.New(proj.WGS84, [4]orb.Point{point, point, point, point}, dec)
	require.ErrorIs(t, err, dataset.ErrInvalidCorners)

	_, err = dataset.New(2154, unitSquare, dec)
	require.ErrorIs(t, err, proj.ErrUnsupportedSRID)
}

func TestReaderDecodeError(t *testing.T) {
	dec := testraster.NewDecoder(512, 512)
	dec.Err = errors.New("broken strip")
	r, err := dataset.New(proj.WGS84, unitSquare, dec)
	require.NoError(t, err)

	_, err = r.FetchTile(1, 0, 0)
	require.ErrorIs(t, err, dec.Err)
	require.Nil(t, r.ReadTile(tile.ID{Level: 1, Column: 0, Row: 0}))

	require.NoError(t, r.Close())
	require.True(t, dec.Closed())
	require.NoError(t, r.Close())
	require.Nil(t, r.ReadTile(tile.ID{Level: 1, Column: 0, Row: 0}))
}

func TestReaderTileSize(t *testing.T) {
	r, err := dataset.New(proj.WGS84, unitSquare, testraster.NewDecoder(512, 512), dataset.WithTileSize(128))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 3, r.Pyramid().MaxLevels)
	b := r.ReadTile(tile.ID{Level: 2, Column: 3, Row: 2})
	require.NotNil(t, b)
	require.Equal(t, testraster.Pattern(384, 256), b.PixelAt(0, 0))
}

func TestReaderGSD(t *testing.T) {
	r, err := dataset.New(proj.WebMercator, unitSquare, testraster.NewDecoder(512, 512))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, proj.WebMercator, r.SRID())
	require.InDelta(t, 111319.0/512, r.GSD(), 2)
}
