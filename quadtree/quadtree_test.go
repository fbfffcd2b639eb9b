package quadtree_test

import (
	"image"
	"testing"

	"github.com/eak1mov/go-rastertiles/internal/testraster"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/quadtree"
	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/eak1mov/go-rastertiles/tilekey"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

const tileSize = 8

func putTile(t *testing.T, s *store.Memory, scheme tilekey.Scheme, b *tile.Bitmap) {
	t.Helper()
	key, ok := scheme.Encode(b.ID)
	require.True(t, ok)
	require.NoError(t, s.Put(key, testraster.EncodePNG(t, b)))
}

func TestReader(t *testing.T) {
	s := store.NewMemory()
	native := testraster.Painted(tile.ID{Level: 2, Column: 1, Row: 1}, tileSize, tileSize)
	parent := testraster.Uniform(tile.ID{Level: 1, Column: 0, Row: 0}, tileSize, tileSize, 0xFF112233)
	putTile(t, s, tilekey.OSMDroid, native)
	putTile(t, s, tilekey.OSMDroid, parent)

	r, err := quadtree.New(s, quadtree.WithLevels(1, 2), quadtree.WithTileSize(tileSize))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, tile.Pyramid{LevelOffset: 1, MaxLevels: 2, TileWidth: tileSize, TileHeight: tileSize}, r.Pyramid())

	got := r.ReadTile(native.ID)
	if diff := cmp.Diff(native, got); diff != "" {
		t.Errorf("ReadTile(native) mismatch (-want+got):\n%v", diff)
	}

	fallback := r.ReadTile(tile.ID{Level: 2, Column: 0, Row: 1})
	require.NotNil(t, fallback)
	require.Equal(t, 1, fallback.DataLevel)
	require.Equal(t, uint32(0xFF112233), fallback.PixelAt(3, 3))

	require.Nil(t, r.ReadTile(tile.ID{Level: 2, Column: 3, Row: 3}))
	require.Nil(t, r.ReadTile(tile.ID{Level: 0, Column: 0, Row: 0}))
}

func TestReaderBadTiles(t *testing.T) {
	s := store.NewMemory()
	corruptKey, _ := tilekey.Quadkey.Encode(tile.ID{Level: 1, Column: 0, Row: 0})
	require.NoError(t, s.Put(corruptKey, []byte("not an image")))
	putTile(t, s, tilekey.Quadkey, testraster.Uniform(tile.ID{Level: 1, Column: 1, Row: 0}, 4, 4, 0xFFFFFFFF))
	putTile(t, s, tilekey.Quadkey, testraster.Uniform(tile.ID{Level: 0, Column: 0, Row: 0}, tileSize, tileSize, 0xFF0000FF))

	r, err := quadtree.New(s, quadtree.WithLevels(0, 1), quadtree.WithTileSize(tileSize),
		quadtree.WithKeyScheme(tilekey.Quadkey), quadtree.WithName("bad"))
	require.NoError(t, err)
	defer r.Close()

	for _, tileID := range []tile.ID{{Level: 1, Column: 0, Row: 0}, {Level: 1, Column: 1, Row: 0}} {
		b, err := r.FetchTile(tileID.Level, tileID.Column, tileID.Row)
		require.NoError(t, err)
		require.Nil(t, b, "FetchTile(%v)", tileID)

		b = r.ReadTile(tileID)
		require.NotNil(t, b)
		require.Equal(t, 0, b.DataLevel, "ReadTile(%v) must fall back", tileID)
	}
}

func TestMatrix3857(t *testing.T) {
	r, err := quadtree.New(store.NewMemory(), quadtree.WithLevels(0, 3))
	require.NoError(t, err)
	defer r.Close()

	m := r.Matrix()
	require.Len(t, m, 4)
	extent := proj.EPSG3857.Bounds().Max[0]
	require.InDelta(t, 2*extent/256, m[0].PixelSizeX, 1e-9)
	for i := 1; i < len(m); i++ {
		require.InDelta(t, m[i-1].PixelSizeX/2, m[i].PixelSizeX, 1e-9)
		require.Equal(t, i, m[i].Level)
	}

	require.InDelta(t, m[3].PixelSizeX, r.GSD(), 1e-3*m[3].PixelSizeX)
	require.Equal(t, orb.Point{-extent, extent}, r.SourcePoint(0, 0, 0))
	require.Equal(t, image.Pt(0, 0), r.TilePoint(0, orb.Point{1, 1}))
	require.Equal(t, image.Pt(1, 0), r.TilePoint(1, orb.Point{1, 1}))
	require.Equal(t, image.Pt(4, 3), r.TilePoint(3, orb.Point{1, 1}))
}

func TestMatrix4326(t *testing.T) {
	r, err := quadtree.New(store.NewMemory(), quadtree.WithSRID(proj.WGS84), quadtree.WithLevels(0, 2))
	require.NoError(t, err)
	defer r.Close()

	require.InDelta(t, 180.0/256, r.Matrix()[0].PixelSizeX, 1e-12)
	require.InDelta(t, 180.0/256, r.Matrix()[0].PixelSizeY, 1e-12)
	require.Equal(t, image.Pt(1, 0), r.TilePoint(0, orb.Point{90, 45}))
	require.Equal(t, orb.Point{0, 90}, r.SourcePoint(0, 1, 0))
	require.Equal(t, image.Pt(3, 1), r.TilePoint(1, orb.Point{179, -1}))

	_, err = quadtree.New(store.NewMemory(), quadtree.WithSRID(32633))
	require.ErrorIs(t, err, proj.ErrUnsupportedSRID)
}

func TestReaderClose(t *testing.T) {
	s := store.NewMemory()
	r, err := quadtree.New(s)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = s.Get(0)
	require.ErrorIs(t, err, store.ErrClosed)
	require.Nil(t, r.ReadTile(tile.ID{Level: 3}))
}
