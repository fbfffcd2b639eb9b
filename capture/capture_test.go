package capture_test

import (
	"context"
	"testing"

	"github.com/eak1mov/go-rastertiles/capture"
	"github.com/eak1mov/go-rastertiles/dataset"
	"github.com/eak1mov/go-rastertiles/internal/testraster"
	"github.com/eak1mov/go-rastertiles/multilayer"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func corners(minLon, minLat, maxLon, maxLat float64) [4]orb.Point {
	return [4]orb.Point{{minLon, maxLat}, {maxLon, maxLat}, {maxLon, minLat}, {minLon, minLat}}
}

// newGrid returns a 1024x1024 dataset over lon/lat [0,4]x[0,4]. At level 2
// every tile spans one degree: column floor(lon), row floor(4-lat).
func newGrid(t *testing.T, opts ...capture.Option) (*capture.Capture, *testraster.Decoder) {
	t.Helper()
	dec := testraster.NewDecoder(1024, 1024)
	ds, err := dataset.New(proj.WGS84, corners(0, 0, 4, 4), dec)
	require.NoError(t, err)
	return capture.New(ds, proj.EPSG4326, 10, opts...), dec
}

func ids(level int, colRows ...[2]int) []tile.ID {
	var out []tile.ID
	for _, cr := range colRows {
		out = append(out, tile.ID{Level: level, Column: cr[0], Row: cr[1]})
	}
	return out
}

var box = []orb.Point{{0.5, 3.5}, {2.5, 3.5}, {2.5, 1.5}, {0.5, 1.5}}

func TestLevel(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()
	require.Equal(t, 2, c.Pyramid().MaxLevel())

	for _, tc := range []struct {
		params capture.Params
		want   int
	}{
		{capture.Params{Level: capture.AutoLevel, MapResolution: 10, CaptureResolution: 1}, 1},
		{capture.Params{Level: capture.AutoLevel, MapResolution: 5, CaptureResolution: 1}, 2},
		{capture.Params{Level: capture.AutoLevel, MapResolution: 80, CaptureResolution: 1}, 0},
		{capture.Params{Level: capture.AutoLevel, MapResolution: 80, CaptureResolution: 8}, 1},
		{capture.Params{Level: 2, MapResolution: 80, CaptureResolution: 1}, 2},
	} {
		if got := c.Level(tc.params); got != tc.want {
			t.Errorf("Level(%+v) = %d, want %d", tc.params, got, tc.want)
		}
	}

	exact, _ := newGrid(t, capture.WithLevelTransition(0))
	defer exact.Close()
	require.Equal(t, 2, exact.Level(capture.Params{Level: capture.AutoLevel, MapResolution: 10, CaptureResolution: 1}))
	require.Equal(t, 1, exact.Level(capture.Params{Level: capture.AutoLevel, MapResolution: 20, CaptureResolution: 1}))
}

func TestTiles(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()

	for _, tc := range []struct {
		name   string
		points []orb.Point
		closed bool
		want   []tile.ID
	}{
		{
			name:   "polygon",
			points: box,
			closed: true,
			want: ids(2, [2]int{0, 0}, [2]int{1, 0}, [2]int{2, 0}, [2]int{0, 1}, [2]int{1, 1},
				[2]int{2, 1}, [2]int{0, 2}, [2]int{1, 2}, [2]int{2, 2}),
		},
		{
			name:   "polyline",
			points: box,
			want: ids(2, [2]int{0, 0}, [2]int{1, 0}, [2]int{2, 0}, [2]int{2, 1},
				[2]int{0, 2}, [2]int{1, 2}, [2]int{2, 2}),
		},
		{
			name:   "diagonal",
			points: []orb.Point{{0.2, 3.5}, {3.8, 0.9}},
			want: ids(2, [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 1}, [2]int{2, 1},
				[2]int{2, 2}, [2]int{3, 2}, [2]int{3, 3}),
		},
		{
			name:   "inside one tile",
			points: []orb.Point{{1.2, 2.8}, {1.4, 2.6}, {1.3, 2.2}},
			closed: true,
			want:   ids(2, [2]int{1, 1}),
		},
	} {
		if diff := cmp.Diff(tc.want, c.Tiles(2, tc.points, tc.closed)); diff != "" {
			t.Errorf("Tiles(%s) mismatch (-want+got):\n%v", tc.name, diff)
		}
	}
}

type recorder struct {
	start      [5]int
	tiles      []*tile.Bitmap
	positions  [][2]int
	stopAfter  int
	onTile     func()
	startAllow bool
}

func (r *recorder) Start(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool {
	r.start = [5]int{numTiles, tileWidth, tileHeight, fullWidth, fullHeight}
	return r.startAllow
}

func (r *recorder) Tile(b *tile.Bitmap, index, column, row int) bool {
	r.tiles = append(r.tiles, b)
	r.positions = append(r.positions, [2]int{column, row})
	if r.onTile != nil {
		r.onTile()
	}
	return r.stopAfter == 0 || len(r.tiles) < r.stopAfter
}

func TestRun(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()
	params := capture.Params{Level: 2, Points: box}

	rec := &recorder{startAllow: true}
	require.NoError(t, c.Run(context.Background(), params, rec))
	require.Equal(t, [5]int{7, 256, 256, 768, 768}, rec.start)
	require.Equal(t, [][2]int{{0, 0}, {1, 0}, {2, 0}, {2, 1}, {0, 2}, {1, 2}, {2, 2}}, rec.positions)
	for i, b := range rec.tiles {
		require.NotNil(t, b, "tile %d", i)
		require.Equal(t, 2, b.DataLevel)
	}
	require.Equal(t, testraster.Pattern(2*256, 2*256), rec.tiles[6].PixelAt(0, 0))

	rec = &recorder{startAllow: false}
	require.NoError(t, c.Run(context.Background(), params, rec))
	require.Empty(t, rec.tiles)

	rec = &recorder{startAllow: true, stopAfter: 2}
	require.NoError(t, c.Run(context.Background(), params, rec))
	require.Len(t, rec.tiles, 2)

	ctx, cancel := context.WithCancel(context.Background())
	rec = &recorder{startAllow: true, onTile: cancel}
	require.ErrorIs(t, c.Run(ctx, params, rec), context.Canceled)
	require.Len(t, rec.tiles, 1)

	require.ErrorIs(t, c.Run(context.Background(), capture.Params{}, rec), capture.ErrNoPoints)
}

func TestRunLevelOutsidePyramid(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()

	rec := &recorder{startAllow: true}
	for _, level := range []int{3, 9} {
		params := capture.Params{Level: level, Points: box}
		require.ErrorIs(t, c.Run(context.Background(), params, rec), capture.ErrInvalidLevel)
		_, err := c.Bounds(params)
		require.ErrorIs(t, err, capture.ErrInvalidLevel)
	}
	require.Empty(t, rec.tiles)

	// One level past the native one halves the tile span.
	require.Equal(t, ids(3, [2]int{0, 0}, [2]int{1, 0}), c.Tiles(3, []orb.Point{{0.3, 3.7}, {0.7, 3.7}}, false))
}

func TestRunMissingTiles(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()

	rec := &recorder{startAllow: true}
	params := capture.Params{Level: 2, Points: []orb.Point{{3.5, 0.5}, {4.5, 0.5}}}
	require.NoError(t, c.Run(context.Background(), params, rec))
	require.Equal(t, [][2]int{{0, 0}, {1, 0}}, rec.positions)
	require.NotNil(t, rec.tiles[0])
	require.Nil(t, rec.tiles[1])
}

func TestRunAntimeridian(t *testing.T) {
	dec := testraster.NewDecoder(2048, 1024)
	ds, err := dataset.New(proj.WGS84, corners(-180, -90, 180, 90), dec)
	require.NoError(t, err)
	c := capture.FromDataset(ds)
	defer c.Close()
	require.Equal(t, 3, c.Pyramid().MaxLevel())

	rec := &recorder{startAllow: true}
	params := capture.Params{Level: 3, Points: []orb.Point{{170, 10}, {190, 10}}}
	require.NoError(t, c.Run(context.Background(), params, rec))
	require.Equal(t, [][2]int{{0, 0}, {1, 0}}, rec.positions)
	require.Len(t, rec.tiles, 2)
	require.Equal(t, tile.ID{Level: 3, Column: 7, Row: 1}, rec.tiles[0].ID)
	require.Equal(t, tile.ID{Level: 3, Column: 0, Row: 1}, rec.tiles[1].ID)
}

func TestBounds(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()

	b, err := c.Bounds(capture.Params{Level: 2, Points: box})
	require.NoError(t, err)
	require.Equal(t, 2, b.Level)
	require.Equal(t, [4]int{0, 0, 3, 3}, [4]int{b.Tiles.Min.X, b.Tiles.Min.Y, b.Tiles.Max.X, b.Tiles.Max.Y})
	require.Equal(t, orb.Bound{Min: orb.Point{0, 1}, Max: orb.Point{3, 4}}, b.Ground)
	require.Equal(t, b.Ground, b.Geo)
	require.Equal(t, [2]int{768, 768}, [2]int{b.ImageWidth, b.ImageHeight})
	require.True(t, b.TileToPixel.IsIdentity())

	b, err = c.Bounds(capture.Params{Level: 2, Points: box, FitToQuad: true, FitAspect: 1})
	require.NoError(t, err)
	require.Equal(t, [2]int{768, 768}, [2]int{b.ImageWidth, b.ImageHeight})
	for _, tc := range [][2]orb.Point{
		{{128, 128}, {0, 0}},
		{{640, 128}, {768, 0}},
		{{640, 640}, {768, 768}},
		{{128, 640}, {0, 768}},
	} {
		got := b.TileToPixel.Apply(tc[0])
		require.InDelta(t, tc[1][0], got[0], 1e-6)
		require.InDelta(t, tc[1][1], got[1], 1e-6)
	}

	b, err = c.Bounds(capture.Params{Level: 2, Points: box, FitToQuad: true, FitAspect: 2, MinImageSize: 1536})
	require.NoError(t, err)
	require.Equal(t, [2]int{3072, 1536}, [2]int{b.ImageWidth, b.ImageHeight})
	got := b.TileToPixel.Apply(orb.Point{640, 640})
	require.InDelta(t, 3072, got[0], 1e-6)
	require.InDelta(t, 1536, got[1], 1e-6)
	require.Equal(t, [2]int{768, 768}, [2]int{b.TileImageWidth, b.TileImageHeight})

	_, err = c.Bounds(capture.Params{})
	require.ErrorIs(t, err, capture.ErrNoPoints)
}

func TestTooSmall(t *testing.T) {
	c, _ := newGrid(t)
	defer c.Close()

	query := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	require.False(t, c.TooSmall(corners(0, 0, 4, 4), query))
	require.False(t, c.TooSmall(corners(0, 0, 0.5, 0.5), query))
	require.True(t, c.TooSmall(corners(0, 0, 0.05, 1), query))
	require.True(t, c.TooSmall(corners(0, 0, 1, 0.05), query))
}

func TestCombine(t *testing.T) {
	a, _ := newGrid(t)
	b, _ := newGrid(t)
	odd, oddDec := newGrid(t, capture.WithLevelTransition(0))

	require.True(t, capture.Compatible(a, b))
	require.False(t, capture.Compatible(a, odd))

	c, err := capture.Combine([]*capture.Capture{a, odd, b})
	require.NoError(t, err)
	defer c.Close()
	require.True(t, oddDec.Closed())
	require.IsType(t, &multilayer.Reader{}, c.Reader())
	require.True(t, capture.Compatible(a, c))

	got := c.ReadTile(tile.ID{Level: 2, Column: 1, Row: 1})
	require.NotNil(t, got)
	require.Equal(t, testraster.Pattern(256, 256), got.PixelAt(0, 0))

	single, _ := newGrid(t)
	only, err := capture.Combine([]*capture.Capture{single})
	require.NoError(t, err)
	require.Same(t, single, only)
	only.Close()

	_, err = capture.Combine(nil)
	require.ErrorIs(t, err, multilayer.ErrIncompatible)
}

func TestComputeGSD(t *testing.T) {
	ul, ur, lr, ll := orb.Point{0, 1}, orb.Point{1, 1}, orb.Point{1, 0}, orb.Point{0, 0}
	require.Equal(t, proj.GSD(512, 512, ul, ur, lr, ll), capture.ComputeGSD(512, 512, ul, ur, lr, ll))

	c, _ := newGrid(t)
	defer c.Close()
	quad := [4]orb.Point{ul, ur, lr, ll}
	// One degree at 1112 pixels is about 100 m per pixel; a 10 m dataset
	// needs 3.3 levels of reduction plus the transition bias.
	require.Equal(t, 0, c.LevelForQuad(quad, 1112, 1))
	require.Equal(t, 2, c.LevelForQuad(quad, 1112, 20))
}
