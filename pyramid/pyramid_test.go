package pyramid_test

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/eak1mov/go-rastertiles/internal/testraster"
	"github.com/eak1mov/go-rastertiles/pyramid"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
)

const tileSize int = 4

// gridSource places native pixels directly in ground space, y north.
type gridSource struct {
	maxLevel int
	tiles    map[tile.ID]*tile.Bitmap
	errs     map[tile.ID]error
	fetches  int
}

func (s *gridSource) span(level int) float64 {
	return float64(tileSize << (s.maxLevel - level))
}

func (s *gridSource) FetchTile(level, column, row int) (*tile.Bitmap, error) {
	s.fetches++
	tileID := tile.ID{Level: level, Column: column, Row: row}
	if err := s.errs[tileID]; err != nil {
		return nil, err
	}
	return s.tiles[tileID], nil
}

func (s *gridSource) TilePoint(level int, ground orb.Point) image.Point {
	span := s.span(level)
	return image.Pt(int(math.Floor(ground[0]/span)), int(math.Floor(-ground[1]/span)))
}

func (s *gridSource) SourcePoint(level, column, row int) orb.Point {
	span := s.span(level)
	return orb.Point{float64(column) * span, -float64(row) * span}
}

func newReader(src *gridSource, opts ...pyramid.Option) *pyramid.Reader {
	p := tile.Pyramid{LevelOffset: 0, MaxLevels: src.maxLevel + 1, TileWidth: tileSize, TileHeight: tileSize}
	return pyramid.New(src, p, opts...)
}

func TestReadTileNative(t *testing.T) {
	tileID := tile.ID{Level: 2, Column: 1, Row: 3}
	want := testraster.Painted(tileID, tileSize, tileSize)
	src := &gridSource{maxLevel: 2, tiles: map[tile.ID]*tile.Bitmap{tileID: want}}

	got := newReader(src).ReadTile(tileID)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadTile mismatch (-want+got):\n%v", diff)
	}
}

func TestReadTileFallback(t *testing.T) {
	parentID := tile.ID{Level: 1, Column: 0, Row: 0}
	parent := testraster.Painted(parentID, tileSize, tileSize)
	src := &gridSource{maxLevel: 2, tiles: map[tile.ID]*tile.Bitmap{parentID: parent}}
	r := newReader(src)

	tileID := tile.ID{Level: 2, Column: 1, Row: 1}
	got := r.ReadTile(tileID)
	if got == nil {
		t.Fatalf("ReadTile(%v) = nil", tileID)
	}
	if got.ID != tileID || got.DataLevel != 1 {
		t.Errorf("ReadTile tags = %v/%d, want %v/%d", got.ID, got.DataLevel, tileID, 1)
	}
	if got.Width != tileSize || got.Height != tileSize {
		t.Fatalf("ReadTile size = %dx%d", got.Width, got.Height)
	}
	// Lower-right quadrant of the parent, each pixel doubled.
	for y := range tileSize {
		for x := range tileSize {
			want := parent.PixelAt(tileSize/2+x/2, tileSize/2+y/2)
			if p := got.PixelAt(x, y); p != want {
				t.Errorf("pixel(%d,%d) = %#08x, want %#08x", x, y, p, want)
			}
		}
	}

	upperRight := r.ReadTile(tile.ID{Level: 2, Column: 1, Row: 0})
	if got, want := upperRight.PixelAt(0, 0), parent.PixelAt(tileSize/2, 0); got != want {
		t.Errorf("upper right pixel(0,0) = %#08x, want %#08x", got, want)
	}
}

func TestReadTileFallbackTwoLevels(t *testing.T) {
	rootID := tile.ID{Level: 0, Column: 0, Row: 0}
	src := &gridSource{maxLevel: 2, tiles: map[tile.ID]*tile.Bitmap{
		rootID: testraster.Uniform(rootID, tileSize, tileSize, 0xFF336699),
	}}

	got := newReader(src).ReadTile(tile.ID{Level: 2, Column: 3, Row: 2})
	if got == nil {
		t.Fatalf("ReadTile = nil")
	}
	if got.DataLevel != 0 {
		t.Errorf("DataLevel = %d, want 0", got.DataLevel)
	}
	want := testraster.Uniform(tile.ID{Level: 2, Column: 3, Row: 2}, tileSize, tileSize, 0xFF336699)
	if diff := cmp.Diff(want.Pix, got.Pix); diff != "" {
		t.Errorf("pixels mismatch (-want+got):\n%v", diff)
	}
}

func TestReadTileMissing(t *testing.T) {
	src := &gridSource{maxLevel: 2}
	r := newReader(src)

	if got := r.ReadTile(tile.ID{Level: 2, Column: 0, Row: 0}); got != nil {
		t.Errorf("ReadTile(empty source) = %v, want nil", got.ID)
	}
	if got, want := src.fetches, 3; got != want {
		t.Errorf("fetches = %d, want %d", got, want)
	}
	if got := r.ReadTile(tile.ID{Level: 3}); got != nil {
		t.Errorf("ReadTile(level out of range) = %v, want nil", got.ID)
	}
}

func TestReadTileEmpty(t *testing.T) {
	blackID := tile.ID{Level: 1, Column: 0, Row: 0}
	rootID := tile.ID{Level: 0, Column: 0, Row: 0}
	src := &gridSource{maxLevel: 1, tiles: map[tile.ID]*tile.Bitmap{
		blackID: testraster.Uniform(blackID, tileSize, tileSize, 0xFF000000),
		rootID:  testraster.Uniform(rootID, tileSize, tileSize, 0xFFFFFFFF),
	}}

	got := newReader(src).ReadTile(blackID)
	if got == nil || got.DataLevel != 0 || got.Pix[0] != 0xFFFFFFFF {
		t.Errorf("ReadTile(black) did not fall back to the parent: %+v", got)
	}

	keep := newReader(src, pyramid.WithEmptyFunc(func(*tile.Bitmap) bool { return false }))
	if got := keep.ReadTile(blackID); got == nil || got.DataLevel != 1 || got.Pix[0] != 0xFF000000 {
		t.Errorf("ReadTile(black) with custom predicate: %+v", got)
	}

	black := &gridSource{maxLevel: 0, tiles: map[tile.ID]*tile.Bitmap{
		rootID: testraster.Uniform(rootID, tileSize, tileSize, 0),
	}}
	if got := newReader(black).ReadTile(rootID); got != nil {
		t.Errorf("ReadTile(black at coarsest level) = %+v, want nil", got)
	}
}

func TestReadTileFetchError(t *testing.T) {
	failedID := tile.ID{Level: 1, Column: 1, Row: 1}
	rootID := tile.ID{Level: 0, Column: 0, Row: 0}
	src := &gridSource{
		maxLevel: 1,
		tiles:    map[tile.ID]*tile.Bitmap{rootID: testraster.Uniform(rootID, tileSize, tileSize, 0xFF010203)},
		errs:     map[tile.ID]error{failedID: errors.New("corrupt block")},
	}

	got := newReader(src, pyramid.WithName("test")).ReadTile(failedID)
	if got == nil || got.DataLevel != 0 {
		t.Errorf("ReadTile(failed fetch) = %+v, want fallback tile", got)
	}
}

func TestIsBlack(t *testing.T) {
	for _, tc := range []struct {
		name string
		pix  []uint32
		want bool
	}{
		{"transparent", []uint32{0, 0, 0}, true},
		{"opaque black", []uint32{0xFF000000, 0xFF000000}, true},
		{"first pixel", []uint32{0xFF000001, 0}, false},
		{"last pixel", []uint32{0, 0, 0x00010000}, false},
		{"alpha only", []uint32{0x80000000}, true},
	} {
		b := &tile.Bitmap{Width: len(tc.pix), Height: 1, Pix: tc.pix}
		if got := pyramid.IsBlack(b); got != tc.want {
			t.Errorf("IsBlack(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
