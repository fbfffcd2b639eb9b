// Package tilekey packs quad tree tile addresses into integer keys for
// key/value tile stores.
package tilekey

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/google/hilbert"
	"github.com/paulmach/orb/maptile"
)

var ErrUnknownScheme = errors.New("rastertiles: unknown tile key scheme")

// MaxLevel is the deepest quad tree level any scheme can encode.
const MaxLevel = 29

// Scheme maps quad tree addresses to store keys. Encode reports false for
// addresses outside the grid of their level.
type Scheme interface {
	Name() string
	Encode(tileID tile.ID) (int64, bool)
	Decode(key int64) (tile.ID, bool)
}

var (
	OSMDroid Scheme = osmdroid{}
	Quadkey  Scheme = quadkey{}
	Hilbert  Scheme = pmtiles{}
)

func ByName(name string) (Scheme, error) {
	for _, s := range []Scheme{OSMDroid, Quadkey, Hilbert} {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

func inGrid(tileID tile.ID) bool {
	z := tileID.Level
	if z < 0 || z > MaxLevel {
		return false
	}
	n := 1 << z
	return tileID.Column >= 0 && tileID.Column < n && tileID.Row >= 0 && tileID.Row < n
}

// osmdroid is the key used by osmdroid sqlite tile caches:
// (z << 2z) + (x << z) + y. Columns may span two square grids, as in the
// 2x1 EPSG:4326 tile matrix.
type osmdroid struct{}

func (osmdroid) Name() string { return "osmdroid" }

func (osmdroid) Encode(tileID tile.ID) (int64, bool) {
	z := tileID.Level
	if z < 0 || z > MaxLevel || tileID.Row < 0 || tileID.Row >= 1<<z || tileID.Column < 0 || tileID.Column >= 2<<z {
		return 0, false
	}
	return int64(z)<<(2*z) + int64(tileID.Column)<<z + int64(tileID.Row), true
}

func (osmdroid) Decode(key int64) (tile.ID, bool) {
	for z := range MaxLevel + 1 {
		base := int64(z) << (2 * z)
		if key < base || key >= base+2<<(2*z) {
			continue
		}
		offset, mask := key-base, int64(1)<<z-1
		return tile.ID{Level: z, Column: int(offset >> z), Row: int(offset & mask)}, true
	}
	return tile.ID{}, false
}

// quadkey stores the zoom in the low 5 bits so keys of different levels
// never collide.
type quadkey struct{}

func (quadkey) Name() string { return "quadkey" }

func (quadkey) Encode(tileID tile.ID) (int64, bool) {
	if !inGrid(tileID) {
		return 0, false
	}
	t := maptile.New(uint32(tileID.Column), uint32(tileID.Row), maptile.Zoom(tileID.Level))
	return int64(t.Quadkey()<<5 | uint64(t.Z)), true
}

func (quadkey) Decode(key int64) (tile.ID, bool) {
	z := maptile.Zoom(key & 0x1f)
	if key < 0 || z > MaxLevel || uint64(key>>5)>>(2*z) != 0 {
		return tile.ID{}, false
	}
	t := maptile.FromQuadkey(uint64(key>>5), z)
	return tile.ID{Level: int(t.Z), Column: int(t.X), Row: int(t.Y)}, true
}

// pmtiles is the PMTiles v3 tile id: tiles of all lower levels are
// counted first, then the level is walked along a Hilbert curve.
type pmtiles struct{}

func (pmtiles) Name() string { return "hilbert" }

func (pmtiles) Encode(tileID tile.ID) (int64, bool) {
	if !inGrid(tileID) {
		return 0, false
	}
	h, err := hilbert.NewHilbert(1 << tileID.Level)
	if err != nil {
		return 0, false
	}
	tileCode, err := h.MapInverse(tileID.Column, tileID.Row)
	if err != nil {
		return 0, false
	}
	tilesCount := (1<<(tileID.Level*2) - 1) / 3
	return int64(tileCode + tilesCount), true
}

func (pmtiles) Decode(key int64) (tile.ID, bool) {
	if key < 0 {
		return tile.ID{}, false
	}
	z := (bits.Len64(3*uint64(key)+1) - 1) / 2
	if z > MaxLevel {
		return tile.ID{}, false
	}
	tilesCount := (1<<(z*2) - 1) / 3

	h, err := hilbert.NewHilbert(1 << z)
	if err != nil {
		return tile.ID{}, false
	}
	x, y, err := h.Map(int(key) - tilesCount)
	if err != nil {
		return tile.ID{}, false
	}
	return tile.ID{Level: z, Column: x, Row: y}, true
}
