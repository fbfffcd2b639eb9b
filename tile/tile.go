// Package tile provides common tile interfaces and types.
package tile

import (
	"fmt"
	"image"

	"github.com/paulmach/orb"
)

// ID addresses a tile by pyramid level, column and row.
//
// Levels are zoom-style: within a Pyramid the coarsest level is
// LevelOffset and the native resolution level is MaxLevel. Grid width
// and height double with each level step.
type ID struct {
	Level  int
	Column int
	Row    int
}

func (t ID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Level, t.Column, t.Row)
}

// NoData is the DataLevel of a bitmap that carries no source data.
const NoData = -1

// Pyramid describes the resolution levels and tile size of a reader.
type Pyramid struct {
	LevelOffset int
	MaxLevels   int
	TileWidth   int
	TileHeight  int
}

func (p Pyramid) MinLevel() int { return p.LevelOffset }
func (p Pyramid) MaxLevel() int { return p.LevelOffset + p.MaxLevels - 1 }

func (p Pyramid) Contains(level int) bool {
	return level >= p.MinLevel() && level <= p.MaxLevel()
}

// Reduction returns how many times level is halved relative to the
// native resolution level (0 at MaxLevel).
func (p Pyramid) Reduction(level int) int {
	return p.MaxLevel() - level
}

// Level is the inverse of Reduction.
func (p Pyramid) Level(reduction int) int {
	return p.MaxLevel() - reduction
}

// Reader is implemented by every tile source: single datasets, stores,
// mosaics and layered combinations.
type Reader interface {
	// ReadTile returns the bitmap for the tile, or nil if there is no data
	// at this address. Misses and decode failures are not errors.
	ReadTile(tileID ID) *Bitmap

	// TilePoint returns the column and row of the tile containing the
	// ground point at the given level.
	TilePoint(level int, ground orb.Point) image.Point

	// SourcePoint returns the ground point of the upper-left corner of
	// the tile at the given level.
	SourcePoint(level, column, row int) orb.Point

	Pyramid() Pyramid

	// Close releases the underlying decoder or database handle.
	// The Reader must not be used afterwards.
	Close() error
}
