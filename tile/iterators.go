package tile

import (
	"image"
	"iter"
)

// IDs returns an iterator over the tile addresses of a level in the
// inclusive column/row range [min, max], row by row.
func IDs(level int, min, max image.Point) iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for row := min.Y; row <= max.Y; row++ {
			for column := min.X; column <= max.X; column++ {
				if !yield(ID{Level: level, Column: column, Row: row}) {
					return
				}
			}
		}
	}
}

// ReadTiles returns an iterator reading every tile in ids from r.
// Tiles without data are yielded as nil bitmaps.
func ReadTiles(r Reader, ids iter.Seq[ID]) iter.Seq2[ID, *Bitmap] {
	return func(yield func(ID, *Bitmap) bool) {
		for tileID := range ids {
			if !yield(tileID, r.ReadTile(tileID)) {
				return
			}
		}
	}
}
