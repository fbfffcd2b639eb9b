package capture

import (
	"image"
	"math"

	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Tiles returns the tiles at level touched by the polyline, or polygon
// when closed, through the geodetic points, in row-major order.
func (c *Capture) Tiles(level int, points []orb.Point, closed bool) []tile.ID {
	if len(points) == 0 {
		return nil
	}
	tiles, _, _ := c.cover(level, c.forward(points), closed)
	return tiles
}

func (c *Capture) cover(level int, ground []orb.Point, closed bool) (tiles []tile.ID, minTile, maxTile image.Point) {
	minTile = image.Pt(math.MaxInt, math.MaxInt)
	maxTile = image.Pt(math.MinInt, math.MinInt)
	for _, g := range ground {
		p := c.reader.TilePoint(level, g)
		minTile = image.Pt(min(minTile.X, p.X), min(minTile.Y, p.Y))
		maxTile = image.Pt(max(maxTile.X, p.X), max(maxTile.Y, p.Y))
	}

	shape := orb.Ring(append(ground[:len(ground):len(ground)], ground[0]))
	last := len(ground) - 1
	for tileID := range tile.IDs(level, minTile, maxTile) {
		column, row := tileID.Column, tileID.Row
		quad := orb.Ring{
			c.reader.SourcePoint(level, column, row),
			c.reader.SourcePoint(level, column+1, row),
			c.reader.SourcePoint(level, column+1, row+1),
			c.reader.SourcePoint(level, column, row+1),
		}
		quad = append(quad, quad[0])

		add := planar.RingContains(quad, ground[0])
	edges:
		for i := 0; !add && i < 4; i++ {
			for j := range ground {
				if !closed && j == last {
					break
				}
				if segmentsIntersect(quad[i], quad[i+1], ground[j], shape[j+1]) {
					add = true
					break edges
				}
			}
		}
		if !add && closed {
			add = planar.RingContains(shape, quad[0])
		}
		if add {
			tiles = append(tiles, tileID)
		}
	}

	if len(tiles) == 0 && minTile == maxTile {
		tiles = append(tiles, tile.ID{Level: level, Column: minTile.X, Row: minTile.Y})
	}
	return tiles, minTile, maxTile
}

// segmentsIntersect reports whether segments ab and cd share a point.
// Parallel segments never intersect.
func segmentsIntersect(a, b, c, d orb.Point) bool {
	r := orb.Point{b[0] - a[0], b[1] - a[1]}
	s := orb.Point{d[0] - c[0], d[1] - c[1]}
	denom := cross(r, s)
	if denom == 0 {
		return false
	}
	ac := orb.Point{c[0] - a[0], c[1] - a[1]}
	t := cross(ac, s) / denom
	u := cross(ac, r) / denom
	return t >= 0 && t <= 1 && u >= 0 && u <= 1
}

func cross(p, q orb.Point) float64 {
	return p[0]*q[1] - p[1]*q[0]
}
