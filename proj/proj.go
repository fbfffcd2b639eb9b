// Package proj provides the ground projections used to place source
// rasters and tile grids in a common planar space.
package proj

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/project"
)

var ErrUnsupportedSRID = errors.New("rastertiles: unsupported srid")

// Projection maps geodetic points (lon, lat) to planar ground points
// (x east, y north) and back.
type Projection interface {
	SRID() int
	Forward(lonlat orb.Point) orb.Point
	Inverse(ground orb.Point) orb.Point
	// Bounds returns the projected extent of the whole world.
	Bounds() orb.Bound
}

const (
	WGS84          = 4326
	WebMercator    = 3857
	GoogleMercator = 900913
	// WGS84Flat is the equirectangular variant used by some tile caches.
	WGS84Flat      = 90094326
)

// MaxMercatorLatitude is the latitude where the web mercator extent is square.
const MaxMercatorLatitude = 85.0511287798066

var mercatorExtent = project.WGS84.ToMercator(orb.Point{180, 0})[0]

type equirectangular struct{ srid int }

func (p equirectangular) SRID() int                          { return p.srid }
func (p equirectangular) Forward(lonlat orb.Point) orb.Point { return lonlat }
func (p equirectangular) Inverse(ground orb.Point) orb.Point { return ground }
func (p equirectangular) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
}

type mercator struct{ srid int }

func (p mercator) SRID() int { return p.srid }

func (p mercator) Forward(lonlat orb.Point) orb.Point {
	lat := math.Max(-MaxMercatorLatitude, math.Min(MaxMercatorLatitude, lonlat[1]))
	return project.WGS84.ToMercator(orb.Point{lonlat[0], lat})
}

func (p mercator) Inverse(ground orb.Point) orb.Point {
	return project.Mercator.ToWGS84(ground)
}

func (p mercator) Bounds() orb.Bound {
	return orb.Bound{
		Min: orb.Point{-mercatorExtent, -mercatorExtent},
		Max: orb.Point{mercatorExtent, mercatorExtent},
	}
}

var (
	EPSG4326 Projection = equirectangular{srid: WGS84}
	EPSG3857 Projection = mercator{srid: WebMercator}
)

// ForSRID returns the projection for srid. UTM zones are served in web
// mercator.
func ForSRID(srid int) (Projection, error) {
	switch {
	case srid == WGS84:
		return EPSG4326, nil
	case srid == WGS84Flat:
		return equirectangular{srid: WGS84Flat}, nil
	case srid == WebMercator:
		return EPSG3857, nil
	case srid == GoogleMercator:
		return mercator{srid: GoogleMercator}, nil
	case IsUTM(srid):
		return EPSG3857, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedSRID, srid)
}

// IsUTM reports whether srid is a WGS84 UTM zone (north or south).
func IsUTM(srid int) bool {
	return (srid >= 32601 && srid <= 32660) || (srid >= 32701 && srid <= 32760)
}

// IsWorld reports whether projection p spans the full longitude range, so
// that tile columns wrap around the antimeridian.
func IsWorld(p Projection) bool {
	switch p.SRID() {
	case WGS84, WebMercator, GoogleMercator, WGS84Flat:
		return true
	}
	return false
}

// UpperLeft returns the origin of tile grids in projection p.
func UpperLeft(p Projection) orb.Point {
	b := p.Bounds()
	return orb.Point{b.Min[0], b.Max[1]}
}

// GSD returns the ground sample distance in meters per pixel of a
// width x height raster with the given geodetic corners: the geometric
// mean of the resolutions along its two diagonals.
func GSD(width, height int, ul, ur, lr, ll orb.Point) float64 {
	diag := math.Hypot(float64(width), float64(height))
	return math.Sqrt((geo.DistanceHaversine(ul, lr) / diag) * (geo.DistanceHaversine(ur, ll) / diag))
}
