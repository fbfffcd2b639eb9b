// Package capture reads the tiles covering a region of interest, at a
// resolution chosen from the map scale, for export to a single image or
// tile cache.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"

	"github.com/eak1mov/go-rastertiles/dataset"
	"github.com/eak1mov/go-rastertiles/mosaic"
	"github.com/eak1mov/go-rastertiles/multilayer"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
)

var (
	ErrNoPoints     = errors.New("rastertiles: capture has no points")
	ErrInvalidLevel = errors.New("rastertiles: capture level outside the pyramid")
)

// AutoLevel selects the capture level from the map and capture resolution.
const AutoLevel = -1

// DefaultLevelTransition biases level selection half a level towards
// coarser data.
const DefaultLevelTransition = 0.5

// Params describes one capture request.
type Params struct {
	// Level is the pyramid level to capture, or AutoLevel.
	Level int
	// MapResolution is the map display resolution in meters per pixel.
	MapResolution float64
	// CaptureResolution is the number of output pixels per map pixel.
	CaptureResolution float64

	// Points outline the region of interest in geodetic coordinates
	// (lon, lat). Closed treats them as a polygon rather than a polyline.
	Points []orb.Point
	Closed bool

	// FitToQuad maps four points, clockwise from the upper-left, onto
	// the whole output image. FitAspect is the output width/height ratio
	// and MinImageSize the minimum of its two dimensions.
	FitToQuad    bool
	FitAspect    float64
	MinImageSize int
}

// Handler receives captured tiles. Returning false stops the capture.
type Handler interface {
	// Start is called once with the number of tiles and the tile and
	// full capture dimensions in pixels.
	Start(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool
	// Tile is called for every tile in row-major order. column and row
	// are relative to the upper-left tile of the capture. b may be nil
	// when the source has no data.
	Tile(b *tile.Bitmap, index, column, row int) bool
}

type config struct {
	levelTransition float64
	logger          *slog.Logger
}

type Option func(*config)

// WithLevelTransition sets the bias added to the ideal level reduction
// before rounding up.
func WithLevelTransition(adj float64) Option {
	return func(c *config) { c.levelTransition = adj }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Capture reads tiles from a reader whose ground space is the projected
// space of proj. It implements tile.Reader itself and owns the reader.
type Capture struct {
	reader tile.Reader
	proj   proj.Projection
	gsd    float64
	config config
}

// New creates a Capture over r. gsd is the native resolution of r in
// meters per pixel.
func New(r tile.Reader, p proj.Projection, gsd float64, opts ...Option) *Capture {
	config := config{
		levelTransition: DefaultLevelTransition,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Capture{reader: r, proj: p, gsd: gsd, config: config}
}

// FromDataset creates a Capture over a single dataset at its native GSD.
func FromDataset(ds *dataset.Reader, opts ...Option) *Capture {
	return New(ds, ds.Projection(), ds.GSD(), opts...)
}

// FromMosaic creates a Capture over a mosaic at the coarsest member GSD.
func FromMosaic(m *mosaic.Reader, opts ...Option) *Capture {
	return New(m, m.Projection(), m.MaxGSD(), opts...)
}

// Combine merges compatible captures into one capture over a multilayer
// reader. Captures incompatible with the previously accepted one are
// closed and skipped. The result uses the parameters of the first capture.
func Combine(captures []*Capture) (*Capture, error) {
	var accepted []*Capture
	for _, c := range captures {
		if len(accepted) > 0 && !Compatible(accepted[len(accepted)-1], c) {
			c.config.logger.Debug("rastertiles: skip incompatible capture layer",
				"srid", c.proj.SRID(), "gsd", c.gsd)
			c.Close()
			continue
		}
		accepted = append(accepted, c)
	}
	switch len(accepted) {
	case 0:
		return nil, fmt.Errorf("%w: no layers", multilayer.ErrIncompatible)
	case 1:
		return accepted[0], nil
	}

	readers := make([]tile.Reader, len(accepted))
	for i, c := range accepted {
		readers[i] = c.reader
	}
	first := accepted[0]
	r, err := multilayer.New(readers, multilayer.WithLogger(first.config.logger))
	if err != nil {
		return nil, err
	}
	return &Capture{reader: r, proj: first.proj, gsd: first.gsd, config: first.config}, nil
}

// ComputeGSD returns the resolution in meters per pixel of a width x
// height image with the given geodetic corners.
func ComputeGSD(width, height int, ul, ur, lr, ll orb.Point) float64 {
	return proj.GSD(width, height, ul, ur, lr, ll)
}

func (c *Capture) Reader() tile.Reader         { return c.reader }
func (c *Capture) Projection() proj.Projection { return c.proj }
func (c *Capture) GSD() float64                { return c.gsd }

func (c *Capture) ReadTile(tileID tile.ID) *tile.Bitmap { return c.reader.ReadTile(tileID) }
func (c *Capture) Pyramid() tile.Pyramid                { return c.reader.Pyramid() }
func (c *Capture) Close() error                         { return c.reader.Close() }

func (c *Capture) TilePoint(level int, ground orb.Point) image.Point {
	return c.reader.TilePoint(level, ground)
}

func (c *Capture) SourcePoint(level, column, row int) orb.Point {
	return c.reader.SourcePoint(level, column, row)
}

// Compatible reports whether tiles of a and b address the same grid at the
// same resolution, so that they can be layered.
func Compatible(a, b *Capture) bool {
	pa, pb := a.Pyramid(), b.Pyramid()
	return a.config.levelTransition == b.config.levelTransition &&
		a.gsd == b.gsd &&
		pa.TileWidth == pb.TileWidth &&
		pa.TileHeight == pb.TileHeight &&
		a.proj.SRID() == b.proj.SRID() &&
		pa.MaxLevel() == pb.MaxLevel()
}

// TooSmall reports whether a dataset with the given geodetic corners
// covers less than a tenth of bounds in either direction.
func (c *Capture) TooSmall(corners [4]orb.Point, bounds orb.Bound) bool {
	info := orb.MultiPoint(c.forward(corners[:])).Bound()
	full := orb.MultiPoint(c.forward([]orb.Point{
		{bounds.Min[0], bounds.Max[1]}, bounds.Max,
		{bounds.Max[0], bounds.Min[1]}, bounds.Min,
	})).Bound()
	widthScale := (info.Max[0] - info.Min[0]) / (full.Max[0] - full.Min[0])
	heightScale := (info.Max[1] - info.Min[1]) / (full.Max[1] - full.Min[1])
	return widthScale < 0.1 || heightScale < 0.1
}

// reduction converts a capture scale (native resolution over requested
// resolution) into a number of levels below the native one.
func (c *Capture) reduction(scale float64) int {
	return int(math.Ceil(max(math.Log2(1/scale)+c.config.levelTransition, 0)))
}

func (c *Capture) clampLevel(reduction int) int {
	p := c.Pyramid()
	return min(max(p.Level(reduction), p.MinLevel()), p.MaxLevel())
}

// Level returns the pyramid level to capture p at. An explicit level is
// returned unchanged even when the pyramid does not contain it.
func (c *Capture) Level(p Params) int {
	if p.Level >= 0 {
		return p.Level
	}
	scale := c.gsd / (p.MapResolution / p.CaptureResolution)
	return c.clampLevel(c.reduction(scale))
}

func (c *Capture) checkedLevel(p Params) (int, error) {
	level := c.Level(p)
	if pyr := c.Pyramid(); !pyr.Contains(level) {
		return 0, fmt.Errorf("%w: level %d, pyramid has %d..%d", ErrInvalidLevel, level, pyr.MinLevel(), pyr.MaxLevel())
	}
	return level, nil
}

// LevelForQuad returns the level for capturing the geodetic quad into an
// image whose smaller dimension is minDim pixels.
func (c *Capture) LevelForQuad(quad [4]orb.Point, minDim int, captureRes float64) int {
	gsd := ComputeGSD(minDim, minDim, quad[0], quad[1], quad[2], quad[3])
	return c.clampLevel(c.reduction(c.gsd / (gsd / captureRes)))
}

// Run reads every tile covering p and passes it to h.
func (c *Capture) Run(ctx context.Context, p Params, h Handler) error {
	if len(p.Points) == 0 {
		return ErrNoPoints
	}
	level, err := c.checkedLevel(p)
	if err != nil {
		return err
	}
	ground := c.forward(p.Points)
	tiles, minTile, maxTile := c.cover(level, ground, p.Closed)

	pyr := c.Pyramid()
	fullWidth := pyr.TileWidth * (maxTile.X - minTile.X + 1)
	fullHeight := pyr.TileHeight * (maxTile.Y - minTile.Y + 1)
	if !h.Start(len(tiles), pyr.TileWidth, pyr.TileHeight, fullWidth, fullHeight) {
		return nil
	}

	wrap := proj.IsWorld(c.proj)
	var westLimit, eastLimit int
	if wrap {
		westLimit, eastLimit = c.columnLimits(level)
	}
	unwrap := eastLimit - westLimit + 1

	reads := make([]tile.ID, len(tiles))
	for i, tileID := range tiles {
		reads[i] = tileID
		if wrap {
			if tileID.Column < westLimit {
				reads[i].Column += unwrap
			} else if tileID.Column > eastLimit {
				reads[i].Column -= unwrap
			}
		}
	}

	i := 0
	for tileID, b := range tile.ReadTiles(c.reader, slices.Values(reads)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b == nil {
			c.config.logger.Warn("rastertiles: capture tile is empty", "tile", tileID.String())
		}
		if !h.Tile(b, i, tiles[i].Column-minTile.X, tiles[i].Row-minTile.Y) {
			return nil
		}
		i++
	}
	return nil
}

// columnLimits returns the first and last tile columns between the west
// and east edges of the projection at level.
func (c *Capture) columnLimits(level int) (west, east int) {
	westGround := c.proj.Forward(orb.Point{-180, 0})
	eastGround := c.proj.Forward(orb.Point{180, 0})
	inset := (c.reader.SourcePoint(level, 1, 0)[0] - c.reader.SourcePoint(level, 0, 0)[0]) * 1e-6
	west = c.reader.TilePoint(level, orb.Point{westGround[0] + inset, westGround[1]}).X
	east = c.reader.TilePoint(level, orb.Point{eastGround[0] - inset, eastGround[1]}).X
	return west, east
}

func (c *Capture) forward(points []orb.Point) []orb.Point {
	ground := make([]orb.Point, len(points))
	for i, p := range points {
		ground[i] = c.proj.Forward(p)
	}
	return ground
}
