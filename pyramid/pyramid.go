// Package pyramid implements tile reads with resolution fallback over a
// single tile source.
//
// When a source has no usable data for a tile, the tile is synthesized by
// upsampling the matching quadrant of its parent one level up the
// pyramid, recursively, until data is found or the coarsest level is
// passed.
package pyramid

import (
	"image"
	"log/slog"

	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"
)

// Source fetches tiles at native pyramid addresses without fallback.
type Source interface {
	// FetchTile returns (nil, nil) when the source has no data for the
	// tile. Errors are decode failures.
	FetchTile(level, column, row int) (*tile.Bitmap, error)
	TilePoint(level int, ground orb.Point) image.Point
	SourcePoint(level, column, row int) orb.Point
}

type Config struct {
	Logger    *slog.Logger
	Name      string
	Empty     func(*tile.Bitmap) bool
	Upsampler xdraw.Interpolator
}

type Option func(*Config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithName sets the source name used in log records.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithEmptyFunc replaces the predicate deciding that a fetched tile
// carries no data and must be synthesized from its parent.
func WithEmptyFunc(empty func(*tile.Bitmap) bool) Option {
	return func(c *Config) { c.Empty = empty }
}

func WithUpsampler(upsampler xdraw.Interpolator) Option {
	return func(c *Config) { c.Upsampler = upsampler }
}

// Reader reads tiles from a Source, falling back to coarser levels.
type Reader struct {
	src     Source
	pyramid tile.Pyramid
	config  Config
}

func New(src Source, p tile.Pyramid, opts ...Option) *Reader {
	config := Config{
		Logger:    slog.New(slog.DiscardHandler),
		Empty:     IsBlack,
		Upsampler: xdraw.NearestNeighbor,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Reader{src: src, pyramid: p, config: config}
}

func (r *Reader) Pyramid() tile.Pyramid { return r.pyramid }

func (r *Reader) TilePoint(level int, ground orb.Point) image.Point {
	return r.src.TilePoint(level, ground)
}

func (r *Reader) SourcePoint(level, column, row int) orb.Point {
	return r.src.SourcePoint(level, column, row)
}

// ReadTile returns the tile at tileID, synthesized from coarser levels if
// the source has no data for it. The result is nil when no level down to
// the pyramid's coarsest one has data.
func (r *Reader) ReadTile(tileID tile.ID) *tile.Bitmap {
	if !r.pyramid.Contains(tileID.Level) {
		return nil
	}

	b, err := r.src.FetchTile(tileID.Level, tileID.Column, tileID.Row)
	if err != nil {
		r.config.Logger.Error("rastertiles: fetch failed",
			"source", r.config.Name, "level", tileID.Level, "column", tileID.Column, "row", tileID.Row,
			"error", err)
		b = nil
	}
	if b != nil && !r.config.Empty(b) {
		return b
	}

	if tileID.Level-1 < r.pyramid.MinLevel() {
		return nil
	}

	parentID := r.parentID(tileID)
	parent := r.ReadTile(parentID)
	if parent == nil {
		return nil
	}
	return r.upsample(tileID, parentID, parent)
}

// parentID maps the center of tileID to the tile containing it one level up.
func (r *Reader) parentID(tileID tile.ID) tile.ID {
	ul := r.src.SourcePoint(tileID.Level, tileID.Column, tileID.Row)
	lr := r.src.SourcePoint(tileID.Level, tileID.Column+1, tileID.Row+1)
	center := orb.Point{(ul[0] + lr[0]) / 2, (ul[1] + lr[1]) / 2}
	p := r.src.TilePoint(tileID.Level-1, center)
	return tile.ID{Level: tileID.Level - 1, Column: p.X, Row: p.Y}
}

func (r *Reader) upsample(tileID, parentID tile.ID, parent *tile.Bitmap) *tile.Bitmap {
	dx := tileID.Column - 2*parentID.Column
	dy := tileID.Row - 2*parentID.Row
	if dx < 0 || dx > 1 || dy < 0 || dy > 1 {
		r.config.Logger.Warn("rastertiles: parent quadrant out of range",
			"source", r.config.Name, "tile", tileID.String(), "parent", parentID.String(), "dx", dx, "dy", dy)
		dx = min(max(dx, 0), 1)
		dy = min(max(dy, 0), 1)
	}

	halfW, halfH := parent.Width/2, parent.Height/2
	quadrant := image.Rect(dx*halfW, dy*halfH, (dx+1)*halfW, (dy+1)*halfH)

	dst := image.NewNRGBA(image.Rect(0, 0, r.pyramid.TileWidth, r.pyramid.TileHeight))
	r.config.Upsampler.Scale(dst, dst.Bounds(), parent.NRGBA(), quadrant, xdraw.Src, nil)

	b := tile.FromNRGBA(tileID, dst)
	b.DataLevel = parent.DataLevel
	return b
}

// IsBlack reports whether every pixel of b has zero color channels.
// Alpha is ignored, so transparent and opaque black are both empty.
func IsBlack(b *tile.Bitmap) bool {
	if len(b.Pix) == 0 {
		return true
	}
	if b.Pix[0]&0x00FFFFFF != 0 {
		return false
	}
	for _, p := range b.Pix {
		if p&0x00FFFFFF != 0 {
			return false
		}
	}
	return true
}
