// Package quadtree reads pre-tiled quad tree caches from a key/value store.
//
// Levels equal zoom levels: level 0 covers the whole projection extent
// with a 1x1 grid for EPSG:3857 or a 2x1 grid for EPSG:4326, and each
// subsequent level halves the pixel size.
package quadtree

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/pyramid"
	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/eak1mov/go-rastertiles/tilekey"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MatrixEntry describes the tile grid of one zoom level.
type MatrixEntry struct {
	Level      int
	PixelSizeX float64
	PixelSizeY float64
	TileWidth  int
	TileHeight int
}

type config struct {
	srid       int
	minLevel   int
	maxLevel   int
	scheme     tilekey.Scheme
	tileSize   int
	logger     *slog.Logger
	name       string
	readerOpts []pyramid.Option
}

type Option func(*config)

// WithSRID selects the tile matrix, 4326 or 3857.
func WithSRID(srid int) Option {
	return func(c *config) { c.srid = srid }
}

// WithLevels sets the range of zoom levels present in the store.
func WithLevels(minLevel, maxLevel int) Option {
	return func(c *config) { c.minLevel, c.maxLevel = minLevel, maxLevel }
}

func WithKeyScheme(scheme tilekey.Scheme) Option {
	return func(c *config) { c.scheme = scheme }
}

func WithTileSize(size int) Option {
	return func(c *config) { c.tileSize = size }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
		c.readerOpts = append(c.readerOpts, pyramid.WithLogger(logger))
	}
}

func WithName(name string) Option {
	return func(c *config) {
		c.name = name
		c.readerOpts = append(c.readerOpts, pyramid.WithName(name))
	}
}

func WithEmptyFunc(empty func(*tile.Bitmap) bool) Option {
	return func(c *config) { c.readerOpts = append(c.readerOpts, pyramid.WithEmptyFunc(empty)) }
}

func WithUpsampler(upsampler xdraw.Interpolator) Option {
	return func(c *config) { c.readerOpts = append(c.readerOpts, pyramid.WithUpsampler(upsampler)) }
}

// Reader implements tile.Reader over a quad tree tile store.
type Reader struct {
	store   store.Store
	config  config
	proj    proj.Projection
	origin  orb.Point
	matrix  []MatrixEntry
	pyramid tile.Pyramid
	tiles   *pyramid.Reader
}

// New creates a Reader over s. The Reader owns s and closes it on Close.
func New(s store.Store, opts ...Option) (*Reader, error) {
	config := config{
		srid:     proj.WebMercator,
		minLevel: 0,
		maxLevel: 19,
		scheme:   tilekey.OSMDroid,
		tileSize: 256,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var gridZeroWidth int
	switch config.srid {
	case proj.WGS84:
		gridZeroWidth = 2
	case proj.WebMercator, proj.GoogleMercator:
		gridZeroWidth = 1
	default:
		return nil, fmt.Errorf("%w: %d", proj.ErrUnsupportedSRID, config.srid)
	}
	if config.minLevel < 0 || config.maxLevel < config.minLevel || config.maxLevel > tilekey.MaxLevel {
		return nil, fmt.Errorf("rastertiles: invalid level range %d..%d", config.minLevel, config.maxLevel)
	}
	if config.tileSize <= 0 {
		return nil, fmt.Errorf("rastertiles: invalid tile size %d", config.tileSize)
	}
	p, err := proj.ForSRID(config.srid)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		store:  s,
		config: config,
		proj:   p,
		origin: proj.UpperLeft(p),
		matrix: levelMatrix(p.Bounds(), gridZeroWidth, config.tileSize, config.minLevel, config.maxLevel),
		pyramid: tile.Pyramid{
			LevelOffset: config.minLevel,
			MaxLevels:   config.maxLevel - config.minLevel + 1,
			TileWidth:   config.tileSize,
			TileHeight:  config.tileSize,
		},
	}
	r.tiles = pyramid.New(r, r.pyramid, config.readerOpts...)
	return r, nil
}

func levelMatrix(bounds orb.Bound, gridZeroWidth, tileSize, minLevel, maxLevel int) []MatrixEntry {
	sizeX := (bounds.Max[0] - bounds.Min[0]) / float64(gridZeroWidth*tileSize)
	sizeY := (bounds.Max[1] - bounds.Min[1]) / float64(tileSize)

	matrix := make([]MatrixEntry, 0, maxLevel-minLevel+1)
	for level := minLevel; level <= maxLevel; level++ {
		scale := math.Ldexp(1, -level)
		matrix = append(matrix, MatrixEntry{
			Level:      level,
			PixelSizeX: sizeX * scale,
			PixelSizeY: sizeY * scale,
			TileWidth:  tileSize,
			TileHeight: tileSize,
		})
	}
	return matrix
}

// Matrix returns the tile matrix entries from the minimum to the maximum level.
func (r *Reader) Matrix() []MatrixEntry { return r.matrix }

func (r *Reader) Projection() proj.Projection { return r.proj }

// GSD returns the resolution of the finest level at the equator, in
// meters per pixel.
func (r *Reader) GSD() float64 {
	e := r.matrix[len(r.matrix)-1]
	return geo.DistanceHaversine(r.proj.Inverse(orb.Point{0, 0}), r.proj.Inverse(orb.Point{e.PixelSizeX, 0}))
}

func (r *Reader) Pyramid() tile.Pyramid { return r.pyramid }

func (r *Reader) entry(level int) MatrixEntry {
	return r.matrix[min(max(level-r.config.minLevel, 0), len(r.matrix)-1)]
}

func (r *Reader) tileSpan(level int) (float64, float64) {
	e := r.entry(level)
	scale := math.Ldexp(1, e.Level-level)
	return e.PixelSizeX * float64(e.TileWidth) * scale, e.PixelSizeY * float64(e.TileHeight) * scale
}

func (r *Reader) TilePoint(level int, ground orb.Point) image.Point {
	spanX, spanY := r.tileSpan(level)
	return image.Pt(
		int(math.Floor((ground[0]-r.origin[0])/spanX)),
		int(math.Floor((r.origin[1]-ground[1])/spanY)),
	)
}

func (r *Reader) SourcePoint(level, column, row int) orb.Point {
	spanX, spanY := r.tileSpan(level)
	return orb.Point{r.origin[0] + float64(column)*spanX, r.origin[1] - float64(row)*spanY}
}

func (r *Reader) ReadTile(tileID tile.ID) *tile.Bitmap {
	return r.tiles.ReadTile(tileID)
}

// FetchTile looks up and decodes a single stored tile. Blobs that fail to
// decode or have the wrong size are logged and treated as missing.
func (r *Reader) FetchTile(level, column, row int) (*tile.Bitmap, error) {
	tileID := tile.ID{Level: level, Column: column, Row: row}
	key, ok := r.config.scheme.Encode(tileID)
	if !ok || r.store == nil {
		return nil, nil
	}
	data, err := r.store.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		r.config.logger.Error("rastertiles: tile decode failed",
			"source", r.config.name, "tile", tileID.String(), "error", err)
		return nil, nil
	}
	if size := img.Bounds().Size(); size.X != r.pyramid.TileWidth || size.Y != r.pyramid.TileHeight {
		r.config.logger.Warn("rastertiles: unexpected tile size",
			"source", r.config.name, "tile", tileID.String(), "width", size.X, "height", size.Y)
		return nil, nil
	}
	return tile.FromImage(tileID, img), nil
}

func (r *Reader) Close() error {
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
