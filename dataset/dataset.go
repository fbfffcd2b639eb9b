// Package dataset reads tiles from a single geo-registered raster.
//
// The raster is placed on a tile grid aligned with the projected bounding
// box of its four corners. Levels are zoom-style: level 0 is the coarsest
// level and Pyramid().MaxLevel() is native resolution. Rasters that are
// not north-up are resampled through a projective transform.
package dataset

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/bits"

	"github.com/eak1mov/go-rastertiles/geom"
	"github.com/eak1mov/go-rastertiles/pixel"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/pyramid"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrInvalidCorners  = errors.New("rastertiles: invalid dataset corners")
	ErrInvalidTileSize = errors.New("rastertiles: tile size must be a positive power of two")
	ErrInvalidRaster   = errors.New("rastertiles: invalid raster dimensions")
)

const DefaultTileSize = 256

type config struct {
	tileSize   int
	projection proj.Projection
	logger     *slog.Logger
	name       string
	keepAlpha  bool
	resampler  xdraw.Transformer
	readerOpts []pyramid.Option
}

type Option func(*config)

// WithTileSize sets the tile edge in pixels.
func WithTileSize(size int) Option {
	return func(c *config) { c.tileSize = size }
}

// WithProjection overrides the projection derived from the srid.
func WithProjection(p proj.Projection) Option {
	return func(c *config) { c.projection = p }
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

// KeepAlpha keeps the source alpha channel instead of forcing tiles opaque.
func KeepAlpha() Option {
	return func(c *config) { c.keepAlpha = true }
}

// WithResampler sets the transformer used for rotated or skewed rasters.
func WithResampler(t xdraw.Transformer) Option {
	return func(c *config) { c.resampler = t }
}

func WithEmptyFunc(empty func(*tile.Bitmap) bool) Option {
	return func(c *config) { c.readerOpts = append(c.readerOpts, pyramid.WithEmptyFunc(empty)) }
}

func WithUpsampler(upsampler xdraw.Interpolator) Option {
	return func(c *config) { c.readerOpts = append(c.readerOpts, pyramid.WithUpsampler(upsampler)) }
}

// Reader implements tile.Reader for a single raster.
type Reader struct {
	dec     Decoder
	config  config
	srid    int
	corners [4]orb.Point

	width, height int
	pyramid       tile.Pyramid

	// Projected bounding box and the scale from ground units to native pixels.
	ul, lr orb.Point
	sx, sy float64

	tileToPixel geom.Matrix
	pixelToTile geom.Matrix
	identity    bool

	tiles *pyramid.Reader
}

// New creates a Reader for a raster with the given geodetic corners
// (lon, lat), in the order upper-left, upper-right, lower-right,
// lower-left. The Reader owns dec and closes it on Close.
func New(srid int, corners [4]orb.Point, dec Decoder, opts ...Option) (*Reader, error) {
	config := config{
		tileSize:  DefaultTileSize,
		logger:    slog.New(slog.DiscardHandler),
		resampler: xdraw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.tileSize <= 0 || bits.OnesCount(uint(config.tileSize)) != 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTileSize, config.tileSize)
	}
	width, height := dec.Width(), dec.Height()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidRaster, width, height)
	}
	if config.projection == nil {
		p, err := proj.ForSRID(srid)
		if err != nil {
			return nil, err
		}
		config.projection = p
	}

	r := &Reader{
		dec:     dec,
		config:  config,
		srid:    srid,
		corners: corners,
		width:   width,
		height:  height,
	}
	r.pyramid = tile.Pyramid{
		LevelOffset: 0,
		MaxLevels:   maxLevels(width, height, config.tileSize),
		TileWidth:   config.tileSize,
		TileHeight:  config.tileSize,
	}
	if err := r.initTransform(); err != nil {
		return nil, err
	}
	r.tiles = pyramid.New(r, r.pyramid, config.readerOpts...)

	config.logger.Debug("rastertiles: dataset opened",
		"name", config.name, "srid", srid, "width", width, "height", height,
		"levels", r.pyramid.MaxLevels, "aligned", r.identity)
	return r, nil
}

// maxLevels is the number of levels until the whole raster fits in one tile.
func maxLevels(width, height, tileSize int) int {
	ceilLog2 := bits.Len(uint(max(width, height) - 1))
	return max(1, ceilLog2-bits.TrailingZeros(uint(tileSize))+1)
}

func (r *Reader) initTransform() error {
	var projected [4]orb.Point
	bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for i, c := range r.corners {
		p := r.config.projection.Forward(c)
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return fmt.Errorf("%w: corner %v does not project", ErrInvalidCorners, c)
		}
		projected[i] = p
		bound = bound.Extend(p)
	}
	if bound.Max[0] <= bound.Min[0] || bound.Max[1] <= bound.Min[1] {
		return fmt.Errorf("%w: empty bounds %v", ErrInvalidCorners, bound)
	}

	r.ul = orb.Point{bound.Min[0], bound.Max[1]}
	r.lr = orb.Point{bound.Max[0], bound.Min[1]}
	r.sx = float64(r.width) / (r.lr[0] - r.ul[0])
	r.sy = float64(r.height) / (r.ul[1] - r.lr[1])

	var tileCorners [4]orb.Point
	for i, p := range projected {
		tileCorners[i] = r.groundToTile(p)
	}
	w, h := float64(r.width), float64(r.height)
	imageCorners := [4]orb.Point{{0, 0}, {w, 0}, {w, h}, {0, h}}

	var err error
	if r.tileToPixel, err = geom.PolyToPoly(tileCorners, imageCorners); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCorners, err)
	}
	if r.pixelToTile, err = r.tileToPixel.Invert(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCorners, err)
	}
	r.identity = r.tileToPixel.IsIdentity()
	return nil
}

// groundToTile maps a projected point to native-resolution tile space.
func (r *Reader) groundToTile(g orb.Point) orb.Point {
	return orb.Point{(g[0] - r.ul[0]) * r.sx, (r.ul[1] - g[1]) * r.sy}
}

func (r *Reader) tileToGround(t orb.Point) orb.Point {
	return orb.Point{r.ul[0] + t[0]/r.sx, r.ul[1] - t[1]/r.sy}
}

func (r *Reader) span(level int) int {
	return r.pyramid.TileWidth << r.pyramid.Reduction(level)
}

// groundSpan is the native tile-space size of a tile at level. Levels
// finer than the native one have spans below a tile.
func (r *Reader) groundSpan(level int) float64 {
	return math.Ldexp(float64(r.pyramid.TileWidth), r.pyramid.Reduction(level))
}

func (r *Reader) ReadTile(tileID tile.ID) *tile.Bitmap {
	return r.tiles.ReadTile(tileID)
}

func (r *Reader) TilePoint(level int, ground orb.Point) image.Point {
	t := r.groundToTile(ground)
	span := r.groundSpan(level)
	return image.Pt(int(math.Floor(t[0]/span)), int(math.Floor(t[1]/span)))
}

func (r *Reader) SourcePoint(level, column, row int) orb.Point {
	span := r.groundSpan(level)
	return r.tileToGround(orb.Point{float64(column) * span, float64(row) * span})
}

func (r *Reader) Pyramid() tile.Pyramid { return r.pyramid }

// Size returns the raster dimensions at level.
func (r *Reader) Size(level int) image.Point {
	red := r.pyramid.Reduction(level)
	return image.Pt(ceilShift(r.width, red), ceilShift(r.height, red))
}

// Bounds returns the projected upper-left and lower-right corners of the
// tile grid.
func (r *Reader) Bounds() (ul, lr orb.Point) { return r.ul, r.lr }

// Corners returns the geodetic corners the raster was registered with.
func (r *Reader) Corners() [4]orb.Point { return r.corners }

func (r *Reader) SRID() int                   { return r.srid }
func (r *Reader) Projection() proj.Projection { return r.config.projection }
func (r *Reader) Name() string                { return r.config.name }
func (r *Reader) TileToPixel() geom.Matrix    { return r.tileToPixel }
func (r *Reader) PixelToTile() geom.Matrix    { return r.pixelToTile }

// GSD returns the native ground sample distance in meters per pixel.
func (r *Reader) GSD() float64 {
	c := r.corners
	return proj.GSD(r.width, r.height, c[0], c[1], c[2], c[3])
}

func (r *Reader) Close() error {
	if r.dec == nil {
		return nil
	}
	err := r.dec.Close()
	r.dec = nil
	return err
}

func ceilShift(v, shift int) int {
	if shift < 0 {
		return v << -shift
	}
	return (v + 1<<shift - 1) >> shift
}

// FetchTile decodes the tile at a native address without fallback.
func (r *Reader) FetchTile(level, column, row int) (*tile.Bitmap, error) {
	if column < 0 || row < 0 || !r.pyramid.Contains(level) || r.dec == nil {
		return nil, nil
	}
	if r.identity {
		return r.fetchAligned(level, column, row)
	}
	return r.fetchTransformed(level, column, row)
}

func (r *Reader) fetchAligned(level, column, row int) (*tile.Bitmap, error) {
	red := r.pyramid.Reduction(level)
	span := r.span(level)
	x, y := column*span, row*span
	if x >= r.width || y >= r.height {
		return nil, nil
	}
	srcW, srcH := min(span, r.width-x), min(span, r.height-y)
	dstW, dstH := ceilShift(srcW, red), ceilShift(srcH, red)

	raw, err := r.dec.Read(x, y, srcW, srcH, dstW, dstH)
	if err != nil {
		return nil, err
	}
	pix := pixel.Convert(raw, dstW, dstH, r.dec.Format(), r.pixelOptions()...)
	if pix == nil {
		return nil, fmt.Errorf("%w: %v", pixel.ErrUnknownFormat, r.dec.Format())
	}

	b := tile.NewBitmap(tile.ID{Level: level, Column: column, Row: row}, r.pyramid.TileWidth, r.pyramid.TileHeight)
	for j := range dstH {
		copy(b.Pix[j*b.Width:j*b.Width+dstW], pix[j*dstW:(j+1)*dstW])
	}
	return b, nil
}

func (r *Reader) fetchTransformed(level, column, row int) (*tile.Bitmap, error) {
	red := r.pyramid.Reduction(level)
	span := float64(r.span(level))
	x0, y0 := float64(column)*span, float64(row)*span

	bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, t := range [4]orb.Point{{x0, y0}, {x0 + span, y0}, {x0 + span, y0 + span}, {x0, y0 + span}} {
		bound = bound.Extend(r.tileToPixel.Apply(t))
	}
	rect := image.Rect(
		int(math.Floor(bound.Min[0])), int(math.Floor(bound.Min[1])),
		int(math.Ceil(bound.Max[0])), int(math.Ceil(bound.Max[1])),
	).Intersect(image.Rect(0, 0, r.width, r.height))
	if rect.Empty() {
		return nil, nil
	}

	srcW, srcH := rect.Dx(), rect.Dy()
	dstW, dstH := ceilShift(srcW, red), ceilShift(srcH, red)
	raw, err := r.dec.Read(rect.Min.X, rect.Min.Y, srcW, srcH, dstW, dstH)
	if err != nil {
		return nil, err
	}
	pix := pixel.Convert(raw, dstW, dstH, r.dec.Format(), r.pixelOptions()...)
	if pix == nil {
		return nil, fmt.Errorf("%w: %v", pixel.ErrUnknownFormat, r.dec.Format())
	}
	region := &tile.Bitmap{Width: dstW, Height: dstH, Pix: pix}

	// Tile pixel -> native tile space -> raster pixel -> decoded region.
	scale := float64(int(1) << red)
	tileToRegion := geom.Scale(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH)).
		Mul(geom.Translate(-float64(rect.Min.X), -float64(rect.Min.Y))).
		Mul(r.tileToPixel).
		Mul(geom.Translate(x0, y0)).
		Mul(geom.Scale(scale, scale))

	tileID := tile.ID{Level: level, Column: column, Row: row}
	if tileToRegion.IsAffine() {
		regionToTile, err := tileToRegion.Invert()
		if err != nil {
			return nil, nil
		}
		dst := image.NewNRGBA(image.Rect(0, 0, r.pyramid.TileWidth, r.pyramid.TileHeight))
		r.config.resampler.Transform(dst, regionToTile.Aff3(), region.NRGBA(), region.Bounds(), xdraw.Src, nil)
		return tile.FromNRGBA(tileID, dst), nil
	}

	b := tile.NewBitmap(tileID, r.pyramid.TileWidth, r.pyramid.TileHeight)
	for v := range b.Height {
		for u := range b.Width {
			p := tileToRegion.Apply(orb.Point{float64(u) + 0.5, float64(v) + 0.5})
			sx, sy := int(math.Floor(p[0])), int(math.Floor(p[1]))
			if sx < 0 || sy < 0 || sx >= dstW || sy >= dstH {
				continue
			}
			b.Pix[v*b.Width+u] = region.Pix[sy*dstW+sx]
		}
	}
	return b, nil
}

func (r *Reader) pixelOptions() []pixel.Option {
	if r.config.keepAlpha && r.dec.Format().HasAlpha() {
		return []pixel.Option{pixel.KeepAlpha()}
	}
	return nil
}
