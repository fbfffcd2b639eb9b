// Package mosaic composites co-registered datasets into one virtual raster.
//
// Members share pyramid parameters. Each member keeps its own tile grid;
// per-level offsets translate the reference member's addresses into the
// addresses of every other member.
package mosaic

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"github.com/eak1mov/go-rastertiles/dataset"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

var (
	ErrIncompatible = errors.New("rastertiles: incompatible mosaic members")
	ErrClosed       = errors.New("rastertiles: catalog is closed")
)

type config struct {
	logger      *slog.Logger
	name        string
	concurrency int
	memberOpts  []dataset.Option
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithConcurrency reads up to n members in parallel per tile. Each member
// is still entered by one goroutine at a time.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithMemberOptions sets the options used by Open to create members.
func WithMemberOptions(opts ...dataset.Option) Option {
	return func(c *config) { c.memberOpts = append(c.memberOpts, opts...) }
}

type member struct {
	mu      sync.Mutex
	reader  *dataset.Reader
	offsets []image.Point // indexed by level - LevelOffset
}

func (m *member) readTile(tileID tile.ID, levelOffset int) *tile.Bitmap {
	off := m.offsets[tileID.Level-levelOffset]
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reader.ReadTile(tile.ID{Level: tileID.Level, Column: tileID.Column - off.X, Row: tileID.Row - off.Y})
}

// Reader implements tile.Reader over a set of datasets. Tile addresses are
// those of the reference member, the first after sorting.
type Reader struct {
	config  config
	members []*member
	pyramid tile.Pyramid
}

// New creates a mosaic over members. Members are drawn west to east and
// north to south by upper-left corner; members sharing an upper-left are
// drawn in the given order. The Reader owns the members and closes them
// on Close.
func New(members []*dataset.Reader, opts ...Option) (*Reader, error) {
	config := config{
		logger:      slog.New(slog.DiscardHandler),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no members", ErrIncompatible)
	}

	ref := members[0]
	p := ref.Pyramid()
	for _, m := range members[1:] {
		if m.Pyramid() != p {
			return nil, fmt.Errorf("%w: %q pyramid %+v, want %+v", ErrIncompatible, m.Name(), m.Pyramid(), p)
		}
		for level := p.MinLevel(); level <= p.MaxLevel(); level++ {
			if m.Size(level) != ref.Size(level) {
				return nil, fmt.Errorf("%w: %q size %v at level %d, want %v",
					ErrIncompatible, m.Name(), m.Size(level), level, ref.Size(level))
			}
		}
	}

	sorted := slices.Clone(members)
	slices.SortStableFunc(sorted, func(a, b *dataset.Reader) int {
		aul, _ := a.Bounds()
		bul, _ := b.Bounds()
		return cmp.Or(cmp.Compare(aul[0], bul[0]), cmp.Compare(bul[1], aul[1]))
	})

	r := &Reader{config: config, pyramid: p}
	ref = sorted[0]
	for _, ds := range sorted {
		m := &member{reader: ds, offsets: make([]image.Point, p.MaxLevels)}
		for level := p.MinLevel(); level <= p.MaxLevel(); level++ {
			ul := ds.SourcePoint(level, 0, 0)
			lr := ds.SourcePoint(level, 1, 1)
			center := orb.Point{(ul[0] + lr[0]) / 2, (ul[1] + lr[1]) / 2}
			m.offsets[level-p.MinLevel()] = ref.TilePoint(level, center)
		}
		r.members = append(r.members, m)
	}

	config.logger.Debug("rastertiles: mosaic opened",
		"name", config.name, "members", len(r.members), "levels", p.MaxLevels)
	return r, nil
}

// Open queries cat for the datasets covering bounds and builds a mosaic
// from them. Rasters are opened with the named dataset driver.
func Open(ctx context.Context, cat Catalog, bounds orb.Bound, types []string, driver string, opts ...Option) (*Reader, error) {
	var config config
	for _, opt := range opts {
		opt(&config)
	}

	entries, err := cat.Query(ctx, bounds, types)
	if err != nil {
		return nil, err
	}

	var members []*dataset.Reader
	closeAll := func() {
		for _, m := range members {
			m.Close()
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			closeAll()
			return nil, err
		}
		dec, err := dataset.Open(driver, e.Path)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s: %w", e.Path, err)
		}
		memberOpts := append([]dataset.Option{dataset.WithName(e.Path)}, config.memberOpts...)
		ds, err := dataset.New(e.SRID, e.Corners, dec, memberOpts...)
		if err != nil {
			dec.Close()
			closeAll()
			return nil, fmt.Errorf("open %s: %w", e.Path, err)
		}
		members = append(members, ds)
	}

	r, err := New(members, opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return r, nil
}

func (r *Reader) Pyramid() tile.Pyramid { return r.pyramid }

func (r *Reader) TilePoint(level int, ground orb.Point) image.Point {
	return r.members[0].reader.TilePoint(level, ground)
}

func (r *Reader) SourcePoint(level, column, row int) orb.Point {
	return r.members[0].reader.SourcePoint(level, column, row)
}

// Projection returns the projection of the reference member.
func (r *Reader) Projection() proj.Projection { return r.members[0].reader.Projection() }

// Members returns the member datasets in compositing order.
func (r *Reader) Members() []*dataset.Reader {
	members := make([]*dataset.Reader, len(r.members))
	for i, m := range r.members {
		members[i] = m.reader
	}
	return members
}

// MaxGSD returns the coarsest native resolution of the members in meters
// per pixel.
func (r *Reader) MaxGSD() float64 {
	var gsd float64
	for _, m := range r.members {
		gsd = max(gsd, m.reader.GSD())
	}
	return gsd
}

// ReadTile composites the member tiles in member order. The result is
// never nil; a canvas no member drew on has DataLevel tile.NoData.
func (r *Reader) ReadTile(tileID tile.ID) *tile.Bitmap {
	canvas := image.NewNRGBA(image.Rect(0, 0, r.pyramid.TileWidth, r.pyramid.TileHeight))
	dataLevel := tile.NoData
	if !r.pyramid.Contains(tileID.Level) {
		b := tile.FromNRGBA(tileID, canvas)
		b.DataLevel = dataLevel
		return b
	}

	for _, b := range r.readMembers(tileID) {
		if b == nil {
			continue
		}
		xdraw.Draw(canvas, canvas.Bounds(), b.NRGBA(), image.Point{}, xdraw.Over)
		dataLevel = max(dataLevel, b.DataLevel)
	}

	b := tile.FromNRGBA(tileID, canvas)
	b.DataLevel = dataLevel
	return b
}

func (r *Reader) readMembers(tileID tile.ID) []*tile.Bitmap {
	tiles := make([]*tile.Bitmap, len(r.members))
	if r.config.concurrency <= 1 || len(r.members) == 1 {
		for i, m := range r.members {
			tiles[i] = m.readTile(tileID, r.pyramid.LevelOffset)
		}
		return tiles
	}

	var group errgroup.Group
	group.SetLimit(r.config.concurrency)
	for i, m := range r.members {
		group.Go(func() error {
			tiles[i] = m.readTile(tileID, r.pyramid.LevelOffset)
			return nil
		})
	}
	group.Wait()
	return tiles
}

func (r *Reader) Close() error {
	var errs []error
	for _, m := range r.members {
		m.mu.Lock()
		errs = append(errs, m.reader.Close())
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
