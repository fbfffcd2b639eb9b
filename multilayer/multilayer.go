// Package multilayer merges independent readers of the same tile grid,
// preferring the reader with the finest real data for every tile.
package multilayer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

var ErrIncompatible = errors.New("rastertiles: incompatible layers")

type config struct {
	logger      *slog.Logger
	concurrency int
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithConcurrency queries up to n layers in parallel per tile. Each layer
// is still entered by one goroutine at a time.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

type layer struct {
	mu     sync.Mutex
	reader tile.Reader
}

func (l *layer) readTile(tileID tile.ID) *tile.Bitmap {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reader.ReadTile(tileID)
}

// Reader implements tile.Reader over a list of layers. Coordinates are
// those of the first layer.
type Reader struct {
	config config
	layers []*layer
}

// New creates a Reader over readers, which it owns and closes on Close.
// Every reader must match the first in tile size and maximum level.
func New(readers []tile.Reader, opts ...Option) (*Reader, error) {
	config := config{
		logger:      slog.New(slog.DiscardHandler),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if len(readers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrIncompatible)
	}

	p := readers[0].Pyramid()
	r := &Reader{config: config}
	for i, reader := range readers {
		q := reader.Pyramid()
		if q.TileWidth != p.TileWidth || q.TileHeight != p.TileHeight || q.MaxLevel() != p.MaxLevel() {
			return nil, fmt.Errorf("%w: layer %d pyramid %+v, want %+v", ErrIncompatible, i, q, p)
		}
		r.layers = append(r.layers, &layer{reader: reader})
	}
	config.logger.Debug("rastertiles: layers opened", "layers", len(r.layers))
	return r, nil
}

func (r *Reader) Pyramid() tile.Pyramid { return r.layers[0].reader.Pyramid() }

func (r *Reader) TilePoint(level int, ground orb.Point) image.Point {
	return r.layers[0].reader.TilePoint(level, ground)
}

func (r *Reader) SourcePoint(level, column, row int) orb.Point {
	return r.layers[0].reader.SourcePoint(level, column, row)
}

// ReadTile returns the layer tile with the highest DataLevel. Ties go to
// the earlier layer. The result is nil only when every layer misses.
func (r *Reader) ReadTile(tileID tile.ID) *tile.Bitmap {
	var best *tile.Bitmap
	for _, b := range r.readLayers(tileID) {
		if b != nil && (best == nil || b.DataLevel > best.DataLevel) {
			best = b
		}
	}
	return best
}

func (r *Reader) readLayers(tileID tile.ID) []*tile.Bitmap {
	tiles := make([]*tile.Bitmap, len(r.layers))
	if r.config.concurrency <= 1 || len(r.layers) == 1 {
		for i, l := range r.layers {
			tiles[i] = l.readTile(tileID)
		}
		return tiles
	}

	var group errgroup.Group
	group.SetLimit(r.config.concurrency)
	for i, l := range r.layers {
		group.Go(func() error {
			tiles[i] = l.readTile(tileID)
			return nil
		})
	}
	group.Wait()
	return tiles
}

func (r *Reader) Close() error {
	var errs []error
	for _, l := range r.layers {
		l.mu.Lock()
		errs = append(errs, l.reader.Close())
		l.mu.Unlock()
	}
	return errors.Join(errs...)
}
