// Package config loads the layer configuration shared by the rastertiles
// commands.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/eak1mov/go-rastertiles/capture"
	"github.com/eak1mov/go-rastertiles/dataset"
	"github.com/eak1mov/go-rastertiles/mosaic"
	"github.com/eak1mov/go-rastertiles/proj"
	"github.com/eak1mov/go-rastertiles/quadtree"
	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tilekey"
	"github.com/paulmach/orb"
	"github.com/spf13/viper"
	xdraw "golang.org/x/image/draw"
)

var ErrInvalidLayer = errors.New("rastertiles: invalid layer")

const EnvPrefix = "RASTERTILES"

type Config struct {
	Layers          []Layer `mapstructure:"layers"`
	Concurrency     int     `mapstructure:"concurrency"`
	LevelTransition float64 `mapstructure:"level_transition"`
	Server          Server  `mapstructure:"server"`
}

type Server struct {
	Bind    string        `mapstructure:"bind"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// Layer describes one tile source. Kind is one of "dataset", "quadtree" or
// "mosaic".
type Layer struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`

	// Dataset and mosaic rasters.
	Driver    string      `mapstructure:"driver"`
	SRID      int         `mapstructure:"srid"`
	Corners   [][]float64 `mapstructure:"corners"`
	TileSize  int         `mapstructure:"tile_size"`
	KeepAlpha bool        `mapstructure:"keep_alpha"`
	// Resampler is the interpolator for rotated or skewed rasters:
	// "nearest", "bilinear" or "catmullrom". The default is an
	// approximate bilinear filter.
	Resampler string `mapstructure:"resampler"`

	// Quad tree caches. Store is "sqlite", "pmtiles" or "dir"; for "dir"
	// Path is a file pattern. PMTiles archives always use the hilbert
	// scheme.
	Store    string `mapstructure:"store"`
	Scheme   string `mapstructure:"scheme"`
	MinLevel int    `mapstructure:"min_level"`
	MaxLevel int    `mapstructure:"max_level"`

	// Mosaic catalog query.
	Types  []string  `mapstructure:"types"`
	Bounds []float64 `mapstructure:"bounds"`
}

// Load reads the YAML configuration at path. Any key can be overridden by
// an environment variable, e.g. RASTERTILES_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.bind", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("concurrency", 1)
	v.SetDefault("level_transition", capture.DefaultLevelTransition)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	for i := range c.Layers {
		if err := c.Layers[i].validate(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (l *Layer) validate() error {
	if l.Path == "" {
		return fmt.Errorf("%w: %q has no path", ErrInvalidLayer, l.Name)
	}
	if l.Name == "" {
		l.Name = l.Path
	}
	if l.Driver == "" {
		l.Driver = "image"
	}
	if _, ok := resamplers[l.Resampler]; !ok {
		return fmt.Errorf("%w: %q resampler %q", ErrInvalidLayer, l.Name, l.Resampler)
	}
	switch l.Kind {
	case "dataset":
		if len(l.Corners) != 4 {
			return fmt.Errorf("%w: %q needs 4 corners, got %d", ErrInvalidLayer, l.Name, len(l.Corners))
		}
		for _, c := range l.Corners {
			if len(c) != 2 {
				return fmt.Errorf("%w: %q corner %v is not a lon, lat pair", ErrInvalidLayer, l.Name, c)
			}
		}
	case "quadtree":
		if l.Store == "" {
			l.Store = "sqlite"
		}
		if l.Store != "sqlite" && l.Store != "dir" && l.Store != "pmtiles" {
			return fmt.Errorf("%w: %q store %q", ErrInvalidLayer, l.Name, l.Store)
		}
	case "mosaic":
		if len(l.Bounds) != 0 && len(l.Bounds) != 4 {
			return fmt.Errorf("%w: %q bounds must be min lon, min lat, max lon, max lat", ErrInvalidLayer, l.Name)
		}
	default:
		return fmt.Errorf("%w: %q kind %q", ErrInvalidLayer, l.Name, l.Kind)
	}
	return nil
}

func (l Layer) corners() [4]orb.Point {
	var c [4]orb.Point
	for i := range c {
		c[i] = orb.Point{l.Corners[i][0], l.Corners[i][1]}
	}
	return c
}

func (l Layer) bounds() orb.Bound {
	if len(l.Bounds) != 4 {
		return orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	}
	return orb.Bound{Min: orb.Point{l.Bounds[0], l.Bounds[1]}, Max: orb.Point{l.Bounds[2], l.Bounds[3]}}
}

// Open opens every layer and combines them into a single capture. Layers
// that cannot be layered on top of the first one are skipped.
func (c *Config) Open(ctx context.Context, logger *slog.Logger) (*capture.Capture, error) {
	if len(c.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers configured", ErrInvalidLayer)
	}
	var captures []*capture.Capture
	for _, l := range c.Layers {
		cp, err := c.OpenLayer(ctx, l, logger)
		if err != nil {
			for _, cp := range captures {
				cp.Close()
			}
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		captures = append(captures, cp)
	}
	return capture.Combine(captures)
}

// OpenLayer opens a single layer.
func (c *Config) OpenLayer(ctx context.Context, l Layer, logger *slog.Logger) (*capture.Capture, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	captureOpts := []capture.Option{
		capture.WithLevelTransition(c.LevelTransition),
		capture.WithLogger(logger),
	}
	switch l.Kind {
	case "dataset":
		dec, err := dataset.Open(l.Driver, l.Path)
		if err != nil {
			return nil, err
		}
		ds, err := dataset.New(l.SRID, l.corners(), dec, l.datasetOptions(logger)...)
		if err != nil {
			dec.Close()
			return nil, err
		}
		return capture.FromDataset(ds, captureOpts...), nil

	case "quadtree":
		r, err := l.openQuadtree(logger)
		if err != nil {
			return nil, err
		}
		return capture.New(r, r.Projection(), r.GSD(), captureOpts...), nil

	case "mosaic":
		cat, err := mosaic.OpenCatalog(l.Path)
		if err != nil {
			return nil, err
		}
		defer cat.Close()
		m, err := mosaic.Open(ctx, cat, l.bounds(), l.Types, l.Driver,
			mosaic.WithName(l.Name),
			mosaic.WithLogger(logger),
			mosaic.WithConcurrency(c.Concurrency),
			mosaic.WithMemberOptions(l.datasetOptions(logger)...))
		if err != nil {
			return nil, err
		}
		return capture.FromMosaic(m, captureOpts...), nil
	}
	return nil, fmt.Errorf("%w: %q kind %q", ErrInvalidLayer, l.Name, l.Kind)
}

var resamplers = map[string]xdraw.Interpolator{
	"":           xdraw.ApproxBiLinear,
	"nearest":    xdraw.NearestNeighbor,
	"bilinear":   xdraw.BiLinear,
	"catmullrom": xdraw.CatmullRom,
}

func (l Layer) datasetOptions(logger *slog.Logger) []dataset.Option {
	opts := []dataset.Option{
		dataset.WithName(l.Name),
		dataset.WithLogger(logger),
		dataset.WithResampler(resamplers[l.Resampler]),
	}
	if l.TileSize > 0 {
		opts = append(opts, dataset.WithTileSize(l.TileSize))
	}
	if l.KeepAlpha {
		opts = append(opts, dataset.KeepAlpha())
	}
	return opts
}

func (l Layer) openQuadtree(logger *slog.Logger) (*quadtree.Reader, error) {
	scheme := tilekey.OSMDroid
	if l.Scheme != "" {
		var err error
		if scheme, err = tilekey.ByName(l.Scheme); err != nil {
			return nil, err
		}
	}
	srid, minLevel, maxLevel := l.SRID, l.MinLevel, l.MaxLevel

	var s store.Store
	switch l.Store {
	case "dir":
		d, err := store.NewDir(l.Path, scheme)
		if err != nil {
			return nil, err
		}
		s = d
	case "pmtiles":
		p, err := store.OpenPMTiles(l.Path)
		if err != nil {
			return nil, err
		}
		scheme, s = tilekey.Hilbert, p
	default:
		db, err := store.OpenSQLite(l.Path)
		if err != nil {
			return nil, err
		}
		s = db
	}

	if m, ok := s.(interface {
		ReadMetadata() (map[string]string, error)
	}); ok {
		metadata, err := m.ReadMetadata()
		if err != nil {
			s.Close()
			return nil, err
		}
		lookup := func(key string, v *int) {
			if n, err := strconv.Atoi(metadata[key]); err == nil && *v == 0 {
				*v = n
			}
		}
		lookup("srid", &srid)
		lookup("minZoom", &minLevel)
		lookup("maxZoom", &maxLevel)
	}

	if srid == 0 {
		srid = proj.WebMercator
	}
	if maxLevel == 0 {
		maxLevel = 19
	}
	opts := []quadtree.Option{
		quadtree.WithSRID(srid),
		quadtree.WithLevels(minLevel, maxLevel),
		quadtree.WithKeyScheme(scheme),
		quadtree.WithName(l.Name),
		quadtree.WithLogger(logger),
	}
	if l.TileSize > 0 {
		opts = append(opts, quadtree.WithTileSize(l.TileSize))
	}
	r, err := quadtree.New(s, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return r, nil
}
