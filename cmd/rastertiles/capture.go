package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"strconv"
	"strings"

	"github.com/eak1mov/go-rastertiles/capture"
	"github.com/eak1mov/go-rastertiles/internal/config"
	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/eak1mov/go-rastertiles/tilekey"
	"github.com/google/subcommands"
	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	xdraw "golang.org/x/image/draw"
)

type captureCmd struct {
	configPath    string
	points        string
	closed        bool
	level         int
	mapResolution float64
	resolution    float64
	outputPath    string
	cachePath     string
	scheme        string
	provider      string
}

func (c *captureCmd) Name() string     { return "capture" }
func (c *captureCmd) Synopsis() string { return "stitch the tiles covering a region into one image" }
func (c *captureCmd) Usage() string {
	return "rastertiles capture -c <path> -p <lon,lat lon,lat ...> [-closed] [-z <level> | -mapres <m>] -o <path> [-cache <path>]\n"
}
func (c *captureCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "c", "rastertiles.yaml", "Config file path")
	f.StringVar(&c.points, "p", "", "Space separated lon,lat points of the region")
	f.BoolVar(&c.closed, "closed", false, "Treat the points as a polygon")
	f.IntVar(&c.level, "z", capture.AutoLevel, "Capture level, -1 to select it from -mapres")
	f.Float64Var(&c.mapResolution, "mapres", 0, "Map resolution in meters per pixel")
	f.Float64Var(&c.resolution, "res", 1, "Output pixels per map pixel")
	f.StringVar(&c.outputPath, "o", "capture.png", "Output PNG path")
	f.StringVar(&c.cachePath, "cache", "", "Also write the captured tiles to an sqlite cache")
	f.StringVar(&c.scheme, "scheme", "osmdroid", "Key scheme of the cache (osmdroid, quadkey, hilbert)")
	f.StringVar(&c.provider, "provider", "rastertiles", "Provider name recorded with the cached tiles")
}

func parsePoints(s string) ([]orb.Point, error) {
	var points []orb.Point
	for _, field := range strings.Fields(s) {
		lon, lat, ok := strings.Cut(field, ",")
		if !ok {
			return nil, fmt.Errorf("invalid point %q", field)
		}
		x, err := strconv.ParseFloat(lon, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", field, err)
		}
		y, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", field, err)
		}
		points = append(points, orb.Point{x, y})
	}
	return points, nil
}

// checkCacheable reports an error unless every layer addresses tiles on the
// world quad grid. Dataset and mosaic tiles are addressed relative to
// their own raster and cannot be keyed into a tile cache.
func checkCacheable(layers []config.Layer) error {
	for _, l := range layers {
		if l.Kind != "quadtree" {
			return fmt.Errorf("-cache needs quadtree layers, %s is a %s layer", l.Name, l.Kind)
		}
	}
	return nil
}

// stitcher draws captured tiles into one image and optionally stores them.
type stitcher struct {
	img    *image.NRGBA
	tileW  int
	tileH  int
	bar    *progressbar.ProgressBar
	writer store.Writer
	scheme tilekey.Scheme
	err    error
}

func (s *stitcher) Start(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool {
	s.img = image.NewNRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	s.tileW, s.tileH = tileWidth, tileHeight
	if s.bar != nil {
		s.bar.ChangeMax(numTiles)
	}
	return true
}

func (s *stitcher) Tile(b *tile.Bitmap, _, column, row int) bool {
	if s.bar != nil {
		s.bar.Add(1)
	}
	if b == nil {
		return true
	}
	origin := image.Pt(column*s.tileW, row*s.tileH)
	xdraw.Draw(s.img, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(b.Width, b.Height))}, b.NRGBA(), image.Point{}, xdraw.Src)

	if s.writer == nil || b.DataLevel != b.ID.Level {
		return true
	}
	key, ok := s.scheme.Encode(b.ID)
	if !ok {
		return true
	}
	data, err := encodePNG(b)
	if err == nil {
		err = s.writer.Put(key, data)
	}
	if err != nil {
		s.err = err
		return false
	}
	return true
}

func (c *captureCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	points, err := parsePoints(c.points)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if c.level == capture.AutoLevel && c.mapResolution <= 0 {
		log.Println("either -z or -mapres is required")
		return subcommands.ExitFailure
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if c.cachePath != "" {
		if err := checkCacheable(cfg.Layers); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
	}
	cp, err := cfg.Open(ctx, newLogger())
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer cp.Close()

	s := &stitcher{bar: progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())}
	if c.cachePath != "" {
		if s.scheme, err = tilekey.ByName(c.scheme); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		w, err := store.CreateSQLite(c.cachePath, store.WithMetadata(map[string]string{
			"srid":    strconv.Itoa(cp.Projection().SRID()),
			"minZoom": strconv.Itoa(cp.Pyramid().MinLevel()),
			"maxZoom": strconv.Itoa(cp.Pyramid().MaxLevel()),
		}), store.WithProvider(c.provider), store.WithLogger(newLogger()))
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		defer w.Close()
		s.writer = w
	}

	err = cp.Run(ctx, capture.Params{
		Level:             c.level,
		MapResolution:     c.mapResolution,
		CaptureResolution: c.resolution,
		Points:            points,
		Closed:            c.closed,
	}, s)
	s.bar.Finish()
	fmt.Println()
	if err = errors.Join(err, s.err); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	if s.writer != nil {
		if err := s.writer.Finalize(); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
	}
	if err := writePNG(c.outputPath, s.img); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
