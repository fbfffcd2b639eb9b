package main

import (
	"context"
	"flag"
	"image"
	"image/png"
	"log"
	"os"

	"github.com/eak1mov/go-rastertiles/internal/config"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/google/subcommands"
)

type tileCmd struct {
	configPath string
	level      int
	column     int
	row        int
	outputPath string
}

func (c *tileCmd) Name() string     { return "tile" }
func (c *tileCmd) Synopsis() string { return "read one tile of the combined layers" }
func (c *tileCmd) Usage() string {
	return "rastertiles tile -c <path> -z <level> -x <column> -y <row> -o <path>\n"
}
func (c *tileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "c", "rastertiles.yaml", "Config file path")
	f.IntVar(&c.level, "z", 0, "Tile level")
	f.IntVar(&c.column, "x", 0, "Tile column")
	f.IntVar(&c.row, "y", 0, "Tile row")
	f.StringVar(&c.outputPath, "o", "tile.png", "Output PNG path")
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (c *tileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	cp, err := cfg.Open(ctx, newLogger())
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer cp.Close()

	tileID := tile.ID{Level: c.level, Column: c.column, Row: c.row}
	b := cp.ReadTile(tileID)
	if b == nil {
		log.Printf("no data for tile %v", tileID)
		return subcommands.ExitFailure
	}
	if b.DataLevel != tileID.Level {
		log.Printf("tile %v upsampled from level %d", tileID, b.DataLevel)
	}

	if err := writePNG(c.outputPath, b.NRGBA()); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
