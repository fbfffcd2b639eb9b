package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-rastertiles/internal/config"
	"github.com/google/subcommands"
)

type infoCmd struct {
	configPath string
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "print the tile pyramid of every configured layer" }
func (c *infoCmd) Usage() string {
	return "rastertiles info -c <path>\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "c", "rastertiles.yaml", "Config file path")
}

func (c *infoCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	for _, l := range cfg.Layers {
		cp, err := cfg.OpenLayer(ctx, l, newLogger())
		if err != nil {
			log.Printf("layer %s: %v", l.Name, err)
			return subcommands.ExitFailure
		}
		p := cp.Pyramid()
		fmt.Printf("%s\t%s\tsrid=%d\tlevels=%d..%d\ttile=%dx%d\tgsd=%.3f\n",
			l.Name, l.Kind, cp.Projection().SRID(), p.MinLevel(), p.MaxLevel(), p.TileWidth, p.TileHeight, cp.GSD())
		if err := cp.Close(); err != nil {
			log.Println(err)
		}
	}

	return subcommands.ExitSuccess
}
