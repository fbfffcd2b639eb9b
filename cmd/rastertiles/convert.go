package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-rastertiles/store"
	"github.com/eak1mov/go-rastertiles/tilekey"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type convertCmd struct {
	inputFormat  string
	inputPath    string
	inputScheme  string
	outputFormat string
	outputPath   string
	outputScheme string
}

func (c *convertCmd) Name() string     { return "convert" }
func (c *convertCmd) Synopsis() string { return "convert between tile cache formats and key schemes" }
func (c *convertCmd) Usage() string {
	return "rastertiles convert -i <path> -o <path> [-if <format>] [-of <format>] [-is <scheme>] [-os <scheme>]\n"
}
func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path")
	f.StringVar(&c.inputFormat, "if", "", "Input format (sqlite, pmtiles, dir)")
	f.StringVar(&c.inputScheme, "is", "osmdroid", "Input key scheme (osmdroid, quadkey, hilbert)")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (sqlite, pmtiles, dir)")
	f.StringVar(&c.outputScheme, "os", "osmdroid", "Output key scheme (osmdroid, quadkey, hilbert)")
}

// convertTiles copies every tile of src to dst, translating keys between
// schemes. It returns the number of tiles skipped because their address has
// no key in the output scheme.
func convertTiles(src store.Visitor, dst store.Writer, in, out tilekey.Scheme, bar *progressbar.ProgressBar) (int, error) {
	skipped := 0
	err := src.Visit(func(key int64, data []byte) error {
		bar.Add(1)
		tileID, ok := in.Decode(key)
		if !ok {
			return fmt.Errorf("invalid %s key %d", in.Name(), key)
		}
		outKey, ok := out.Encode(tileID)
		if !ok {
			skipped++
			return nil
		}
		return dst.Put(outKey, data)
	})
	return skipped, err
}

func (c *convertCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	inputFormat := deduceFormat(c.inputFormat, c.inputPath)
	outputFormat := deduceFormat(c.outputFormat, c.outputPath)

	inScheme, err := tilekey.ByName(c.inputScheme)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	outScheme, err := tilekey.ByName(c.outputScheme)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	reader, err := openStore(inputFormat, c.inputPath, inScheme)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer reader.Close()

	if inputFormat == "pmtiles" {
		inScheme = tilekey.Hilbert
	}
	if outputFormat == "pmtiles" {
		outScheme = tilekey.Hilbert
	}

	var writerOpts []store.WriterOption
	if m, ok := reader.(interface {
		ReadMetadata() (map[string]string, error)
	}); ok {
		metadata, err := m.ReadMetadata()
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		writerOpts = append(writerOpts, store.WithMetadata(metadata))
	}
	writerOpts = append(writerOpts, store.WithLogger(newLogger()))

	writer, err := createStore(outputFormat, c.outputPath, outScheme, writerOpts...)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer writer.Close()

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	skipped, err := convertTiles(reader, writer, inScheme, outScheme, bar)
	bar.Finish()
	fmt.Println()

	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if skipped > 0 {
		log.Printf("skipped %d tiles outside the %s grid", skipped, outScheme.Name())
	}

	if err := writer.Finalize(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
