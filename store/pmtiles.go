package store

import (
	"bufio"
	"cmp"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/eak1mov/go-rastertiles/internal/pmtiles"
)

// PMTiles reads a PMTiles v3 archive. Keys are PMTiles tile ids, the keys
// of tilekey.Hilbert.
type PMTiles struct {
	file   *os.File
	header *pmtiles.Header
}

func OpenPMTiles(filePath string) (*PMTiles, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	p := &PMTiles{file: file}
	data, err := p.read(0, pmtiles.HeaderLength)
	if err == nil {
		p.header, err = pmtiles.DecodeHeader(data)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return p, nil
}

func (p *PMTiles) read(offset, length uint64) ([]byte, error) {
	if p.file == nil {
		return nil, ErrClosed
	}
	buf := make([]byte, length)
	if _, err := p.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *PMTiles) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Levels returns the zoom range recorded in the header.
func (p *PMTiles) Levels() (minLevel, maxLevel int) {
	return int(p.header.MinZoom), int(p.header.MaxZoom)
}

// ReadMetadata returns the JSON metadata of the archive flattened to
// strings. minZoom and maxZoom default to the header values.
func (p *PMTiles) ReadMetadata() (map[string]string, error) {
	metadata := make(map[string]string)
	if p.header.MetadataLength > 0 {
		data, err := p.read(p.header.MetadataOffset, p.header.MetadataLength)
		if err != nil {
			return nil, err
		}
		var values map[string]any
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("rastertiles: pmtiles metadata: %w", err)
		}
		for k, v := range values {
			if s, ok := v.(string); ok {
				metadata[k] = s
			} else {
				metadata[k] = fmt.Sprint(v)
			}
		}
	}
	if _, ok := metadata["minZoom"]; !ok {
		metadata["minZoom"] = strconv.Itoa(int(p.header.MinZoom))
	}
	if _, ok := metadata["maxZoom"]; !ok {
		metadata["maxZoom"] = strconv.Itoa(int(p.header.MaxZoom))
	}
	return metadata, nil
}

func (p *PMTiles) directory(offset, length uint64) (pmtiles.Directory, error) {
	data, err := p.read(offset, length)
	if err != nil {
		return nil, err
	}
	if data, err = p.header.InternalCompression.Decompress(data); err != nil {
		return nil, err
	}
	return pmtiles.DecodeDirectory(data)
}

func (p *PMTiles) Get(key int64) ([]byte, error) {
	if p.file == nil {
		return nil, ErrClosed
	}
	if key < 0 {
		return make([]byte, 0), nil
	}
	offset, length := p.header.RootOffset, p.header.RootLength
	for {
		entries, err := p.directory(offset, length)
		if err != nil {
			return nil, err
		}
		e, ok := entries.Find(uint64(key))
		if !ok {
			return make([]byte, 0), nil
		}
		if e.RunLength > 0 {
			return p.read(p.header.TileDataOffset+e.Offset, uint64(e.Length))
		}
		offset, length = p.header.LeafDirectoryOffset+e.Offset, uint64(e.Length)
	}
}

func (p *PMTiles) Visit(visitor func(key int64, data []byte) error) error {
	var walk func(offset, length uint64) error
	walk = func(offset, length uint64) error {
		entries, err := p.directory(offset, length)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.RunLength == 0 {
				if err := walk(p.header.LeafDirectoryOffset+e.Offset, uint64(e.Length)); err != nil {
					return err
				}
				continue
			}
			data, err := p.read(p.header.TileDataOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return err
			}
			for i := range e.RunLength {
				if err := visitor(int64(e.TileID+uint64(i)), data); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if p.file == nil {
		return ErrClosed
	}
	return walk(p.header.RootOffset, p.header.RootLength)
}

// PMTilesWriter creates a clustered PMTiles v3 archive. Identical tiles are
// stored once.
type PMTilesWriter struct {
	logger *slog.Logger
	file   *os.File
	header pmtiles.Header

	tiles  *bufio.Writer
	offset uint64

	entries pmtiles.Directory
	blobs   map[[md5.Size]byte]int // digest -> entry index
}

// CreatePMTiles creates a new archive at filePath. Metadata set with
// WithMetadata is stored as a JSON object. The archive is complete only
// after Finalize.
func CreatePMTiles(filePath string, opts ...WriterOption) (w *PMTilesWriter, err error) {
	config := writerConfig{Logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&config)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	header := pmtiles.Header{
		Version:             pmtiles.Version3,
		Clustered:           true,
		InternalCompression: pmtiles.CompressionGzip,
		TileCompression:     pmtiles.CompressionNone,
		MinLonE7:            -180 * 1e7,
		MinLatE7:            -85 * 1e7,
		MaxLonE7:            180 * 1e7,
		MaxLatE7:            85 * 1e7,
	}
	offset := uint64(pmtiles.RootDirOffset + pmtiles.RootDirMaxLength)
	if _, err = file.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	if len(config.Metadata) > 0 {
		var data []byte
		if data, err = json.Marshal(config.Metadata); err != nil {
			return nil, err
		}
		if _, err = file.Write(data); err != nil {
			return nil, err
		}
		header.MetadataOffset = offset
		header.MetadataLength = uint64(len(data))
		offset += header.MetadataLength
	}
	header.TileDataOffset = offset

	return &PMTilesWriter{
		logger: config.Logger,
		file:   file,
		header: header,
		tiles:  bufio.NewWriter(file),
		blobs:  make(map[[md5.Size]byte]int),
	}, nil
}

// Put adds a tile. Empty tiles are skipped.
func (w *PMTilesWriter) Put(key int64, data []byte) error {
	if w.tiles == nil {
		return ErrClosed
	}
	if key < 0 {
		return fmt.Errorf("rastertiles: invalid pmtiles tile id %d", key)
	}
	if len(data) == 0 {
		return nil
	}
	if w.header.TileType == pmtiles.TileTypeUnknown {
		contentType := http.DetectContentType(data)
		w.header.TileType = pmtiles.TileTypeOf(strings.TrimPrefix(contentType, "image/"))
	}

	digest := md5.Sum(data)
	if i, ok := w.blobs[digest]; ok {
		e := w.entries[i]
		w.entries = append(w.entries, pmtiles.Entry{TileID: uint64(key), Offset: e.Offset, Length: e.Length, RunLength: 1})
		return nil
	}
	if _, err := w.tiles.Write(data); err != nil {
		return err
	}
	w.blobs[digest] = len(w.entries)
	w.entries = append(w.entries, pmtiles.Entry{TileID: uint64(key), Offset: w.offset, Length: uint32(len(data)), RunLength: 1})
	w.offset += uint64(len(data))
	return nil
}

func (w *PMTilesWriter) Finalize() error {
	if w.tiles == nil {
		return ErrClosed
	}
	w.logger.Debug("rastertiles: flush tiles")
	if err := w.tiles.Flush(); err != nil {
		return err
	}
	w.tiles = nil

	slices.SortFunc(w.entries, func(a, b pmtiles.Entry) int { return cmp.Compare(a.TileID, b.TileID) })
	w.header.AddressedTilesCount = uint64(len(w.entries))
	w.header.TileContentsCount = uint64(len(w.blobs))
	w.header.TileDataLength = w.offset
	if len(w.entries) > 0 {
		w.header.MinZoom = pmtilesZoom(w.entries[0].TileID)
		w.header.MaxZoom = pmtilesZoom(w.entries[len(w.entries)-1].TileID)
	}

	w.entries = w.entries.Compact()
	w.header.TileEntriesCount = uint64(len(w.entries))
	w.logger.Debug("rastertiles: write directories", "entries", len(w.entries))
	root, leaves, err := w.entries.Build(w.header.InternalCompression)
	if err != nil {
		return err
	}

	w.header.LeafDirectoryOffset = w.header.TileDataOffset + w.header.TileDataLength
	w.header.LeafDirectoryLength = uint64(len(leaves))
	if _, err := w.file.WriteAt(leaves, int64(w.header.LeafDirectoryOffset)); err != nil {
		return err
	}
	w.header.RootOffset = pmtiles.RootDirOffset
	w.header.RootLength = uint64(len(root))
	if _, err := w.file.WriteAt(root, pmtiles.RootDirOffset); err != nil {
		return err
	}
	if _, err := w.file.WriteAt(w.header.Encode(), 0); err != nil {
		return err
	}

	err = w.file.Close()
	w.file = nil
	w.logger.Debug("rastertiles: done!")
	return err
}

// Close releases the file. An archive that was not finalized is incomplete.
func (w *PMTilesWriter) Close() error {
	w.tiles = nil
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// pmtilesZoom returns the level of a tile id: ids of level z start at
// (4^z - 1) / 3.
func pmtilesZoom(id uint64) uint8 {
	var z uint8
	for first := uint64(1); first <= id; first = first*4 + 1 {
		z++
	}
	return z
}
