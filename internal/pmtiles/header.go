// Package pmtiles encodes the header and directories of PMTiles v3
// archives. Tile ids are the keys of tilekey.Hilbert.
package pmtiles

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMvt
	TileTypePng
	TileTypeJpeg
	TileTypeWebp
	TileTypeAvif
)

// TileTypeOf returns the tile type for an image format name.
func TileTypeOf(format string) TileType {
	switch format {
	case "png":
		return TileTypePng
	case "jpg", "jpeg":
		return TileTypeJpeg
	case "webp":
		return TileTypeWebp
	case "avif":
		return TileTypeAvif
	}
	return TileTypeUnknown
}

// Header is the fixed-size archive header. Positions are degrees * 1e7.
type Header struct {
	Version             uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

const (
	Version3 = 3

	HeaderLength = 127

	// The header and the root directory fit in the first 16 KiB.
	RootDirOffset    = HeaderLength
	RootDirMaxLength = 16<<10 - HeaderLength
)

const magic = "PMTiles"

var (
	ErrInvalidHeader  = errors.New("rastertiles: invalid pmtiles header")
	ErrInvalidVersion = errors.New("rastertiles: unsupported pmtiles version")
)

// Offsets of the fields following the magic and version byte.
const (
	counterFields = 8  // root offset .. tile contents count, 11 uint64
	flagFields    = 96 // clustered .. max zoom, 6 bytes
	boundsFields  = 102
	centerZoom    = 118
	centerFields  = 119
)

func (h *Header) counters() []*uint64 {
	return []*uint64{
		&h.RootOffset, &h.RootLength,
		&h.MetadataOffset, &h.MetadataLength,
		&h.LeafDirectoryOffset, &h.LeafDirectoryLength,
		&h.TileDataOffset, &h.TileDataLength,
		&h.AddressedTilesCount, &h.TileEntriesCount, &h.TileContentsCount,
	}
}

func (h *Header) positions() []*int32 {
	return []*int32{&h.MinLonE7, &h.MinLatE7, &h.MaxLonE7, &h.MaxLatE7}
}

// Encode returns the HeaderLength bytes of h.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderLength)
	copy(buf, magic)
	buf[len(magic)] = h.Version

	le := binary.LittleEndian
	for i, v := range h.counters() {
		le.PutUint64(buf[counterFields+8*i:], *v)
	}
	if h.Clustered {
		buf[flagFields] = 1
	}
	copy(buf[flagFields+1:], []byte{
		byte(h.InternalCompression), byte(h.TileCompression), byte(h.TileType), h.MinZoom, h.MaxZoom,
	})
	for i, v := range h.positions() {
		le.PutUint32(buf[boundsFields+4*i:], uint32(*v))
	}
	buf[centerZoom] = h.CenterZoom
	le.PutUint32(buf[centerFields:], uint32(h.CenterLonE7))
	le.PutUint32(buf[centerFields+4:], uint32(h.CenterLatE7))
	return buf
}

// DecodeHeader parses the first HeaderLength bytes of data.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, ErrInvalidHeader
	}
	h := &Header{Version: data[len(magic)]}
	if h.Version != Version3 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}

	le := binary.LittleEndian
	for i, v := range h.counters() {
		*v = le.Uint64(data[counterFields+8*i:])
	}
	h.Clustered = data[flagFields] == 1
	h.InternalCompression = Compression(data[flagFields+1])
	h.TileCompression = Compression(data[flagFields+2])
	h.TileType = TileType(data[flagFields+3])
	h.MinZoom, h.MaxZoom = data[flagFields+4], data[flagFields+5]
	for i, v := range h.positions() {
		*v = int32(le.Uint32(data[boundsFields+4*i:]))
	}
	h.CenterZoom = data[centerZoom]
	h.CenterLonE7 = int32(le.Uint32(data[centerFields:]))
	h.CenterLatE7 = int32(le.Uint32(data[centerFields+4:]))
	return h, nil
}
