package pmtiles

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"
)

var ErrInvalidDirectory = errors.New("rastertiles: invalid pmtiles directory")

// Entry addresses RunLength consecutive tiles starting at TileID that share
// one blob. RunLength 0 points at a leaf directory instead.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// end is the offset following the entry data.
func (e Entry) end() uint64 { return e.Offset + uint64(e.Length) }

// Directory is a list of entries sorted by TileID.
type Directory []Entry

// A directory is stored column by column: tile id deltas, run lengths,
// lengths, then offsets. An offset of 0 continues the previous entry,
// any other value is the offset plus one.
var columns = [...]struct {
	encode func(d Directory, i int) uint64
	decode func(d Directory, i int, v uint64)
}{
	{
		encode: func(d Directory, i int) uint64 {
			if i == 0 {
				return d[i].TileID
			}
			return d[i].TileID - d[i-1].TileID
		},
		decode: func(d Directory, i int, v uint64) {
			if i > 0 {
				v += d[i-1].TileID
			}
			d[i].TileID = v
		},
	},
	{
		encode: func(d Directory, i int) uint64 { return uint64(d[i].RunLength) },
		decode: func(d Directory, i int, v uint64) { d[i].RunLength = uint32(v) },
	},
	{
		encode: func(d Directory, i int) uint64 { return uint64(d[i].Length) },
		decode: func(d Directory, i int, v uint64) { d[i].Length = uint32(v) },
	},
	{
		encode: func(d Directory, i int) uint64 {
			if i > 0 && d[i].Offset == d[i-1].end() {
				return 0
			}
			return d[i].Offset + 1
		},
		decode: func(d Directory, i int, v uint64) {
			if v == 0 && i > 0 {
				d[i].Offset = d[i-1].end()
			} else {
				d[i].Offset = v - 1
			}
		},
	},
}

// Encode returns the uncompressed varint form of d.
func (d Directory) Encode() []byte {
	buf := binary.AppendUvarint(nil, uint64(len(d)))
	for _, col := range columns {
		for i := range d {
			buf = binary.AppendUvarint(buf, col.encode(d, i))
		}
	}
	return buf
}

func DecodeDirectory(data []byte) (Directory, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 {
		return nil, fmt.Errorf("%w: no entry count", ErrInvalidDirectory)
	}
	data = data[k:]
	// Every entry takes at least one byte per column.
	if n > uint64(len(data))/uint64(len(columns)) {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrInvalidDirectory, n, len(data))
	}

	d := make(Directory, n)
	for _, col := range columns {
		for i := range d {
			v, k := binary.Uvarint(data)
			if k <= 0 {
				return nil, fmt.Errorf("%w: truncated at entry %d", ErrInvalidDirectory, i)
			}
			data = data[k:]
			col.decode(d, i, v)
		}
	}
	return d, nil
}

// Compact merges consecutive tiles sharing a blob into runs, in place.
func (d Directory) Compact() Directory {
	if len(d) == 0 {
		return d
	}
	out := d[:1]
	for _, e := range d[1:] {
		last := &out[len(out)-1]
		if e.Offset == last.Offset && e.TileID == last.TileID+uint64(last.RunLength) {
			last.RunLength++
		} else {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entry covering tileID, or the leaf directory entry that
// may contain it.
func (d Directory) Find(tileID uint64) (Entry, bool) {
	i := sort.Search(len(d), func(i int) bool { return d[i].TileID > tileID })
	if i == 0 {
		return Entry{}, false
	}
	e := d[i-1]
	if e.RunLength == 0 || tileID < e.TileID+uint64(e.RunLength) {
		return e, true
	}
	return Entry{}, false
}

// minLeafEntries is the smallest leaf directory worth a separate read.
const minLeafEntries = 4096

// Build compresses d into a root directory of at most RootDirMaxLength
// bytes. When d does not fit, it is split into leaf directories of
// growing size until the root of leaf entries fits.
func (d Directory) Build(c Compression) (root, leaves []byte, err error) {
	if root, err = c.Compress(d.Encode()); err != nil || len(root) <= RootDirMaxLength {
		return root, nil, err
	}

	for leafEntries := minLeafEntries; ; leafEntries *= 2 {
		var index Directory
		leaves = leaves[:0]
		for chunk := range slices.Chunk(d, leafEntries) {
			leaf, err := c.Compress(chunk.Encode())
			if err != nil {
				return nil, nil, err
			}
			index = append(index, Entry{TileID: chunk[0].TileID, Offset: uint64(len(leaves)), Length: uint32(len(leaf))})
			leaves = append(leaves, leaf...)
		}
		if root, err = c.Compress(index.Encode()); err != nil {
			return nil, nil, err
		}
		if len(root) <= RootDirMaxLength {
			return root, leaves, nil
		}
	}
}
