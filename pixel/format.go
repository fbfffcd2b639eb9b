// Package pixel converts raw interleaved pixel bytes into the canonical
// packed 0xAARRGGBB representation used by tile bitmaps.
package pixel

import (
	"errors"
	"fmt"
	"strings"
)

// Format identifies the byte layout of a decoded pixel buffer.
type Format uint8

const (
	FormatUnknown Format = iota
	Monochrome
	MonochromeAlpha
	RGB
	RGBA
	ARGB
)

var ErrUnknownFormat = errors.New("rastertiles: unknown pixel format")

var formatNames = [...]string{
	FormatUnknown:   "unknown",
	Monochrome:      "mono",
	MonochromeAlpha: "mono_alpha",
	RGB:             "rgb",
	RGBA:            "rgba",
	ARGB:            "argb",
}

// Stride returns the number of bytes per pixel, 0 for an unknown format.
func (f Format) Stride() int {
	switch f {
	case Monochrome:
		return 1
	case MonochromeAlpha:
		return 2
	case RGB:
		return 3
	case RGBA, ARGB:
		return 4
	}
	return 0
}

// HasAlpha reports whether the source layout carries an alpha channel.
func (f Format) HasAlpha() bool {
	return f == MonochromeAlpha || f == RGBA || f == ARGB
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

func ParseFormat(s string) (Format, error) {
	for i, name := range formatNames {
		if i > 0 && strings.EqualFold(name, s) {
			return Format(i), nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Pack builds a canonical pixel from 8-bit channels.
func Pack(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Unpack splits a canonical pixel into 8-bit channels.
func Unpack(p uint32) (a, r, g, b uint8) {
	return uint8(p >> 24), uint8(p >> 16), uint8(p >> 8), uint8(p)
}

// Opaque is the alpha mask of a fully opaque canonical pixel.
const Opaque uint32 = 0xFF000000
