package pixel

type convertConfig struct {
	keepAlpha bool
}

type Option func(*convertConfig)

// KeepAlpha preserves the source alpha channel. By default alpha is
// discarded and every converted pixel is opaque.
func KeepAlpha() Option {
	return func(c *convertConfig) { c.keepAlpha = true }
}

// Convert decodes width*height pixels of the given format from raw.
//
// raw must hold at least width*height*f.Stride() bytes; shorter buffers
// are not validated. An unknown format yields nil.
func Convert(raw []byte, width, height int, f Format, opts ...Option) []uint32 {
	return ConvertInto(make([]uint32, width*height), raw, f, opts...)
}

// ConvertInto converts len(dst) pixels from raw into dst and returns dst.
func ConvertInto(dst []uint32, raw []byte, f Format, opts ...Option) []uint32 {
	var config convertConfig
	for _, opt := range opts {
		opt(&config)
	}

	n := len(dst)
	switch f {
	case Monochrome:
		for i := range n {
			v := uint32(raw[i])
			dst[i] = Opaque | v<<16 | v<<8 | v
		}
	case MonochromeAlpha:
		for i := range n {
			v, a := uint32(raw[2*i]), uint32(raw[2*i+1])
			dst[i] = alpha(a, config.keepAlpha) | v<<16 | v<<8 | v
		}
	case RGB:
		for i := range n {
			j := 3 * i
			dst[i] = Opaque | uint32(raw[j])<<16 | uint32(raw[j+1])<<8 | uint32(raw[j+2])
		}
	case RGBA:
		for i := range n {
			j := 4 * i
			dst[i] = alpha(uint32(raw[j+3]), config.keepAlpha) |
				uint32(raw[j])<<16 | uint32(raw[j+1])<<8 | uint32(raw[j+2])
		}
	case ARGB:
		for i := range n {
			j := 4 * i
			dst[i] = alpha(uint32(raw[j]), config.keepAlpha) |
				uint32(raw[j+1])<<16 | uint32(raw[j+2])<<8 | uint32(raw[j+3])
		}
	default:
		return nil
	}
	return dst
}

func alpha(a uint32, keep bool) uint32 {
	if keep {
		return a << 24
	}
	return Opaque
}
