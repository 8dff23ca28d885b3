package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression names accepted in sink configuration
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
)

// Compressor zstd-compresses whole payloads. Encoders and decoders are
// pooled; a Compressor is safe for concurrent use.
type Compressor struct {
	level    zstd.EncoderLevel
	encoders sync.Pool
	decoders sync.Pool
}

// NewCompressor maps level 1-4 onto zstd speed presets; anything else is
// the fastest preset.
func NewCompressor(level int) *Compressor {
	return &Compressor{level: zstdLevel(level)}
}

// Level returns the zstd preset in use
func (c *Compressor) Level() zstd.EncoderLevel {
	return c.level
}

// Compress returns the zstd frame for data
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	enc, ok := c.encoders.Get().(*zstd.Encoder)
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
	}
	defer c.encoders.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+16)), nil
}

// Decompress reverses Compress
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	dec, ok := c.decoders.Get().(*zstd.Decoder)
	if !ok {
		var err error
		dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
	}
	defer c.decoders.Put(dec)

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch level {
	case 2:
		return zstd.SpeedDefault
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedFastest
	}
}
