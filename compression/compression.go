// Package compression is the whole-blob compression boundary for region
// files. The codec core depends on exactly two capabilities -- compress a
// payload at a caller-chosen level and decompress a blob, failing on any
// malformed stream -- and this package supplies both on top of zstd.
//
// The level is a write-time knob only: it changes size and CPU cost, never
// the decompressed bytes. Two blobs produced at different levels from the
// same payload decompress to identical content.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	// MinLevel and MaxLevel bound the accepted compression levels. They use
	// the zstd scale; the library buckets them into its own speed tiers.
	MinLevel = 1
	MaxLevel = 22

	// DefaultLevel is a sensible middle ground for routine saves.
	DefaultLevel = 3

	// MaxPayloadSize caps how large a decompressed payload may claim to be.
	// A hostile blob a few bytes long can otherwise announce a multi-
	// gigabyte frame and exhaust memory before any content is validated.
	// 1 GiB is far beyond any real region payload.
	MaxPayloadSize = 1 << 30
)

// ValidLevel reports whether level is an accepted compression level.
func ValidLevel(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}

// Compress encodes payload as one zstd frame at the given level.
func Compress(payload []byte, level int) ([]byte, error) {
	if !ValidLevel(level) {
		return nil, fmt.Errorf(
			"compression level %d outside [%d, %d]", level, MinLevel, MaxLevel)
	}

	encoder, err := zstd.NewWriter(
		nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()

	return encoder.EncodeAll(payload, nil), nil
}

// Decompress decodes a zstd blob back to the raw payload. Any damage to the
// stream surfaces as an error; a partial payload is never returned. Blobs
// claiming more than MaxPayloadSize decompressed bytes are rejected.
func Decompress(blob []byte) ([]byte, error) {
	return decompressLimited(blob, MaxPayloadSize)
}

func decompressLimited(blob []byte, maxSize uint64) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSize))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	return decoder.DecodeAll(blob, nil)
}
