package linear

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dargueta/linear/compression"
)

// Save serializes the region to CurrentVersion file bytes, compressing the
// payload at the given level. Present chunks are laid out densely in
// ascending slot order; absent slots contribute no bytes and no gaps. The
// level changes only the size of the result, never what it decodes to.
func Save(region *Region, level int) ([]byte, error) {
	var entries [SlotCount]indexEntry

	totalChunkBytes := uint64(0)
	for slot, chunk := range region.slots {
		if chunk == nil {
			continue
		}
		length := uint64(len(chunk.Data))
		if totalChunkBytes+length > math.MaxUint32 {
			return nil, ErrRegionTooLarge.WithMessage(fmt.Sprintf(
				"chunk data exceeds %d bytes at slot %d", uint64(math.MaxUint32), slot))
		}
		entries[slot] = indexEntry{
			Offset:    uint32(totalChunkBytes),
			Length:    uint32(length),
			Timestamp: chunk.Timestamp,
		}
		totalChunkBytes += length
	}

	table := encodeIndexV3(&entries)
	payload := make([]byte, 0, uint64(len(table))+totalChunkBytes)
	payload = append(payload, table...)
	for _, chunk := range region.slots {
		if chunk != nil {
			payload = append(payload, chunk.Data...)
		}
	}

	blob, err := compression.Compress(payload, level)
	if err != nil {
		return nil, err
	}
	if len(blob) > math.MaxInt32 {
		return nil, ErrRegionTooLarge.WithMessage(fmt.Sprintf(
			"compressed blob is %d bytes, length field holds at most %d",
			len(blob), math.MaxInt32))
	}

	header := fileHeader{
		Signature:        Signature,
		Version:          CurrentVersion,
		NewestTimestamp:  region.NewestTimestamp(),
		CompressionLevel: int8(level),
		ChunkCount:       int16(region.ChunkCount()),
		CompressedLength: int32(len(blob)),
		DataHash:         payloadHash(payload),
	}

	out := make([]byte, 0, HeaderSize+len(blob)+FooterSize)
	out = append(out, encodeHeader(header)...)
	out = append(out, blob...)
	var footer [FooterSize]byte
	binary.BigEndian.PutUint64(footer[:], signatureBits())
	out = append(out, footer[:]...)
	return out, nil
}

// SaveTo serializes the region and writes the bytes to the given sink.
func SaveTo(sink io.Writer, region *Region, level int) error {
	data, err := Save(region, level)
	if err != nil {
		return err
	}
	_, err = sink.Write(data)
	return err
}

// SaveFile atomically persists the region to path: the bytes go to a
// temporary sibling file first, which is synced and then renamed over the
// target. A crash at any point leaves either the old file or the new one at
// path, never a half-written hybrid. I/O errors propagate unchanged.
func SaveFile(path string, region *Region, level int) error {
	data, err := Save(region, level)
	if err != nil {
		return err
	}

	tempPath := path + ".wip"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err = file.Write(data); err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, path)
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
