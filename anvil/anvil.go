// Package anvil reads and writes the classic sector-based region format
// that linear files are the denser alternative to. The layout: two 4 KiB
// header sectors (1024 location entries of packed sector offset and count,
// then 1024 timestamps), followed by chunk payloads aligned to 4 KiB
// sectors, each compressed on its own.
//
// Reading produces a [linear.Region] with the chunks' decompressed bytes,
// so converting between the two formats is a read in one package and a save
// in the other.
package anvil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/linear"
)

const (
	// SectorSize is the allocation unit of the format.
	SectorSize = 4096
	// headerSectors is how many leading sectors the two tables occupy.
	headerSectors = 2
	headerSize    = headerSectors * SectorSize

	// maxSectorOffset is the largest representable chunk position: the
	// location entry packs the offset into 24 bits.
	maxSectorOffset = 1<<24 - 1
	// maxSectorCount is the largest representable chunk size in sectors.
	maxSectorCount = 255
)

// Per-chunk compression schemes, as stored in the byte after each chunk's
// length field.
const (
	schemeGzip byte = 1
	schemeZlib byte = 2
	schemeNone byte = 3
)

// Open reads and converts the sector-based region file at path.
func Open(path string) (*linear.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load parses a sector-based region file from bytes.
func Load(data []byte) (*linear.Region, error) {
	return Read(bytesextra.NewReadWriteSeeker(data))
}

// Read parses a sector-based region file from a seekable stream. Every
// location entry is bounds-checked against the stream size before any seek,
// so a hostile header can never cause reads outside the file.
func Read(stream io.ReadSeeker) (*linear.Region, error) {
	fileSize, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if fileSize < headerSize {
		return nil, linear.ErrTruncated.WithMessage(fmt.Sprintf(
			"file is %d bytes, header alone needs %d", fileSize, headerSize))
	}
	if _, err = stream.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err = io.ReadFull(stream, header); err != nil {
		return nil, err
	}

	region := linear.NewRegion()
	for slot := 0; slot < linear.SlotCount; slot++ {
		location := binary.BigEndian.Uint32(header[slot*4 : slot*4+4])
		sectorOffset := int64(location >> 8)
		sectorCount := int64(location & 0xFF)
		if sectorCount == 0 {
			continue
		}
		timestamp := int32(binary.BigEndian.Uint32(
			header[SectorSize+slot*4 : SectorSize+slot*4+4]))

		x, z := slot%linear.GridSize, slot/linear.GridSize
		if sectorOffset < headerSectors ||
			(sectorOffset+sectorCount)*SectorSize > fileSize {
			return nil, linear.ErrIndexOutOfBounds.WithMessage(fmt.Sprintf(
				"slot (%d, %d) spans sectors [%d, %d) of a %d sector file",
				x, z, sectorOffset, sectorOffset+sectorCount, fileSize/SectorSize))
		}

		raw, err := readChunkPayload(stream, sectorOffset, sectorCount)
		if err != nil {
			return nil, linear.ErrMalformedIndex.Wrap(err).WithMessage(
				fmt.Sprintf("slot (%d, %d)", x, z))
		}
		decoded, err := decodeChunkPayload(raw)
		if err != nil {
			return nil, err
		}
		region.Set(x, z, decoded, timestamp)
	}
	return region, nil
}

func readChunkPayload(stream io.ReadSeeker, sectorOffset, sectorCount int64) ([]byte, error) {
	if _, err := stream.Seek(sectorOffset*SectorSize, io.SeekStart); err != nil {
		return nil, err
	}

	var lengthField [4]byte
	if _, err := io.ReadFull(stream, lengthField[:]); err != nil {
		return nil, err
	}
	length := int64(binary.BigEndian.Uint32(lengthField[:]))
	if length < 1 || length > sectorCount*SectorSize-4 {
		return nil, fmt.Errorf(
			"chunk length %d doesn't fit its %d allocated sectors", length, sectorCount)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(stream, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// decodeChunkPayload expands one chunk's stored bytes (scheme byte plus
// compressed data) to the raw payload.
func decodeChunkPayload(payload []byte) ([]byte, error) {
	scheme, data := payload[0], payload[1:]

	var stream io.ReadCloser
	var err error
	switch scheme {
	case schemeGzip:
		stream, err = gzip.NewReader(bytes.NewReader(data))
	case schemeZlib:
		stream, err = zlib.NewReader(bytes.NewReader(data))
	case schemeNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	default:
		return nil, linear.ErrMalformedIndex.WithMessage(
			fmt.Sprintf("unknown chunk compression scheme %d", scheme))
	}
	if err != nil {
		return nil, linear.ErrDecompressionFailed.Wrap(err)
	}
	defer stream.Close()

	decoded, err := io.ReadAll(stream)
	if err != nil {
		return nil, linear.ErrDecompressionFailed.Wrap(err)
	}
	return decoded, nil
}
