package anvil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/linear"
)

// packedChunk is one present chunk ready for the sector layout: its stored
// payload (length field, scheme byte, zlib data) and the sectors it was
// assigned.
type packedChunk struct {
	slot         int
	payload      []byte
	sectorOffset int
	sectorCount  int
}

// packChunks compresses every present chunk and assigns sector runs in
// ascending slot order. Returns the layout and the total file size in
// sectors.
func packChunks(region *linear.Region) ([]packedChunk, int, error) {
	var packed []packedChunk

	totalSectors := headerSectors
	var compressErr error
	region.Each(func(x, z int, chunk *linear.Chunk) bool {
		if chunk == nil {
			return true
		}

		var buffer bytes.Buffer
		writer := zlib.NewWriter(&buffer)
		if _, err := writer.Write(chunk.Data); err != nil {
			compressErr = err
			return false
		}
		if err := writer.Close(); err != nil {
			compressErr = err
			return false
		}

		// Stored form: [length int32][scheme byte][data], length counts the
		// scheme byte.
		stored := make([]byte, 0, 5+buffer.Len())
		stored = binary.BigEndian.AppendUint32(stored, uint32(buffer.Len()+1))
		stored = append(stored, schemeZlib)
		stored = append(stored, buffer.Bytes()...)

		sectors := (len(stored) + SectorSize - 1) / SectorSize
		packed = append(packed, packedChunk{
			slot:        linear.SlotIndex(x, z),
			payload:     stored,
			sectorCount: sectors,
		})
		totalSectors += sectors
		return true
	})
	if compressErr != nil {
		return nil, 0, compressErr
	}

	allocator := newSectorAllocator(totalSectors)
	for i := range packed {
		chunk := &packed[i]
		if chunk.sectorCount > maxSectorCount {
			return nil, 0, linear.ErrRegionTooLarge.WithMessage(fmt.Sprintf(
				"slot %d needs %d sectors, entry holds at most %d",
				chunk.slot, chunk.sectorCount, maxSectorCount))
		}
		offset, err := allocator.allocateRun(chunk.sectorCount)
		if err != nil {
			return nil, 0, err
		}
		if offset > maxSectorOffset {
			return nil, 0, linear.ErrRegionTooLarge.WithMessage(fmt.Sprintf(
				"slot %d lands at sector %d, entry holds at most %d",
				chunk.slot, offset, maxSectorOffset))
		}
		chunk.sectorOffset = offset
	}
	return packed, totalSectors, nil
}

// Write lays the region out in sector format onto the stream. The stream
// must accommodate the full file size; use Save for an in-memory result.
func Write(stream io.WriteSeeker, region *linear.Region) error {
	packed, _, err := packChunks(region)
	if err != nil {
		return err
	}
	return emit(stream, region, packed)
}

func emit(stream io.WriteSeeker, region *linear.Region, packed []packedChunk) error {
	header := make([]byte, headerSize)
	for _, chunk := range packed {
		location := uint32(chunk.sectorOffset)<<8 | uint32(chunk.sectorCount)
		binary.BigEndian.PutUint32(header[chunk.slot*4:], location)
	}
	region.Each(func(x, z int, chunk *linear.Chunk) bool {
		if chunk != nil {
			slot := linear.SlotIndex(x, z)
			binary.BigEndian.PutUint32(
				header[SectorSize+slot*4:], uint32(chunk.Timestamp))
		}
		return true
	})

	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := stream.Write(header); err != nil {
		return err
	}

	for _, chunk := range packed {
		if _, err := stream.Seek(int64(chunk.sectorOffset)*SectorSize, io.SeekStart); err != nil {
			return err
		}
		if _, err := stream.Write(chunk.payload); err != nil {
			return err
		}
		// Pad the final sector so the file is sector-aligned.
		slack := chunk.sectorCount*SectorSize - len(chunk.payload)
		if slack > 0 {
			if _, err := stream.Write(make([]byte, slack)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save serializes the region to sector-format bytes.
func Save(region *linear.Region) ([]byte, error) {
	packed, totalSectors, err := packChunks(region)
	if err != nil {
		return nil, err
	}

	data := make([]byte, totalSectors*SectorSize)
	if err := emit(bytesextra.NewReadWriteSeeker(data), region, packed); err != nil {
		return nil, err
	}
	return data, nil
}

// SaveFile atomically persists the region in sector format, with the same
// temp-file-then-rename discipline as [linear.SaveFile].
func SaveFile(path string, region *linear.Region) error {
	data, err := Save(region)
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
