package linear

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/linear/compression"
)

// DroppedSlot records one slot that lenient loading had to discard, and why.
type DroppedSlot struct {
	X      int
	Z      int
	Reason error
}

// SalvageReport describes what lenient loading could not recover. A nil
// report (or one with no findings) means the file was fully intact.
type SalvageReport struct {
	// Dropped lists the slots that were marked absent because their index
	// entries pointed outside the decompressed payload.
	Dropped []DroppedSlot
	// ChecksumFailed is true when the stored payload hash didn't match. The
	// hash covers the whole payload, so any slot may be silently damaged;
	// the per-slot bounds checks still apply.
	ChecksumFailed bool
	// Err aggregates every finding above.
	Err error
}

func (report *SalvageReport) note(err error) {
	report.Err = multierror.Append(report.Err, err)
}

// Clean reports whether loading salvaged nothing, i.e. the strict loader
// would have accepted the same bytes.
func (report *SalvageReport) Clean() bool {
	return !report.ChecksumFailed && len(report.Dropped) == 0 && report.Err == nil
}

// Open reads and strictly validates the region file at path. I/O errors
// propagate unchanged; structural failures are RegionError values.
func Open(path string) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load strictly parses a region file from bytes. Loading is all-or-nothing:
// any structural or integrity failure aborts without producing a container.
// Load does not retain data; the returned region owns its storage.
func Load(data []byte) (*Region, error) {
	region, _, err := load(data, false)
	return region, err
}

// LoadLenient parses a region file in best-effort mode for salvage tooling.
// Failures that strict mode treats as fatal -- a checksum mismatch, index
// entries pointing outside the payload, a lying chunk count -- drop only the
// affected slots (or become report findings) instead of aborting. Damage
// that makes the index itself unreadable is still fatal.
func LoadLenient(data []byte) (*Region, *SalvageReport, error) {
	return load(data, true)
}

func load(data []byte, lenient bool) (*Region, *SalvageReport, error) {
	header, err := decodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	codec := versionCodecs[header.Version]

	// The compressed length must account for the file exactly; anything else
	// means the file was cut short or has garbage appended.
	expectedSize := int64(HeaderSize) + int64(header.CompressedLength) + FooterSize
	if header.CompressedLength < 0 || expectedSize != int64(len(data)) {
		return nil, nil, ErrTruncated.WithMessage(fmt.Sprintf(
			"header claims %d compressed bytes, implying a %d byte file, got %d",
			header.CompressedLength, expectedSize, len(data)))
	}

	footer := int64(binary.BigEndian.Uint64(data[len(data)-FooterSize:]))
	if footer != Signature {
		return nil, nil, ErrBadMagic.WithMessage(fmt.Sprintf(
			"got footer signature %#016x, expected %#016x",
			uint64(footer), signatureBits()))
	}

	blob := data[HeaderSize : len(data)-FooterSize]
	payload, err := compression.Decompress(blob)
	if err != nil {
		return nil, nil, ErrDecompressionFailed.Wrap(err)
	}

	report := &SalvageReport{}

	if codec.verifiesHash && header.DataHash != 0 {
		if computed := payloadHash(payload); computed != header.DataHash {
			mismatch := ErrChecksumMismatch.WithMessage(fmt.Sprintf(
				"stored %#016x, computed %#016x",
				uint64(header.DataHash), uint64(computed)))
			if !lenient {
				return nil, nil, mismatch
			}
			report.ChecksumFailed = true
			report.note(mismatch)
		}
	}

	tableSize := codec.tableSize()
	if len(payload) < tableSize {
		return nil, nil, ErrTruncated.WithMessage(fmt.Sprintf(
			"payload holds %d bytes, index table alone needs %d",
			len(payload), tableSize))
	}

	entries, err := codec.decodeIndex(payload[:tableSize])
	if err != nil {
		return nil, nil, err
	}
	chunkData := payload[tableSize:]

	region := NewRegion()
	present := 0
	indexedBytes := uint64(0)
	for slot := range entries {
		entry := entries[slot]
		if entry.Length == 0 {
			continue
		}
		present++
		indexedBytes += uint64(entry.Length)

		x, z := slot%GridSize, slot/GridSize
		end := uint64(entry.Offset) + uint64(entry.Length)
		if end > uint64(len(chunkData)) {
			reason := ErrIndexOutOfBounds.WithMessage(fmt.Sprintf(
				"slot (%d, %d) spans [%d, %d) of a %d byte chunk data area",
				x, z, entry.Offset, end, len(chunkData)))
			if !lenient {
				return nil, nil, reason
			}
			report.Dropped = append(report.Dropped, DroppedSlot{X: x, Z: z, Reason: reason})
			report.note(reason)
			continue
		}

		// Full-capacity slice so appending to one chunk's buffer can never
		// bleed into its neighbor.
		region.slots[slot] = &Chunk{
			Data:      chunkData[entry.Offset:end:end],
			Timestamp: entry.Timestamp,
		}
	}

	// Legacy versions pack chunks densely with no trailing slack, so the
	// indexed total must account for the chunk data area exactly.
	if codec.dense && indexedBytes != uint64(len(chunkData)) {
		sizeErr := ErrMalformedIndex.WithMessage(fmt.Sprintf(
			"index accounts for %d chunk bytes, payload has %d",
			indexedBytes, len(chunkData)))
		if !lenient {
			return nil, nil, sizeErr
		}
		report.note(sizeErr)
	}

	if present != int(header.ChunkCount) {
		countErr := ErrMalformedIndex.WithMessage(fmt.Sprintf(
			"header claims %d chunks, index holds %d", header.ChunkCount, present))
		if !lenient {
			return nil, nil, countErr
		}
		report.note(countErr)
	}

	if !lenient {
		return region, nil, nil
	}
	return region, report, nil
}
