package linear

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// The index codecs are purely structural: they translate between bytes and
// indexEntry values without knowing how large the chunk data area is.
// Bounds validation against the payload happens in the reader, which is the
// only place the payload length is known.

// decodeIndexLegacy parses the v1/v2 8-byte (length, timestamp) entries.
// Offsets are implicit: chunks are packed densely in slot order, so each
// entry's offset is the running total of the lengths before it. A negative
// length poisons every offset after it and is rejected outright.
func decodeIndexLegacy(table []byte) ([SlotCount]indexEntry, error) {
	var entries [SlotCount]indexEntry

	offset := uint64(0)
	for slot := 0; slot < SlotCount; slot++ {
		base := slot * 8
		length := int32(binary.BigEndian.Uint32(table[base : base+4]))
		timestamp := int32(binary.BigEndian.Uint32(table[base+4 : base+8]))

		if length < 0 {
			return entries, ErrMalformedIndex.WithMessage(
				fmt.Sprintf("slot %d has negative length %d", slot, length))
		}
		if offset > uint64(^uint32(0)) {
			return entries, ErrMalformedIndex.WithMessage(
				fmt.Sprintf("cumulative offset overflows at slot %d", slot))
		}

		entries[slot] = indexEntry{
			Offset:    uint32(offset),
			Length:    uint32(length),
			Timestamp: timestamp,
		}
		offset += uint64(length)
	}
	return entries, nil
}

// decodeIndexV3 parses the current 12-byte (offset, length, timestamp)
// entries. Offsets are stored explicitly and are not trusted here; an
// untrusted file may point them anywhere.
func decodeIndexV3(table []byte) ([SlotCount]indexEntry, error) {
	var entries [SlotCount]indexEntry

	for slot := 0; slot < SlotCount; slot++ {
		base := slot * 12
		entries[slot] = indexEntry{
			Offset:    binary.BigEndian.Uint32(table[base : base+4]),
			Length:    binary.BigEndian.Uint32(table[base+4 : base+8]),
			Timestamp: int32(binary.BigEndian.Uint32(table[base+8 : base+12])),
		}
	}
	return entries, nil
}

// encodeIndexV3 serializes the table in slot-index order. Callers must
// already have laid the entries out; non-overlap is the writer's guarantee,
// not enforced here.
func encodeIndexV3(entries *[SlotCount]indexEntry) []byte {
	buffer := make([]byte, SlotCount*12)
	writer := bytewriter.New(buffer)

	for slot := range entries {
		binary.Write(writer, binary.BigEndian, entries[slot].Offset)
		binary.Write(writer, binary.BigEndian, entries[slot].Length)
		binary.Write(writer, binary.BigEndian, entries[slot].Timestamp)
	}
	return buffer
}
