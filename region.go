package linear

import "fmt"

// Chunk is one grid slot's payload: an opaque byte buffer and the epoch
// timestamp of its last modification. The codec never interprets Data;
// decoding its contents is the business of whatever consumes it.
type Chunk struct {
	Data      []byte
	Timestamp int32
}

// Region is the in-memory form of one region file: 1024 chunk slots
// addressed by (x, z) with 0 <= x,z < 32. A Region has no attachment to any
// file; persistence is an explicit snapshot via Save, never a side effect of
// mutation. It is not safe for concurrent mutation; each Region is owned by
// exactly one caller.
type Region struct {
	slots [SlotCount]*Chunk
}

// NewRegion returns a region with every slot absent.
func NewRegion() *Region {
	return &Region{}
}

// SlotIndex converts grid coordinates to a slot index in row-major order.
// It panics if either coordinate is outside [0, 32).
func SlotIndex(x, z int) int {
	if x < 0 || x >= GridSize || z < 0 || z >= GridSize {
		panic(fmt.Sprintf("chunk coordinates (%d, %d) outside [0, %d)", x, z, GridSize))
	}
	return x + z*GridSize
}

// Get returns the chunk at (x, z), or nil if the slot is absent. The
// returned chunk's Data is the region-owned buffer, not a copy; callers
// that need bytes outliving the region must copy them explicitly.
func (region *Region) Get(x, z int) *Chunk {
	return region.slots[SlotIndex(x, z)]
}

// Set stores a chunk at (x, z), replacing any previous occupant. The data
// slice is copied in so the region owns its storage and later mutation of
// the caller's slice can't break the recorded-length invariant.
//
// A zero-length payload is unrepresentable on disk (an index length of 0 is
// how absence is encoded), so setting empty data clears the slot instead.
func (region *Region) Set(x, z int, data []byte, timestamp int32) {
	if len(data) == 0 {
		region.Clear(x, z)
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	region.slots[SlotIndex(x, z)] = &Chunk{Data: owned, Timestamp: timestamp}
}

// Clear marks the slot at (x, z) absent.
func (region *Region) Clear(x, z int) {
	region.slots[SlotIndex(x, z)] = nil
}

// ChunkCount returns the number of present slots.
func (region *Region) ChunkCount() int {
	count := 0
	for _, chunk := range region.slots {
		if chunk != nil {
			count++
		}
	}
	return count
}

// NewestTimestamp returns the maximum timestamp over all present slots, or
// 0 if the region is empty.
func (region *Region) NewestTimestamp() int64 {
	newest := int64(0)
	for _, chunk := range region.slots {
		if chunk != nil && int64(chunk.Timestamp) > newest {
			newest = int64(chunk.Timestamp)
		}
	}
	return newest
}

// Each calls visit for all 1024 slots in row-major slot order, passing nil
// for absent slots. Iteration stops early if visit returns false. Each does
// not mutate the region, so re-running it yields the same sequence.
func (region *Region) Each(visit func(x, z int, chunk *Chunk) bool) {
	for slot, chunk := range region.slots {
		if !visit(slot%GridSize, slot/GridSize, chunk) {
			return
		}
	}
}
