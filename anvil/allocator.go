package anvil

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
)

// sectorAllocator hands out runs of contiguous sectors for chunk payloads.
// The two header sectors are born allocated.
type sectorAllocator struct {
	used        bitmap.Bitmap
	totalUnits  int
	searchStart int
}

func newSectorAllocator(totalSectors int) *sectorAllocator {
	alloc := &sectorAllocator{
		used:        bitmap.New(totalSectors),
		totalUnits:  totalSectors,
		searchStart: headerSectors,
	}
	for i := 0; i < headerSectors; i++ {
		alloc.used.Set(i, true)
	}
	return alloc
}

// allocateRun finds the first free run of `count` sectors, marks it used,
// and returns its starting sector.
func (alloc *sectorAllocator) allocateRun(count int) (int, error) {
	for start := alloc.searchStart; start+count <= alloc.totalUnits; start++ {
		runLength := 0
		for runLength < count && !alloc.used.Get(start+runLength) {
			runLength++
		}
		if runLength < count {
			start += runLength
			continue
		}
		for i := 0; i < count; i++ {
			alloc.used.Set(start+i, true)
		}
		if start == alloc.searchStart {
			alloc.searchStart = start + count
		}
		return start, nil
	}
	return 0, fmt.Errorf("no free run of %d sectors in %d", count, alloc.totalUnits)
}
