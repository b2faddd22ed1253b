package linear

import "github.com/spaolacci/murmur3"

// payloadHash computes the integrity hash stored in the header's dataHash
// field: 64-bit murmur3 over the whole decompressed payload (index table
// plus chunk data area). A stored hash of 0 means "not hashed" -- legacy
// writers never filled the field in -- so a computed sum of literal 0 is
// stored as 1 to keep it distinguishable.
func payloadHash(payload []byte) int64 {
	sum := int64(murmur3.Sum64(payload))
	if sum == 0 {
		sum = 1
	}
	return sum
}
