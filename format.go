// Package linear reads and writes "linear" region files: single-file binary
// containers holding a 32x32 grid of independently sized, opaque chunk
// payloads. Unlike sector-based region formats that compress each chunk on
// its own, the entire grid is compressed as one zstd stream, which makes the
// files considerably denser.
//
// The on-disk layout is a versioned contract. Every file starts with a fixed
// 32-byte big-endian header:
//
//	[signature int64][version int8][newestTimestamp int64]
//	[compressionLevel int8][chunkCount int16][compressedLength int32]
//	[dataHash int64]
//
// followed by the zstd blob and an 8-byte signature footer guarding against
// truncation. The blob decompresses to a fixed-size index table (one entry
// per slot, 1024 entries) followed by the present chunks' bytes. See the
// version table below for the index layouts.
package linear

// Signature is the magic constant opening and closing every region file.
const Signature int64 = -4323716122432332390

// signatureBits returns the signature reinterpreted as its unsigned bit
// pattern, for footer encoding and hex formatting. The constant is negative,
// so the conversion has to go through a variable.
func signatureBits() uint64 {
	signature := int64(Signature)
	return uint64(signature)
}

const (
	// HeaderSize is the byte width of the outer header, identical for every
	// supported version.
	HeaderSize = 32
	// FooterSize is the byte width of the trailing signature.
	FooterSize = 8
)

const (
	// GridSize is the width of the chunk grid in both dimensions.
	GridSize = 32
	// SlotCount is the number of chunk slots in a region.
	SlotCount = GridSize * GridSize
)

// Version identifies an on-disk format revision. The set of supported
// versions is closed; adding one means adding a row to versionCodecs.
type Version int8

const (
	// Version1 and Version2 are the legacy layouts written by older tools.
	// Both use 8-byte index entries holding only (length, timestamp), with
	// chunk offsets implied by dense concatenation in slot order, and leave
	// the data hash field zero. They decode identically and are read-only.
	Version1 Version = 1
	Version2 Version = 2

	// Version3 is the current layout: 12-byte index entries holding
	// (offset, length, timestamp), where offset is relative to the first
	// byte after the index table, and an enforced payload hash.
	Version3 Version = 3
)

// CurrentVersion is the version the writer emits.
const CurrentVersion = Version3

// indexEntry is the in-memory form of one index table slot, normalized to
// the v3 shape. Legacy decoding fills Offset from the running total.
type indexEntry struct {
	Offset    uint32
	Length    uint32
	Timestamp int32
}

// versionCodec binds a format version to its index table layout.
type versionCodec struct {
	entrySize   int
	decodeIndex func(table []byte) ([SlotCount]indexEntry, error)
	// encodeIndex is nil for read-only versions.
	encodeIndex func(entries *[SlotCount]indexEntry) []byte
	// dense marks the legacy layouts: offsets are implicit, so the index
	// must account for every chunk data byte with no trailing slack.
	dense bool
	// verifiesHash reports whether a nonzero dataHash field must match the
	// decompressed payload. The legacy versions predate hashing, so their
	// field is ignored.
	verifiesHash bool
}

func (c versionCodec) tableSize() int {
	return c.entrySize * SlotCount
}

var legacyCodec = versionCodec{
	entrySize:   8,
	decodeIndex: decodeIndexLegacy,
	dense:       true,
}

var versionCodecs = map[Version]versionCodec{
	Version1: legacyCodec,
	Version2: legacyCodec,
	Version3: {
		entrySize:    12,
		decodeIndex:  decodeIndexV3,
		encodeIndex:  encodeIndexV3,
		verifiesHash: true,
	},
}

// SupportedVersions returns the closed set of versions this package can read.
func SupportedVersions() []Version {
	return []Version{Version1, Version2, Version3}
}
