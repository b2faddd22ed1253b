package linear

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/linear/compression"
)

// buildFileV3 assembles a syntactically valid v3 file from raw parts,
// bypassing Save so tests can lie in the index or the header. tweakHeader
// may be nil.
func buildFileV3(
	t *testing.T,
	entries *[SlotCount]indexEntry,
	chunkData []byte,
	tweakHeader func(*fileHeader),
) []byte {
	t.Helper()

	payload := append(encodeIndexV3(entries), chunkData...)
	blob, err := compression.Compress(payload, 3)
	require.NoError(t, err)

	chunkCount := int16(0)
	newest := int64(0)
	for _, entry := range entries {
		if entry.Length != 0 {
			chunkCount++
			if int64(entry.Timestamp) > newest {
				newest = int64(entry.Timestamp)
			}
		}
	}

	header := fileHeader{
		Signature:        Signature,
		Version:          Version3,
		NewestTimestamp:  newest,
		CompressionLevel: 3,
		ChunkCount:       chunkCount,
		CompressedLength: int32(len(blob)),
		DataHash:         payloadHash(payload),
	}
	if tweakHeader != nil {
		tweakHeader(&header)
	}

	data := append(encodeHeader(header), blob...)
	var footer [FooterSize]byte
	binary.BigEndian.PutUint64(footer[:], signatureBits())
	return append(data, footer[:]...)
}

// patchPayload decompresses a valid file's payload, lets the test mutate it,
// and reassembles the file with the original header's hash left untouched.
func patchPayload(t *testing.T, fileBytes []byte, mutate func(payload []byte)) []byte {
	t.Helper()

	blob := fileBytes[HeaderSize : len(fileBytes)-FooterSize]
	payload, err := compression.Decompress(blob)
	require.NoError(t, err)

	mutate(payload)

	newBlob, err := compression.Compress(payload, 3)
	require.NoError(t, err)

	patched := make([]byte, 0, HeaderSize+len(newBlob)+FooterSize)
	patched = append(patched, fileBytes[:HeaderSize]...)
	binary.BigEndian.PutUint32(patched[20:24], uint32(len(newBlob)))
	patched = append(patched, newBlob...)
	patched = append(patched, fileBytes[len(fileBytes)-FooterSize:]...)
	return patched
}

func assertRegionsEqual(t *testing.T, expected, actual *Region) {
	t.Helper()
	expected.Each(func(x, z int, chunk *Chunk) bool {
		got := actual.Get(x, z)
		if chunk == nil {
			assert.Nil(t, got, "slot (%d, %d) should be absent", x, z)
			return true
		}
		if !assert.NotNil(t, got, "slot (%d, %d) should be present", x, z) {
			return true
		}
		assert.Equal(t, chunk.Data, got.Data, "slot (%d, %d) bytes differ", x, z)
		assert.Equal(t, chunk.Timestamp, got.Timestamp, "slot (%d, %d) timestamp differs", x, z)
		return true
	})
}

func TestRoundTrip__ConcreteScenario(t *testing.T) {
	region := NewRegion()
	region.Set(0, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 1000)

	data, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	reopened, err := Load(data)
	require.NoError(t, err)

	chunk := reopened.Get(0, 0)
	require.NotNil(t, chunk)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, chunk.Data)
	assert.EqualValues(t, 1000, chunk.Timestamp)
	assert.Nil(t, reopened.Get(1, 0), "slot (1, 0) was never set")
}

func TestRoundTrip__ArbitrarySlotsAtEveryLevelTier(t *testing.T) {
	rng := rand.New(rand.NewSource(0x51EE9))

	region := NewRegion()
	for i := 0; i < 200; i++ {
		x, z := rng.Intn(GridSize), rng.Intn(GridSize)
		data := make([]byte, 1+rng.Intn(2000))
		rng.Read(data)
		region.Set(x, z, data, int32(rng.Intn(1_000_000)))
	}

	for _, level := range []int{compression.MinLevel, 3, 9, compression.MaxLevel} {
		data, err := Save(region, level)
		require.NoError(t, err, "save at level %d failed", level)

		reopened, err := Load(data)
		require.NoError(t, err, "reopen at level %d failed", level)
		assertRegionsEqual(t, region, reopened)
	}
}

func TestRoundTrip__FullCapacity(t *testing.T) {
	region := NewRegion()
	for z := 0; z < GridSize; z++ {
		for x := 0; x < GridSize; x++ {
			region.Set(x, z, []byte{byte(SlotIndex(x, z))}, int32(SlotIndex(x, z)))
		}
	}

	data, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	reopened, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, SlotCount, reopened.ChunkCount())
	assertRegionsEqual(t, region, reopened)
}

func TestRoundTrip__EmptyPayloadSlotStaysAbsent(t *testing.T) {
	// An index length of 0 encodes absence, so a zero-length payload has no
	// on-disk representation; Set normalizes it to a cleared slot, and the
	// writer's output must still satisfy its own strict reader.
	region := NewRegion()
	region.Set(0, 0, []byte{}, 1000)
	region.Set(1, 1, []byte{5}, 2000)

	data, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	reopened, err := Load(data)
	require.NoError(t, err, "the strict reader must accept the writer's own output")
	assert.Nil(t, reopened.Get(0, 0))
	require.NotNil(t, reopened.Get(1, 1))
	assert.Equal(t, 1, reopened.ChunkCount())
}

func TestRoundTrip__EmptyRegion(t *testing.T) {
	data, err := Save(NewRegion(), compression.DefaultLevel)
	require.NoError(t, err)

	reopened, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.ChunkCount())
	assert.EqualValues(t, 0, reopened.NewestTimestamp())
}

func TestLoad__Idempotent(t *testing.T) {
	region := NewRegion()
	region.Set(10, 20, []byte("payload bytes"), 777)
	data, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	first, err := Load(data)
	require.NoError(t, err)
	second, err := Load(data)
	require.NoError(t, err)
	assertRegionsEqual(t, first, second)
}

func TestSave__CompressionLevelIndependence(t *testing.T) {
	region := NewRegion()
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 64; i++ {
		data := make([]byte, 512)
		rng.Read(data)
		region.Set(i%GridSize, i/GridSize, data, int32(i))
	}

	fastest, err := Save(region, compression.MinLevel)
	require.NoError(t, err)
	densest, err := Save(region, compression.MaxLevel)
	require.NoError(t, err)

	fromFastest, err := Load(fastest)
	require.NoError(t, err)
	fromDensest, err := Load(densest)
	require.NoError(t, err)
	assertRegionsEqual(t, fromFastest, fromDensest)

	// The decompressed payloads themselves must be byte-identical; only the
	// compressed size may differ.
	payloadA, err := compression.Decompress(fastest[HeaderSize : len(fastest)-FooterSize])
	require.NoError(t, err)
	payloadB, err := compression.Decompress(densest[HeaderSize : len(densest)-FooterSize])
	require.NoError(t, err)
	assert.Equal(t, payloadA, payloadB)
}

func TestLoad__IndexOutOfBounds__Strict(t *testing.T) {
	var entries [SlotCount]indexEntry
	entries[SlotIndex(4, 4)] = indexEntry{Offset: 90, Length: 100, Timestamp: 1}
	data := buildFileV3(t, &entries, make([]byte, 100), nil)

	_, err := Load(data)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestLoad__IndexOutOfBounds__OffsetOverflow(t *testing.T) {
	// Offset+length wraps around uint32; the reader must do the arithmetic
	// wide enough to notice.
	var entries [SlotCount]indexEntry
	entries[0] = indexEntry{Offset: 0xFFFFFFF0, Length: 0x20, Timestamp: 1}
	data := buildFileV3(t, &entries, make([]byte, 64), nil)

	_, err := Load(data)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestLoad__IndexOutOfBounds__LenientSalvagesTheRest(t *testing.T) {
	var entries [SlotCount]indexEntry
	entries[SlotIndex(0, 0)] = indexEntry{Offset: 0, Length: 4, Timestamp: 10}
	entries[SlotIndex(9, 9)] = indexEntry{Offset: 4, Length: 1000, Timestamp: 20}
	entries[SlotIndex(31, 31)] = indexEntry{Offset: 4, Length: 4, Timestamp: 30}
	data := buildFileV3(t, &entries, []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)

	region, report, err := LoadLenient(data)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.False(t, report.Clean())
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, 9, report.Dropped[0].X)
	assert.Equal(t, 9, report.Dropped[0].Z)
	assert.ErrorIs(t, report.Dropped[0].Reason, ErrIndexOutOfBounds)

	assert.Nil(t, region.Get(9, 9), "offending slot must be absent")
	require.NotNil(t, region.Get(0, 0))
	assert.Equal(t, []byte{1, 2, 3, 4}, region.Get(0, 0).Data)
	require.NotNil(t, region.Get(31, 31))
	assert.Equal(t, []byte{5, 6, 7, 8}, region.Get(31, 31).Data)
}

func TestLoad__ChecksumMismatch__Strict(t *testing.T) {
	region := NewRegion()
	region.Set(3, 3, []byte{10, 20, 30, 40}, 5)
	valid, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	corrupted := patchPayload(t, valid, func(payload []byte) {
		payload[len(payload)-1] ^= 0xFF // inside chunk data
	})
	_, err = Load(corrupted)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	corrupted = patchPayload(t, valid, func(payload []byte) {
		payload[12] ^= 0x01 // inside the index table
	})
	_, err = Load(corrupted)
	assert.Error(t, err, "index corruption must not pass strict loading")
}

func TestLoad__ChecksumMismatch__LenientKeepsIntactSlots(t *testing.T) {
	region := NewRegion()
	region.Set(0, 0, []byte{1, 1, 1, 1}, 1)
	region.Set(1, 0, []byte{2, 2, 2, 2}, 2)
	valid, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	// Flip a byte of slot (1, 0)'s data. Structure stays intact, so lenient
	// mode keeps every slot and flags the checksum.
	corrupted := patchPayload(t, valid, func(payload []byte) {
		payload[len(payload)-1] ^= 0xFF
	})

	salvaged, report, err := LoadLenient(corrupted)
	require.NoError(t, err)
	assert.True(t, report.ChecksumFailed)
	assert.ErrorIs(t, report.Err, ErrChecksumMismatch)
	assert.Empty(t, report.Dropped)

	require.NotNil(t, salvaged.Get(0, 0))
	assert.Equal(t, []byte{1, 1, 1, 1}, salvaged.Get(0, 0).Data,
		"slot untouched by the corruption must survive intact")
}

func TestLoad__BadMagic(t *testing.T) {
	data, err := Save(NewRegion(), compression.DefaultLevel)
	require.NoError(t, err)
	data[0] ^= 0xFF

	_, err = Load(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoad__BadFooterSignature(t *testing.T) {
	data, err := Save(NewRegion(), compression.DefaultLevel)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF

	_, err = Load(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoad__TruncatedFile(t *testing.T) {
	data, err := Save(NewRegion(), compression.DefaultLevel)
	require.NoError(t, err)

	_, err = Load(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Load(data[:HeaderSize-5])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestLoad__CorruptCompressedStream(t *testing.T) {
	region := NewRegion()
	region.Set(0, 0, make([]byte, 500), 1)
	data, err := Save(region, compression.DefaultLevel)
	require.NoError(t, err)

	// Stomp on the middle of the zstd blob.
	for i := HeaderSize + 10; i < HeaderSize+20; i++ {
		data[i] ^= 0xA5
	}
	_, err = Load(data)
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}

func TestLoad__ChunkCountMismatch(t *testing.T) {
	var entries [SlotCount]indexEntry
	entries[0] = indexEntry{Offset: 0, Length: 2, Timestamp: 1}
	data := buildFileV3(t, &entries, []byte{1, 2}, func(header *fileHeader) {
		header.ChunkCount = 7
	})

	_, err := Load(data)
	assert.ErrorIs(t, err, ErrMalformedIndex)

	region, report, err := LoadLenient(data)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, 1, region.ChunkCount(), "lenient mode keeps the slots the index actually holds")
}

func TestSaveFile__RoundTripAndAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.linear")

	region := NewRegion()
	region.Set(2, 3, []byte("first version"), 100)
	require.NoError(t, SaveFile(path, region, compression.DefaultLevel))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("first version"), reopened.Get(2, 3).Data)

	// Overwrite with new content; the temp file must not linger.
	region.Set(2, 3, []byte("second version"), 200)
	require.NoError(t, SaveFile(path, region, compression.DefaultLevel))

	reopened, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second version"), reopened.Get(2, 3).Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no .wip file may remain after a successful save")
	assert.Equal(t, "r.0.0.linear", entries[0].Name())
}

func TestSaveFile__FailureLeavesExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.linear")

	region := NewRegion()
	region.Set(0, 0, []byte("durable"), 1)
	require.NoError(t, SaveFile(path, region, compression.DefaultLevel))

	// An invalid level fails before any bytes hit the disk.
	err := SaveFile(path, region, 9999)
	require.Error(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), reopened.Get(0, 0).Data)
}

// buildLegacyFile wraps a dense-layout payload in the outer framing older
// writers produce: the given version byte and a zero data hash.
func buildLegacyFile(
	t *testing.T, version Version, payload []byte, chunkCount int16, newest int64,
) []byte {
	t.Helper()

	blob, err := compression.Compress(payload, 3)
	require.NoError(t, err)

	header := fileHeader{
		Signature:        Signature,
		Version:          version,
		NewestTimestamp:  newest,
		CompressionLevel: 3,
		ChunkCount:       chunkCount,
		CompressedLength: int32(len(blob)),
	}
	data := append(encodeHeader(header), blob...)
	var footer [FooterSize]byte
	binary.BigEndian.PutUint64(footer[:], signatureBits())
	return append(data, footer[:]...)
}

// legacyDensePayload holds 3 bytes at (0, 0) and 2 bytes at (5, 1) in the
// 8-byte-entry layout shared by v1 and v2 files.
func legacyDensePayload() []byte {
	table := make([]byte, SlotCount*8)
	slotA, slotB := SlotIndex(0, 0), SlotIndex(5, 1)
	binary.BigEndian.PutUint32(table[slotA*8:], 3)
	binary.BigEndian.PutUint32(table[slotA*8+4:], 1111)
	binary.BigEndian.PutUint32(table[slotB*8:], 2)
	binary.BigEndian.PutUint32(table[slotB*8+4:], 2222)
	return append(table, 0xA, 0xB, 0xC, 0xD, 0xE)
}

func TestLoad__LegacyDenseLayout(t *testing.T) {
	// Older tools write the 8-byte (length, timestamp) entries under version
	// byte 1 or 2, with dense chunk data and no hash. Both must decode.
	for _, version := range []Version{Version1, Version2} {
		data := buildLegacyFile(t, version, legacyDensePayload(), 2, 2222)

		region, err := Load(data)
		require.NoError(t, err, "version %d file failed to load", version)
		require.NotNil(t, region.Get(0, 0))
		assert.Equal(t, []byte{0xA, 0xB, 0xC}, region.Get(0, 0).Data)
		assert.EqualValues(t, 1111, region.Get(0, 0).Timestamp)
		require.NotNil(t, region.Get(5, 1))
		assert.Equal(t, []byte{0xD, 0xE}, region.Get(5, 1).Data)
	}
}

func TestLoad__LegacyDenseLayout__NoTrailingSlack(t *testing.T) {
	// The dense layouts tolerate no slack after the last chunk.
	payload := append(legacyDensePayload(), 0xFF)
	for _, version := range []Version{Version1, Version2} {
		data := buildLegacyFile(t, version, payload, 2, 2222)

		_, err := Load(data)
		assert.ErrorIs(t, err, ErrMalformedIndex, "version %d", version)
	}
}
