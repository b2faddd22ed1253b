package linear

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// fileHeader is the decoded outer header. Field order matches the wire
// layout so it can be serialized with encoding/binary directly.
type fileHeader struct {
	Signature        int64
	Version          Version
	NewestTimestamp  int64
	CompressionLevel int8
	ChunkCount       int16
	CompressedLength int32
	DataHash         int64
}

// decodeHeader parses the leading HeaderSize bytes of a region file. It only
// validates what can be judged from the header alone: the signature and the
// version. Everything else is the reader's job.
func decodeHeader(data []byte) (fileHeader, error) {
	var header fileHeader

	if len(data) < HeaderSize {
		return header, ErrTruncated.WithMessage(
			fmt.Sprintf("need at least %d header bytes, got %d", HeaderSize, len(data)))
	}

	reader := bytes.NewReader(data[:HeaderSize])
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return header, ErrTruncated.Wrap(err)
	}

	if header.Signature != Signature {
		return header, ErrBadMagic.WithMessage(
			fmt.Sprintf("got signature %#016x, expected %#016x",
				uint64(header.Signature), signatureBits()))
	}
	if _, supported := versionCodecs[header.Version]; !supported {
		return header, ErrUnsupportedVersion.WithMessage(
			fmt.Sprintf("version %d not in supported set %v",
				header.Version, SupportedVersions()))
	}
	return header, nil
}

// encodeHeader serializes the header into exactly HeaderSize bytes.
func encodeHeader(header fileHeader) []byte {
	buffer := make([]byte, HeaderSize)
	writer := bytewriter.New(buffer)
	binary.Write(writer, binary.BigEndian, &header)
	return buffer
}
