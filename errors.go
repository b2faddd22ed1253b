package linear

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// RegionError is the error type returned for all structural failures while
// reading or writing a region file. I/O errors from the underlying storage
// are passed through unchanged and are deliberately not part of this
// hierarchy.
type RegionError interface {
	error
	WithMessage(message string) RegionError
	Wrap(err error) RegionError
}

type baseRegionError string

const rootError = baseRegionError("")

// Format errors: the file doesn't look like a region file, or its index
// can't be trusted.
var ErrBadMagic = rootError.WithMessage("Bad region file signature")
var ErrUnsupportedVersion = rootError.WithMessage("Unsupported format version")
var ErrTruncated = rootError.WithMessage("Region file is truncated")
var ErrMalformedIndex = rootError.WithMessage("Malformed chunk index")
var ErrIndexOutOfBounds = rootError.WithMessage("Chunk index entry out of bounds")
var ErrRegionTooLarge = rootError.WithMessage("Region data too large to encode")

// Integrity errors: the structure parsed but the content is damaged.
var ErrChecksumMismatch = rootError.WithMessage("Payload checksum mismatch")

// Decompression errors: the compressed blob is corrupt.
var ErrDecompressionFailed = rootError.WithMessage("Corrupt compressed stream")

func (e baseRegionError) Error() string {
	return string(e)
}

func (e baseRegionError) WithMessage(message string) RegionError {
	return customRegionError{
		message:       message,
		originalError: e,
	}
}

func (e baseRegionError) Wrap(err error) RegionError {
	return customRegionError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customRegionError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a
// string describing the error.
func (e customRegionError) Error() string {
	return e.message
}

func (e customRegionError) WithMessage(message string) RegionError {
	return customRegionError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customRegionError) Wrap(err error) RegionError {
	return customRegionError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customRegionError) Unwrap() error {
	return e.originalError
}
