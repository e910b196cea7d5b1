package codec

import (
	"errors"
	"fmt"
)

// ErrInvalidQuality is wrapped by EncodeError when the quality parameter is
// outside 0..100.
var ErrInvalidQuality = errors.New("codec: quality out of range")

// ErrRasterTooLarge is wrapped by DecodeError when the JPEG header declares
// more pixels than the decoder allows. Nothing beyond the header is decoded.
var ErrRasterTooLarge = errors.New("codec: raster exceeds pixel limit")

// EncodeError reports that a frame could not be compressed. The frame should
// be dropped; encoding is never retried.
type EncodeError struct {
	Width  int
	Height int
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: encode %dx%d: %v", e.Width, e.Height, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports a corrupt or truncated payload. The byte stream it came
// from can no longer be trusted.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %d-byte payload: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
