// Package codec compresses frames into JPEG payloads for the wire and
// decodes them back into RGB frames.
//
// Width and height travel inside the JPEG header; decoded frames always have
// media.Channels channels regardless of the JPEG colour model.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/zsiec/framecast/media"
)

// Quality bounds accepted by Encode. DefaultQuality matches what the game
// client has always sent.
const (
	MinQuality     = 0
	MaxQuality     = 100
	DefaultQuality = 90
)

var errEmptyPayload = errors.New("empty payload")

// Encode validates f and compresses it at the given quality.
func Encode(f *media.Frame, quality int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		encErr := &EncodeError{Err: err}
		if f != nil {
			encErr.Width, encErr.Height = f.Width, f.Height
		}
		return nil, encErr
	}
	if quality < MinQuality || quality > MaxQuality {
		return nil, &EncodeError{Width: f.Width, Height: f.Height, Err: ErrInvalidQuality}
	}

	var buf bytes.Buffer
	buf.Grow(f.Size() / 8)
	// image/jpeg clamps quality below 1 up to 1.
	if err := jpeg.Encode(&buf, f.RGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, &EncodeError{Width: f.Width, Height: f.Height, Err: err}
	}
	return buf.Bytes(), nil
}

// Decode decompresses a payload produced by Encode (or any baseline or
// progressive JPEG) into an RGB frame.
func Decode(payload []byte) (*media.Frame, error) {
	return DecodeLimit(payload, 0)
}

// DecodeLimit is Decode with a cap on width*height read from the JPEG
// header before any pixel memory is allocated. A compressed payload can
// expand by orders of magnitude, so the byte limit on the wire does not
// bound the decoded frame. maxPixels <= 0 disables the check.
func DecodeLimit(payload []byte, maxPixels int) (*media.Frame, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Err: errEmptyPayload}
	}
	if maxPixels > 0 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(payload))
		if err != nil {
			return nil, &DecodeError{Size: len(payload), Err: err}
		}
		if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
			return nil, &DecodeError{Size: len(payload), Err: fmt.Errorf("%w: %dx%d, limit %d pixels",
				ErrRasterTooLarge, cfg.Width, cfg.Height, maxPixels)}
		}
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &DecodeError{Size: len(payload), Err: err}
	}
	return media.FromImage(img), nil
}
