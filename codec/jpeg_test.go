package codec

import (
	"errors"
	"testing"

	"github.com/zsiec/framecast/media"
)

// gradientFrame builds a smooth test raster; JPEG reproduces it closely at
// high quality, so pixel error stays small.
func gradientFrame(w, h int) *media.Frame {
	f := media.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, uint8(x*255/w), uint8(y*255/h), uint8((x+y)*255/(w+h)))
		}
	}
	return f
}

func meanAbsDiff(a, b *media.Frame) float64 {
	var sum int
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(a.Pix))
}

func TestRoundTripPreservesShape(t *testing.T) {
	t.Parallel()

	sizes := []struct{ w, h int }{
		{1, 1}, {7, 3}, {16, 16}, {100, 100}, {33, 250},
	}
	for _, sz := range sizes {
		for _, q := range []int{0, 50, 90, 100} {
			src := gradientFrame(sz.w, sz.h)
			payload, err := Encode(src, q)
			if err != nil {
				t.Fatalf("Encode(%dx%d, q=%d): %v", sz.w, sz.h, q, err)
			}
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode(%dx%d, q=%d): %v", sz.w, sz.h, q, err)
			}
			if got.Width != sz.w || got.Height != sz.h {
				t.Errorf("q=%d: size got %dx%d, want %dx%d", q, got.Width, got.Height, sz.w, sz.h)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("q=%d: decoded frame invalid: %v", q, err)
			}
		}
	}
}

func TestRoundTripSimilarityHighQuality(t *testing.T) {
	t.Parallel()

	src := gradientFrame(100, 100)
	for _, q := range []int{90, 95, 100} {
		payload, err := Encode(src, q)
		if err != nil {
			t.Fatalf("Encode q=%d: %v", q, err)
		}
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode q=%d: %v", q, err)
		}
		if d := meanAbsDiff(src, got); d > 6 {
			t.Errorf("q=%d: mean abs diff %.2f exceeds 6", q, d)
		}
	}
}

func TestHigherQualityCostsMoreBytes(t *testing.T) {
	t.Parallel()

	src := gradientFrame(64, 64)
	low, err := Encode(src, 10)
	if err != nil {
		t.Fatal(err)
	}
	high, err := Encode(src, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(high) <= len(low) {
		t.Errorf("q=100 payload %d bytes, q=10 payload %d bytes; want high > low", len(high), len(low))
	}
}

func TestEncodeRejectsMalformedFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame *media.Frame
		q     int
		want  error
	}{
		{name: "nil frame", frame: nil, q: 90, want: media.ErrInvalidFrame},
		{name: "buffer too short", frame: &media.Frame{Width: 10, Height: 10, Pix: make([]byte, 10)}, q: 90, want: media.ErrInvalidFrame},
		{name: "zero size", frame: &media.Frame{}, q: 90, want: media.ErrInvalidFrame},
		{name: "quality above range", frame: media.NewFrame(2, 2), q: 101, want: ErrInvalidQuality},
		{name: "quality below range", frame: media.NewFrame(2, 2), q: -1, want: ErrInvalidQuality},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Encode(tc.frame, tc.q)
			var encErr *EncodeError
			if !errors.As(err, &encErr) {
				t.Fatalf("Encode error = %v, want *EncodeError", err)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("Encode error = %v, want wrapping %v", err, tc.want)
			}
		})
	}
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	t.Parallel()

	good, err := Encode(gradientFrame(32, 32), 90)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "not a jpeg", payload: []byte("definitely not an image")},
		{name: "truncated", payload: good[:len(good)/2]},
		{name: "header only", payload: good[:2]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f, err := Decode(tc.payload)
			if f != nil {
				t.Error("Decode returned a frame for a corrupt payload")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("Decode error = %v, want *DecodeError", err)
			}
			if decErr.Size != len(tc.payload) {
				t.Errorf("DecodeError.Size = %d, want %d", decErr.Size, len(tc.payload))
			}
		})
	}
}

func TestDecodePreservesRowOrder(t *testing.T) {
	t.Parallel()

	// Top half white, bottom half black. Orientation must survive the trip.
	f := media.NewFrame(16, 16)
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			f.Set(x, y, 255, 255, 255)
		}
	}
	payload, err := Encode(f, 95)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	top, _, _ := got.At(8, 2)
	bottom, _, _ := got.At(8, 13)
	if top < 200 || bottom > 55 {
		t.Errorf("row order lost: top=%d bottom=%d", top, bottom)
	}
}

func TestDecodeLimitRejectsLargeRaster(t *testing.T) {
	t.Parallel()

	// A flat 400x300 frame compresses to a few KiB but decodes to 360 KB.
	payload, err := Encode(media.NewFrame(400, 300), 90)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name      string
		maxPixels int
		wantErr   bool
	}{
		{name: "no limit", maxPixels: 0},
		{name: "exact limit", maxPixels: 400 * 300},
		{name: "one pixel short", maxPixels: 400*300 - 1, wantErr: true},
		{name: "small limit", maxPixels: 100 * 100, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f, err := DecodeLimit(payload, tc.maxPixels)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("DecodeLimit: %v", err)
				}
				if f.Width != 400 || f.Height != 300 {
					t.Errorf("size: got %dx%d, want 400x300", f.Width, f.Height)
				}
				return
			}
			if f != nil {
				t.Error("DecodeLimit returned a frame over the limit")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) || !errors.Is(err, ErrRasterTooLarge) {
				t.Fatalf("DecodeLimit error = %v, want *DecodeError wrapping ErrRasterTooLarge", err)
			}
			if decErr.Size != len(payload) {
				t.Errorf("DecodeError.Size = %d, want %d", decErr.Size, len(payload))
			}
		})
	}
}

func TestDecodeLimitRejectsCorruptHeader(t *testing.T) {
	t.Parallel()

	var decErr *DecodeError
	if _, err := DecodeLimit([]byte{0xff, 0xd8, 0x00}, 1000); !errors.As(err, &decErr) {
		t.Fatalf("DecodeLimit error = %v, want *DecodeError", err)
	}
}
