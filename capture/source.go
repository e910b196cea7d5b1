package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"github.com/zsiec/framecast/media"
)

// Source supplies one raw frame per call. Implementations return a fresh
// frame each time; the client hands it off and never reuses it.
type Source interface {
	Capture() (*media.Frame, error)
}

// PatternSource renders moving colour bars. Output depends only on the
// number of prior captures, so tests can predict it.
type PatternSource struct {
	Width  int
	Height int

	tick int
}

// NewPatternSource creates a test pattern of the given size.
func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{Width: width, Height: height}
}

var barColours = [...][3]uint8{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{16, 16, 16},
}

func (p *PatternSource) Capture() (*media.Frame, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("capture: pattern size %dx%d: %w", p.Width, p.Height, media.ErrInvalidFrame)
	}
	f := media.NewFrame(p.Width, p.Height)
	barWidth := max(p.Width/len(barColours), 1)
	shift := p.tick * 4
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c := barColours[((x+shift)/barWidth)%len(barColours)]
			f.Set(x, y, c[0], c[1], c[2])
		}
	}
	// A sweeping line makes vertical motion visible too.
	row := p.tick % p.Height
	for x := 0; x < p.Width; x++ {
		f.Set(x, row, 0, 0, 0)
	}
	p.tick++
	return f, nil
}

// ScreenSource grabs a desktop display and scales it to a fixed raster.
type ScreenSource struct {
	Display int
	// Width and Height are the output size. Zero keeps the native size.
	Width  int
	Height int
}

// ErrNoDisplay is returned when the requested display does not exist.
var ErrNoDisplay = errors.New("capture: no such display")

func (s *ScreenSource) Capture() (*media.Frame, error) {
	if n := screenshot.NumActiveDisplays(); s.Display < 0 || s.Display >= n {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoDisplay, s.Display, n)
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(s.Display))
	if err != nil {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}
	if s.Width > 0 && s.Height > 0 {
		return media.FromImage(Scale(img, s.Width, s.Height)), nil
	}
	return media.FromImage(img), nil
}

// Scale resamples img to width x height with bilinear filtering.
func Scale(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Flipped wraps a source whose rows arrive bottom-up, such as a GL read of
// the back buffer, and turns each frame top-down before it is encoded.
func Flipped(src Source) Source {
	return flipped{src}
}

type flipped struct {
	src Source
}

func (f flipped) Capture() (*media.Frame, error) {
	frame, err := f.src.Capture()
	if err != nil {
		return nil, err
	}
	frame.FlipVertical()
	return frame, nil
}
