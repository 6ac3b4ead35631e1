// Package capture grabs screen frames and turns them into raw RGBA image packets
// for the cache writer.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"github.com/poprelay/relaycache/internal/codec"
)

// ErrNoDisplay is returned when the requested display does not exist
var ErrNoDisplay = errors.New("no such display")

// Frame is the json half of a captured image packet
type Frame struct {
	Width      int            `json:"Width"`
	Height     int            `json:"Height"`
	Encoding   codec.Encoding `json:"Encoding"`
	Display    int            `json:"Display"`
	CapturedAt time.Time      `json:"CapturedAt"`
}

// Displays returns the number of active displays
func Displays() int {
	return screenshot.NumActiveDisplays()
}

// Grab captures display and scales it by factor (0..1]
func Grab(display int, factor float64) (*image.RGBA, error) {
	if display < 0 || display >= Displays() {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrNoDisplay, display, Displays())
	}
	bounds := screenshot.GetDisplayBounds(display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	return Scale(img, factor), nil
}

// Scale downscales src by factor. Factors outside (0,1) return src unchanged.
func Scale(src *image.RGBA, factor float64) *image.RGBA {
	if factor <= 0 || factor >= 1 {
		return src
	}
	srcBounds := src.Bounds()
	newW := max(1, int(float64(srcBounds.Dx())*factor))
	newH := max(1, int(float64(srcBounds.Dy())*factor))
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}

// Packet returns the json/pixel pair for img, tagged Rgba so the writer compresses it
func Packet(img *image.RGBA, display int, at time.Time) (string, []byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// tightly packed rows starting at the image origin
	pix := make([]byte, 0, w*h*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		pix = append(pix, img.Pix[off:off+w*4]...)
	}

	doc, err := json.Marshal(Frame{
		Width:      w,
		Height:     h,
		Encoding:   codec.Encoding{codec.Rgba},
		Display:    display,
		CapturedAt: at.UTC(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return string(doc), pix, nil
}
