package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

// DefaultJPEGQuality is the quality used when raw pixels are compressed for the cache
const DefaultJPEGQuality = 99

// ErrImageTransform is returned when raw pixel data cannot be turned into an image
var ErrImageTransform = errors.New("codec: image transform failed")

// ImageMeta is the image description carried in the json half of an image packet
type ImageMeta struct {
	Width    int      `json:"Width"`
	Height   int      `json:"Height"`
	Encoding Encoding `json:"Encoding"`
}

// ParseImageMeta reads ImageMeta from a JSON header
func ParseImageMeta(doc string) (ImageMeta, error) {
	var meta ImageMeta
	if err := json.Unmarshal([]byte(doc), &meta); err != nil {
		return ImageMeta{}, fmt.Errorf("parse image meta: %w", err)
	}
	return meta, nil
}

// RGBAImage wraps a tightly packed RGBA32 buffer of the given size
func RGBAImage(width, height int, pix []byte) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrImageTransform, width, height)
	}
	if width > math.MaxInt/4/height {
		return nil, fmt.Errorf("%w: dimensions %dx%d too large", ErrImageTransform, width, height)
	}
	if want := width * height * 4; len(pix) != want {
		return nil, fmt.Errorf("%w: %dx%d rgba needs %d bytes, got %d",
			ErrImageTransform, width, height, want, len(pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pix)
	return img, nil
}

// EncodeJPEG compresses img at the given quality (DefaultJPEGQuality if quality <= 0)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: jpeg encode: %v", ErrImageTransform, err)
	}
	return buf.Bytes(), nil
}

// ReencodeImageIfNeeded compresses raw RGBA payloads to JPEG.
//
// When the header's encoding is Rgba the pixel data is replaced by a JPEG and the
// Encoding field is rewritten to Jpeg. Any other payload passes through unchanged.
// The input slice is never modified.
func ReencodeImageIfNeeded(doc string, data []byte, quality int) (string, []byte, error) {
	meta, err := ParseImageMeta(doc)
	if err != nil {
		return "", nil, err
	}
	if meta.Encoding.Top() != Rgba {
		return doc, data, nil
	}

	img, err := RGBAImage(meta.Width, meta.Height, data)
	if err != nil {
		return "", nil, err
	}
	compressed, err := EncodeJPEG(img, quality)
	if err != nil {
		return "", nil, err
	}
	out, err := ReplaceField(doc, EncodingField, Encoding{Jpeg}.String())
	if err != nil {
		return "", nil, fmt.Errorf("%w: rewrite encoding: %v", ErrImageTransform, err)
	}
	return out, compressed, nil
}
