// Package imaging bounds captured photos to a predictable size before any
// network transfer. Whatever the source format, output is always JPEG.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png" // register PNG decoding

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoding
)

const (
	// DefaultMaxDimension bounds the longer image edge.
	DefaultMaxDimension = 1280
	// DefaultQuality is the JPEG encoding quality.
	DefaultQuality = 85
)

// DecodeError reports a blob that could not be decoded as an image. The
// pipeline treats it as fatal for the capture, retrying cannot help.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Recompress decodes blob, scales it down so the longer edge does not exceed
// maxDimension and re-encodes as JPEG. Aspect ratio is preserved and images
// already within bounds are never upscaled.
func Recompress(blob []byte, maxDimension, quality int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	targetW, targetH := fitWithin(width, height, maxDimension)
	if targetW != width || targetH != height {
		scaled := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)
		src = scaled
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// Dimensions reports the pixel dimensions of an encoded image.
func Dimensions(blob []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return 0, 0, &DecodeError{Err: err}
	}
	return cfg.Width, cfg.Height, nil
}

func fitWithin(width, height, maxDimension int) (int, int) {
	longer := width
	if height > longer {
		longer = height
	}
	if longer <= maxDimension {
		return width, height
	}

	if width >= height {
		scaledH := height * maxDimension / width
		if scaledH < 1 {
			scaledH = 1
		}
		return maxDimension, scaledH
	}
	scaledW := width * maxDimension / height
	if scaledW < 1 {
		scaledW = 1
	}
	return scaledW, maxDimension
}
