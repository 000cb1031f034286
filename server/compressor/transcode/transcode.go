// Package transcode shrinks uploaded images: decode, resize to a fixed
// width with Lanczos resampling, drop alpha and re-encode as JPEG.
//
// Output chroma is subsampled 4:2:0, not 4:2:2 (2:1 horizontal only):
// image/jpeg, which imaging encodes through, has no 4:2:2 mode.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

var ErrDecode = errors.New("decode image")

const (
	DefaultTargetWidth = 1080
	DefaultQuality     = 80
	ContentType        = "image/jpeg"
)

type Options struct {
	TargetWidth int
	Quality     int
	// AllowUpscale resizes images narrower than TargetWidth up to it.
	// When false such images keep their original dimensions.
	AllowUpscale bool
}

func DefaultOptions() Options {
	return Options{TargetWidth: DefaultTargetWidth, Quality: DefaultQuality, AllowUpscale: true}
}

// Transcoder is safe for concurrent use; it holds no state beyond its options.
type Transcoder struct {
	opts Options
}

func New(opts Options) *Transcoder {
	if opts.TargetWidth <= 0 {
		opts.TargetWidth = DefaultTargetWidth
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Transcoder{opts: opts}
}

func (t *Transcoder) Transcode(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	width, height := t.TargetSize(bounds.Dx(), bounds.Dy())
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	rgb := imaging.AdjustFunc(resized, func(c color.NRGBA) color.NRGBA {
		c.A = 0xff
		return c
	})

	buf := bytes.NewBuffer(make([]byte, 0, len(rgb.Pix)/8))
	if err := imaging.Encode(buf, rgb, imaging.JPEG, imaging.JPEGQuality(t.opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// TargetSize keeps the aspect ratio: height = round(h / w * target).
func (t *Transcoder) TargetSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	if width <= t.opts.TargetWidth && !t.opts.AllowUpscale {
		return width, height
	}
	target := t.opts.TargetWidth
	scaled := int(math.Round(float64(height) / float64(width) * float64(target)))
	if scaled < 1 {
		scaled = 1
	}
	return target, scaled
}
