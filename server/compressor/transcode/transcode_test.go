package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(width, height int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: 128,
				A: alpha,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err, "output must be a JPEG")
	return img
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		width, height int
		wantW, wantH  int
	}{
		{name: "landscape", opts: DefaultOptions(), width: 4000, height: 3000, wantW: 1080, wantH: 810},
		{name: "portrait", opts: DefaultOptions(), width: 3000, height: 4000, wantW: 1080, wantH: 1440},
		{name: "rounds to nearest", opts: DefaultOptions(), width: 2000, height: 1001, wantW: 1080, wantH: 541},
		{name: "upscales narrow images", opts: DefaultOptions(), width: 540, height: 300, wantW: 1080, wantH: 600},
		{name: "keeps narrow images", opts: Options{TargetWidth: 1080, Quality: 80}, width: 540, height: 300, wantW: 540, wantH: 300},
		{name: "never collapses to zero", opts: DefaultOptions(), width: 100000, height: 10, wantW: 1080, wantH: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := New(tt.opts).TargetSize(tt.width, tt.height)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestTranscodeResizesToTargetWidth(t *testing.T) {
	out, err := New(DefaultOptions()).Transcode(encodeJPEG(t, gradient(2000, 1500, 0xff)))
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(t, 1080, img.Bounds().Dx())
	assert.Equal(t, 810, img.Bounds().Dy())
}

func TestTranscodePreservesContent(t *testing.T) {
	src := gradient(1600, 800, 0xff)
	out, err := New(DefaultOptions()).Transcode(encodePNG(t, src))
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	require.Equal(t, image.Pt(1080, 540), img.Bounds().Size())

	// Compare a few sample points against the source at the same relative
	// position; JPEG at quality 80 stays well within this tolerance on a
	// smooth gradient.
	for _, p := range []image.Point{{100, 100}, {540, 270}, {1000, 500}} {
		sx := p.X * 1600 / 1080
		sy := p.Y * 800 / 540
		want := src.NRGBAAt(sx, sy)
		r, g, b, _ := img.At(p.X, p.Y).RGBA()
		assert.InDelta(t, float64(want.R), float64(r>>8), 12, "red at %v", p)
		assert.InDelta(t, float64(want.G), float64(g>>8), 12, "green at %v", p)
		assert.InDelta(t, float64(want.B), float64(b>>8), 12, "blue at %v", p)
	}
}

func TestTranscodeFlattensAlpha(t *testing.T) {
	out, err := New(DefaultOptions()).Transcode(encodePNG(t, gradient(1200, 600, 0x40)))
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	_, _, _, a := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestTranscodeKeepsNarrowImagesWhenUpscalingDisabled(t *testing.T) {
	out, err := New(Options{TargetWidth: 1080, Quality: 80}).Transcode(encodeJPEG(t, gradient(640, 480, 0xff)))
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(t, image.Pt(640, 480), img.Bounds().Size())
}

func TestTranscodeRejectsCorruptInput(t *testing.T) {
	_, err := New(DefaultOptions()).Transcode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	valid := encodeJPEG(t, gradient(64, 64, 0xff))
	_, err = New(DefaultOptions()).Transcode(valid[:len(valid)/3])
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTranscodeIsDeterministic(t *testing.T) {
	input := encodeJPEG(t, gradient(1500, 1000, 0xff))
	tr := New(DefaultOptions())

	first, err := tr.Transcode(input)
	require.NoError(t, err)
	second, err := tr.Transcode(input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTranscodeChromaSubsampling(t *testing.T) {
	out, err := New(Options{TargetWidth: 64, Quality: DefaultQuality, AllowUpscale: true}).Transcode(encodePNG(t, gradient(200, 100, 0xff)))
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	ycbcr, ok := img.(*image.YCbCr)
	require.True(t, ok, "color output decodes as YCbCr, got %T", img)
	assert.Equal(t, image.YCbCrSubsampleRatio420, ycbcr.SubsampleRatio)
}
