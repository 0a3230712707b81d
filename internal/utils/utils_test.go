package utils

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestChannelCount(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		want int
	}{
		{"gray", image.NewGray(image.Rect(0, 0, 2, 2)), 1},
		{"gray16", image.NewGray16(image.Rect(0, 0, 2, 2)), 1},
		{"ycbcr", image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420), 3},
		{"opaque nrgba", solid(2, 2, color.NRGBA{10, 20, 30, 255}), 3},
		{"translucent nrgba", solid(2, 2, color.NRGBA{10, 20, 30, 128}), 4},
		{"cmyk", image.NewCMYK(image.Rect(0, 0, 2, 2)), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChannelCount(tt.img))
		})
	}
}

func TestToRGB_DropsAlpha(t *testing.T) {
	opaque := solid(4, 3, color.NRGBA{200, 100, 50, 255})
	withAlpha := solid(4, 3, color.NRGBA{200, 100, 50, 90})

	a := ToRGB(opaque)
	b := ToRGB(withAlpha)

	assert.Equal(t, a.Pix, b.Pix)
	assert.Equal(t, color.NRGBA{200, 100, 50, 255}, b.NRGBAAt(1, 1))
	// Source must not be modified
	assert.Equal(t, uint8(90), withAlpha.NRGBAAt(1, 1).A)
}

func TestToRGB_GenericPathAndOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	for y := 10; y < 12; y++ {
		for x := 10; x < 14; x++ {
			src.Set(x, y, color.RGBA{1, 2, 3, 255})
		}
	}

	dst := ToRGB(src)
	assert.Equal(t, image.Rect(0, 0, 4, 2), dst.Bounds())
	assert.Equal(t, color.NRGBA{1, 2, 3, 255}, dst.NRGBAAt(3, 1))
}

func TestScaledSize(t *testing.T) {
	w, h := ScaledSize(800, 600, 0.25)
	assert.Equal(t, 200, w)
	assert.Equal(t, 150, h)

	w, h = ScaledSize(3, 3, 0.1)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestDownsample(t *testing.T) {
	img := solid(800, 600, color.NRGBA{0, 0, 255, 255})

	small := Downsample(img, 0.25)
	assert.Equal(t, 200, small.Bounds().Dx())
	assert.Equal(t, 150, small.Bounds().Dy())

	same := Downsample(img, 1)
	assert.Same(t, img, same)
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(8, 8, color.NRGBA{255, 0, 0, 255}), nil))
	jpgPath := filepath.Join(dir, "alice.jpg")
	require.NoError(t, os.WriteFile(jpgPath, buf.Bytes(), 0644))

	img, format, err := DecodeFile(jpgPath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 8, img.Bounds().Dx())

	garbage := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	_, _, err = DecodeFile(garbage)
	assert.Error(t, err)

	_, _, err = DecodeFile(filepath.Join(dir, "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(solid(3, 2, color.NRGBA{1, 2, 3, 255}))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestShowError(t *testing.T) {
	var out bytes.Buffer
	errWriter = &out
	defer func() { errWriter = os.Stderr }()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cmd := NewSafeCommand(ctx, "true")
	cmd.Stderr.WriteString("Traceback: boom")

	ShowError("Worker crashed", errors.New("broken pipe"), cmd)

	assert.Contains(t, out.String(), "Worker crashed")
	assert.Contains(t, out.String(), "broken pipe")
	assert.Contains(t, out.String(), "Traceback: boom")
}
