package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	// Decoders for the gallery and query frames. Any extension is accepted, so
	// register everything we can read.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode decodes raw image bytes and returns the registered format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return Decode(data)
}

// ChannelCount reports how many colour channels the decoded image carries.
// RGBA-family images that are fully opaque count as 3 since Go has no packed RGB type.
func ChannelCount(img image.Image) int {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16, *image.Alpha, *image.Alpha16:
		return 1
	case *image.YCbCr:
		return 3
	case *image.NYCbCrA, *image.CMYK:
		return 4
	case *image.RGBA:
		return opaqueChannels(m.Opaque())
	case *image.NRGBA:
		return opaqueChannels(m.Opaque())
	case *image.RGBA64:
		return opaqueChannels(m.Opaque())
	case *image.NRGBA64:
		return opaqueChannels(m.Opaque())
	case *image.Paletted:
		return opaqueChannels(m.Opaque())
	}

	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	}
	return 3
}

func opaqueChannels(opaque bool) int {
	if opaque {
		return 3
	}
	return 4
}

// ToRGB returns a copy of img anchored at (0,0) with the alpha channel dropped:
// colour values are kept un-premultiplied and every pixel is made opaque.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			srcRow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			dstRow := dst.Pix[dst.PixOffset(0, y):]
			copy(dstRow[:4*b.Dx()], srcRow[:4*b.Dx()])
			for x := 0; x < b.Dx(); x++ {
				dstRow[4*x+3] = 0xff
			}
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}

// ScaledSize returns the dimensions of a w×h image scaled by factor on both axes,
// rounded to the nearest pixel and never below 1.
func ScaledSize(w, h int, factor float64) (int, int) {
	sw := int(math.Round(float64(w) * factor))
	sh := int(math.Round(float64(h) * factor))
	return max(sw, 1), max(sh, 1)
}

// Downsample shrinks img by factor using bilinear resampling. A factor of 1 or more
// returns img unchanged.
func Downsample(img image.Image, factor float64) image.Image {
	if factor >= 1 {
		return img
	}
	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), factor)
	return imaging.Resize(img, w, h, imaging.Linear)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
