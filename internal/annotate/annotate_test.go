package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/facerec/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestDraw(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 80))
	res := types.DetectionResult{{
		Box:   types.FaceBox{Top: 10, Right: 60, Bottom: 50, Left: 20},
		Label: "alice",
	}}

	out := Draw(src, res)

	green := color.RGBA{0, 200, 0, 255}
	assert.Equal(t, green, out.RGBAAt(20, 10), "top-left corner")
	assert.Equal(t, green, out.RGBAAt(59, 49), "bottom-right corner")
	assert.Equal(t, green, out.RGBAAt(40, 13), "inside top edge thickness")
	assert.Equal(t, color.RGBA{}, out.RGBAAt(40, 14), "just below top edge")
	assert.Equal(t, color.RGBA{}, out.RGBAAt(90, 70), "outside the box")

	// The source frame is left untouched
	assert.Equal(t, color.RGBA{}, src.RGBAAt(20, 10))
}

func TestDraw_LabelRendered(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	res := types.DetectionResult{{
		Box:   types.FaceBox{Top: 10, Right: 150, Bottom: 90, Left: 10},
		Label: "bob",
	}}

	out := DrawWithStyle(src, res, Style{Color: color.RGBA{255, 0, 0, 255}, Thickness: 1, LabelGap: 10})

	painted := 0
	for y := 68; y < 81; y++ {
		for x := 11; x < 40; x++ {
			if out.RGBAAt(x, y).R == 255 {
				painted++
			}
		}
	}
	assert.Greater(t, painted, 0, "label glyphs should be drawn above the bottom edge")
}

func TestDraw_BoxOutsideFrame(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	res := types.DetectionResult{{Box: types.FaceBox{Top: 50, Right: 90, Bottom: 90, Left: 50}, Label: "x"}}

	assert.NotPanics(t, func() { Draw(src, res) })
}
