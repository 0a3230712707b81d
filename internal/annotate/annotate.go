// Package annotate renders recognition results onto a copy of the query frame.
package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/facerec/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style controls how boxes and labels are drawn.
type Style struct {
	Color     color.Color
	Thickness int
	LabelGap  int // label baseline sits this many pixels above the box bottom
}

// DefaultStyle draws 4px green boxes with the label just inside the bottom edge.
var DefaultStyle = Style{
	Color:     color.RGBA{0, 200, 0, 255},
	Thickness: 4,
	LabelGap:  10,
}

// Draw returns a copy of img with every detection outlined and labelled.
// img itself is not modified.
func Draw(img image.Image, result types.DetectionResult) *image.RGBA {
	return DrawWithStyle(img, result, DefaultStyle)
}

// DrawWithStyle is Draw with a custom Style.
func DrawWithStyle(img image.Image, result types.DetectionResult, style Style) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	src := image.NewUniform(style.Color)
	for _, d := range result {
		rect(out, d.Box, style.Thickness, src)

		drawer := &font.Drawer{
			Dst:  out,
			Src:  src,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(d.Box.Left, d.Box.Bottom-style.LabelGap),
		}
		drawer.DrawString(string(d.Label))
	}
	return out
}

// rect outlines box with lines of the given thickness, growing inwards.
func rect(dst draw.Image, box types.FaceBox, thickness int, src image.Image) {
	r := image.Rect(box.Left, box.Top, box.Right, box.Bottom).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	t := max(thickness, 1)

	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Over)
	}
}
